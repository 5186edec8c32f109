package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mailtpl "github.com/oksasatya/user-accounts-api/pkg/mailer/templates"
)

// ErrPermanent marks a job that would fail the same way on every retry.
var ErrPermanent = errors.New("permanent email job failure")

// DecodeJob parses a queued message body.
func DecodeJob(body []byte) (EmailJob, error) {
	var job EmailJob
	if err := json.Unmarshal(body, &job); err != nil {
		return EmailJob{}, fmt.Errorf("%w: decode: %v", ErrPermanent, err)
	}
	if strings.TrimSpace(job.To) == "" {
		return EmailJob{}, fmt.Errorf("%w: missing recipient", ErrPermanent)
	}
	return job, nil
}

// Deliver renders job when it names a template and hands it to s.
// Render failures wrap ErrPermanent; send failures are returned as-is.
func Deliver(ctx context.Context, s Sender, job EmailJob) error {
	subject, text, html := job.Subject, job.Text, job.HTML
	if job.Template != "" {
		var err error
		subject, text, html, err = mailtpl.Render(job.Template, job.Data)
		if err != nil {
			return fmt.Errorf("%w: render %s: %v", ErrPermanent, job.Template, err)
		}
	}
	if subject == "" || (text == "" && html == "") {
		return fmt.Errorf("%w: empty message", ErrPermanent)
	}
	return s.Send(ctx, job.To, subject, text, html)
}
