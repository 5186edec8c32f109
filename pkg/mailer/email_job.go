package mailer

// Template names understood by the email worker.
const (
	TemplateWelcome = "welcome"
)

// EmailJob is the JSON payload put on the RabbitMQ queue for sending email.
// Either Template (+Data) or Subject/Text/HTML is set.
type EmailJob struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject,omitempty"`
	Text     string         `json:"text,omitempty"`
	HTML     string         `json:"html,omitempty"`
	Template string         `json:"template,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// NewWelcomeJob builds the job sent after a successful registration.
func NewWelcomeJob(appName, to, username, name string) EmailJob {
	return EmailJob{
		To:       to,
		Template: TemplateWelcome,
		Data: map[string]any{
			"AppName":  appName,
			"Email":    to,
			"Username": username,
			"Name":     name,
		},
	}
}
