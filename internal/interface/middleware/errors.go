package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/oksasatya/user-accounts-api/internal/application"
	"github.com/oksasatya/user-accounts-api/pkg/response"
)

// messageFor hides internal error details from clients.
func messageFor(err error) (string, string) {
	var ae *application.AppError
	if errors.As(err, &ae) && ae.Kind != application.KindInternal {
		return ae.Message, string(ae.Kind)
	}
	return "internal server error", string(application.KindInternal)
}

// WriteError renders err as a JSON error envelope.
func WriteError(c *gin.Context, err error) {
	msg, kind := messageFor(err)
	response.Error[any](c, StatusFor(err), msg, kind)
}

// AbortWithError renders err and stops the handler chain.
func AbortWithError(c *gin.Context, err error) {
	msg, kind := messageFor(err)
	response.Abort(c, StatusFor(err), msg, kind)
}
