package application

import (
	"errors"
	"fmt"
)

// Kind classifies an AppError; the HTTP layer maps each kind to one status code.
type Kind string

const (
	KindValidation     Kind = "ValidationError"
	KindAuthentication Kind = "AuthenticationError"
	KindAuthorization  Kind = "AuthorizationError"
	KindNotFound       Kind = "NotFoundError"
	KindConflict       Kind = "ConflictError"
	KindInternal       Kind = "InternalError"
)

// AppError is returned by every Service operation that fails.
type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewValidation(message string) *AppError {
	return &AppError{Kind: KindValidation, Message: message}
}

func NewAuthentication(message string) *AppError {
	return &AppError{Kind: KindAuthentication, Message: message}
}

func NewAuthorization(message string) *AppError {
	return &AppError{Kind: KindAuthorization, Message: message}
}

func NewNotFound(message string) *AppError {
	return &AppError{Kind: KindNotFound, Message: message}
}

func NewConflict(message string) *AppError {
	return &AppError{Kind: KindConflict, Message: message}
}

func NewInternal(message string, err error) *AppError {
	return &AppError{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindInternal for anything that is not an AppError.
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Common messages. Login failures never say which half of the credentials was wrong.
const (
	msgInvalidCredentials = "no active account found with the given credentials"
	msgUserExists         = "user with this email already exists"
	msgUsernameTaken      = "user with this username already exists"
	msgUserNotFound       = "user not found"
	msgNotAdmin           = "you do not have permission to perform this action"
	msgInvalidToken       = "token is invalid or expired"
	msgNoRevoker          = "refresh token store is not configured"
)
