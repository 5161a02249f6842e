package identity

import (
	"errors"
	"fmt"
)

// ErrorDetail is one entry of a provider's structured error list.
type ErrorDetail struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	LongMessage string `json:"long_message,omitempty"`
}

// Error is a rejected provider call. Errors may be empty when the provider did
// not return a structured body.
type Error struct {
	StatusCode int           `json:"-"`
	Errors     []ErrorDetail `json:"errors"`
}

func (e *Error) Error() string {
	msg := "request rejected"
	if len(e.Errors) > 0 {
		msg = e.Errors[0].Message
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("identity: %s (status %d)", msg, e.StatusCode)
	}
	return fmt.Sprintf("identity: %s", msg)
}

// NewError builds a single-entry provider error.
func NewError(status int, code, message string) *Error {
	return &Error{
		StatusCode: status,
		Errors:     []ErrorDetail{{Code: code, Message: message}},
	}
}

// FirstMessage returns the first structured message carried by err, if any.
func FirstMessage(err error) (string, bool) {
	var pe *Error
	if !errors.As(err, &pe) || len(pe.Errors) == 0 {
		return "", false
	}
	if pe.Errors[0].Message == "" {
		return "", false
	}
	return pe.Errors[0].Message, true
}

// HasCode reports whether err is a provider error carrying the given code.
func HasCode(err error, code string) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	for _, d := range pe.Errors {
		if d.Code == code {
			return true
		}
	}
	return false
}

// Error codes shared by the provider implementations.
const (
	CodeIdentifierExists = "form_identifier_exists"
	CodePasswordInvalid  = "form_password_length_too_short"
	CodeIncorrectCode    = "form_code_incorrect"
	CodeVerificationGone = "verification_expired"
	CodeSessionExists    = "session_exists"
	CodeNoSignUp         = "sign_up_missing"
	CodeSessionNotFound  = "resource_not_found"
	CodeOAuthFailed      = "oauth_callback_failed"
)
