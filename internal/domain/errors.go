package domain

import "errors"

var (
	// Validation errors
	ErrMissingField     = errors.New("missing required field")
	ErrPasswordTooShort = errors.New("password too short")
	ErrMissingCode      = errors.New("missing verification code")

	// Flow errors
	ErrNotReady                = errors.New("identity client not ready")
	ErrBusy                    = errors.New("another request is in progress")
	ErrNotAwaitingVerification = errors.New("no registration awaiting verification")
	ErrVerificationPending     = errors.New("registration already awaiting verification")
	ErrIncompleteVerification  = errors.New("verification incomplete")
	ErrSessionActivationFailed = errors.New("session activation failed")

	// Provider errors
	ErrProviderNotFound      = errors.New("provider not found")
	ErrDuplicateProvider     = errors.New("duplicate provider registration")
	ErrUnsupportedProvider   = errors.New("unsupported OAuth provider")
	ErrProviderExchange      = errors.New("provider exchange failed")
	ErrProviderUserFetch     = errors.New("failed to fetch user from provider")
	ErrMissingProviderParams = errors.New("missing required provider parameters")

	// State token errors
	ErrInvalidState   = errors.New("invalid state token")
	ErrExpiredState   = errors.New("expired state token")
	ErrMalformedState = errors.New("malformed state token")

	// Visitor cookie errors
	ErrInvalidCookie = errors.New("invalid visitor cookie")
	ErrExpiredCookie = errors.New("expired visitor cookie")

	// Config errors
	ErrMissingConfig = errors.New("missing required configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ValidationError reports a draft that failed local validation. Field is empty
// for errors that are not tied to a single input.
type ValidationError struct {
	Field string
	Err   error
	Msg   string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Unwrap() error { return e.Err }
