package registration

import (
	"errors"

	"github.com/containr/signup/internal/domain"
	"github.com/containr/signup/internal/identity"
)

// Fallback messages shown when a failure carries nothing more specific.
const (
	FallbackSignup       = "Signup failed"
	FallbackVerification = "Verification failed. Please try again."
	FallbackOAuth        = "Google sign-in failed. Please try again."
	FallbackCallback     = "Sign-in could not be completed. Please try again."
)

// Notices shown after a successful step.
const (
	NoticeCodeSent    = "Verification code sent to your email."
	NoticeSignedUp    = "Signup successful!"
	NoticeSignedInSSO = "Signed in successfully."
)

// Failure is a failed registration step with the one-line message to show
// the visitor.
type Failure struct {
	Op      string
	Message string
	Err     error
}

func (f *Failure) Error() string { return f.Op + ": " + f.Err.Error() }

func (f *Failure) Unwrap() error { return f.Err }

// Message returns the text to surface for an error returned by a Flow.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Message
	}
	return UserMessage(err, FallbackSignup)
}

// UserMessage picks the message for err: the provider's first structured
// message, then a message for our own error kinds, then fallback.
func UserMessage(err error, fallback string) string {
	if msg, ok := identity.FirstMessage(err); ok {
		return msg
	}

	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve.Msg
	}

	switch {
	case errors.Is(err, domain.ErrIncompleteVerification):
		return "Verification incomplete. Please try again."
	case errors.Is(err, domain.ErrSessionActivationFailed):
		return "Session was set but no token or user ID found."
	case errors.Is(err, domain.ErrBusy):
		return "Please wait for the current request to finish."
	case errors.Is(err, domain.ErrNotReady):
		return "The sign-up service is still loading. Please try again."
	case errors.Is(err, domain.ErrNotAwaitingVerification):
		return "Please sign up before entering a verification code."
	case errors.Is(err, domain.ErrVerificationPending):
		return "Please enter the verification code sent to your email."
	case errors.Is(err, domain.ErrUnsupportedProvider):
		return "That sign-in provider is not available."
	}
	return fallback
}

func fail(op, fallback string, err error) error {
	return &Failure{Op: op, Message: UserMessage(err, fallback), Err: err}
}
