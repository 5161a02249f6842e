package registration

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/containr/signup/internal/domain"
	"github.com/containr/signup/internal/identity"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "first structured message",
			err: &identity.Error{Errors: []identity.ErrorDetail{
				{Code: "a", Message: "first"},
				{Code: "b", Message: "second"},
			}},
			want: "first",
		},
		{
			name: "wrapped structured message",
			err:  fmt.Errorf("create: %w", identity.NewError(422, identity.CodePasswordInvalid, "Password too weak")),
			want: "Password too weak",
		},
		{
			name: "empty structured list",
			err:  &identity.Error{StatusCode: 500},
			want: FallbackSignup,
		},
		{
			name: "empty structured message",
			err:  identity.NewError(500, "x", ""),
			want: FallbackSignup,
		},
		{
			name: "validation",
			err:  &domain.ValidationError{Field: "email", Err: domain.ErrMissingField, Msg: "Email is required"},
			want: "Email is required",
		},
		{
			name: "incomplete",
			err:  fmt.Errorf("%w: status %q", domain.ErrIncompleteVerification, "abandoned"),
			want: "Verification incomplete. Please try again.",
		},
		{
			name: "no token",
			err:  domain.ErrSessionActivationFailed,
			want: "Session was set but no token or user ID found.",
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: FallbackSignup,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err, FallbackSignup))
		})
	}
}

func TestMessage(t *testing.T) {
	assert.Empty(t, Message(nil))

	err := fail("verify", FallbackVerification, errors.New("boom"))
	assert.Equal(t, FallbackVerification, Message(err))
	assert.Equal(t, "verify: boom", err.Error())

	assert.Equal(t, FallbackSignup, Message(errors.New("unwrapped")))
}
