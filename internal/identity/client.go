package identity

import (
	"context"

	"github.com/containr/signup/internal/domain"
)

// Client is one visitor's handle on the identity provider. Implementations keep
// the provider-side state of that visitor (pending sign-up, active session)
// between calls, so a Client must not be shared across visitors.
type Client interface {
	// Ready reports whether the client can issue provider calls.
	Ready() bool

	// ActiveSession returns the visitor's active session, or nil if none.
	ActiveSession(ctx context.Context) (*domain.Session, error)

	// SignOut ends the visitor's session. Ending an absent session is not an error.
	SignOut(ctx context.Context) error

	// CreateIdentity starts a sign-up for the given credentials.
	CreateIdentity(ctx context.Context, email, password string) error

	// PrepareEmailCode asks the provider to email a one-time code for the
	// pending sign-up.
	PrepareEmailCode(ctx context.Context) error

	// AttemptEmailCode confirms the one-time code.
	AttemptEmailCode(ctx context.Context, code string) (*domain.Verification, error)

	// SetActive makes the given session the visitor's active session.
	SetActive(ctx context.Context, sessionID string) error

	// Token returns an access token for the active session, or "" if none.
	Token(ctx context.Context) (string, error)

	// BeginOAuth starts a redirect handshake and returns the URL to send the
	// visitor to.
	BeginOAuth(ctx context.Context, req domain.OAuthRequest) (string, error)

	// CompleteOAuth inspects the callback query parameters once the provider
	// has sent the visitor back.
	CompleteOAuth(ctx context.Context, params map[string]string) (*domain.OAuthResult, error)
}

// ChallengeResetter is implemented by clients that keep anti-bot challenge
// state which must be cleared before an OAuth redirect.
type ChallengeResetter interface {
	ResetChallenge(ctx context.Context) error
}

// Factory creates a fresh Client for a new visitor.
type Factory interface {
	NewClient() Client
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func() Client

func (f FactoryFunc) NewClient() Client { return f() }
