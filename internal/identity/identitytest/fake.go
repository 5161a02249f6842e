// Package identitytest provides a scripted identity.Client for tests.
package identitytest

import (
	"context"
	"sync"

	"github.com/containr/signup/internal/domain"
	"github.com/containr/signup/internal/identity"
)

// Method names used as keys for Fail and Calls.
const (
	ActiveSession    = "ActiveSession"
	SignOut          = "SignOut"
	CreateIdentity   = "CreateIdentity"
	PrepareEmailCode = "PrepareEmailCode"
	AttemptEmailCode = "AttemptEmailCode"
	SetActive        = "SetActive"
	Token            = "Token"
	BeginOAuth       = "BeginOAuth"
	CompleteOAuth    = "CompleteOAuth"
	ResetChallenge   = "ResetChallenge"
)

// Fake is an in-memory identity.Client whose answers are set by the test.
type Fake struct {
	mu sync.Mutex

	NotReady     bool
	Session      *domain.Session
	Verification domain.Verification
	TokenValue   string
	RedirectURL  string
	OAuthResult  domain.OAuthResult

	// Fail makes the named method return the given error.
	Fail map[string]error
	// Gate, when non-nil, blocks every provider call until it is closed.
	Gate chan struct{}
	// Entered receives one value each time a call reaches the gate.
	Entered chan string

	calls        map[string]int
	LastEmail    string
	LastPassword string
	LastCode     string
	LastOAuth    domain.OAuthRequest
}

var (
	_ identity.Client            = (*Fake)(nil)
	_ identity.ChallengeResetter = (*Fake)(nil)
)

// New returns a ready Fake that completes verification and issues a token.
func New() *Fake {
	return &Fake{
		Verification: domain.Verification{
			Status:           domain.StatusComplete,
			CreatedSessionID: "sess_1",
			CreatedUserID:    "user_1",
		},
		TokenValue:  "token_1",
		RedirectURL: "https://accounts.example.com/oauth",
		Fail:        map[string]error{},
		calls:       map[string]int{},
	}
}

// Calls returns how many times the named method was invoked.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *Fake) enter(ctx context.Context, method string) error {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[method]++
	gate, entered := f.Gate, f.Entered
	err := f.Fail[method]
	f.mu.Unlock()

	if gate != nil {
		if entered != nil {
			entered <- method
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *Fake) Ready() bool { return !f.NotReady }

func (f *Fake) ActiveSession(ctx context.Context) (*domain.Session, error) {
	if err := f.enter(ctx, ActiveSession); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Session, nil
}

func (f *Fake) SignOut(ctx context.Context) error {
	if err := f.enter(ctx, SignOut); err != nil {
		return err
	}
	f.mu.Lock()
	f.Session = nil
	f.mu.Unlock()
	return nil
}

func (f *Fake) CreateIdentity(ctx context.Context, email, password string) error {
	f.mu.Lock()
	f.LastEmail, f.LastPassword = email, password
	f.mu.Unlock()
	return f.enter(ctx, CreateIdentity)
}

func (f *Fake) PrepareEmailCode(ctx context.Context) error {
	return f.enter(ctx, PrepareEmailCode)
}

func (f *Fake) AttemptEmailCode(ctx context.Context, code string) (*domain.Verification, error) {
	f.mu.Lock()
	f.LastCode = code
	f.mu.Unlock()
	if err := f.enter(ctx, AttemptEmailCode); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.Verification
	return &v, nil
}

func (f *Fake) SetActive(ctx context.Context, sessionID string) error {
	if err := f.enter(ctx, SetActive); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	userID := f.Verification.CreatedUserID
	if f.OAuthResult.SessionID == sessionID {
		userID = f.OAuthResult.UserID
	}
	f.Session = &domain.Session{ID: sessionID, UserID: userID}
	return nil
}

func (f *Fake) Token(ctx context.Context) (string, error) {
	if err := f.enter(ctx, Token); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Session == nil {
		return "", nil
	}
	return f.TokenValue, nil
}

func (f *Fake) BeginOAuth(ctx context.Context, req domain.OAuthRequest) (string, error) {
	f.mu.Lock()
	f.LastOAuth = req
	f.mu.Unlock()
	if err := f.enter(ctx, BeginOAuth); err != nil {
		return "", err
	}
	return f.RedirectURL, nil
}

func (f *Fake) CompleteOAuth(ctx context.Context, params map[string]string) (*domain.OAuthResult, error) {
	if err := f.enter(ctx, CompleteOAuth); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.OAuthResult
	return &r, nil
}

func (f *Fake) ResetChallenge(ctx context.Context) error {
	return f.enter(ctx, ResetChallenge)
}
