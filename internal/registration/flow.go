package registration

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/containr/signup/internal/domain"
	"github.com/containr/signup/internal/identity"
)

// Phase is where a registration attempt stands.
type Phase string

const (
	PhaseIdle                 Phase = "idle"
	PhaseSubmitting           Phase = "submitting"
	PhaseAwaitingVerification Phase = "awaiting_verification"
	PhaseVerifying            Phase = "verifying"
	PhaseComplete             Phase = "complete"
	PhaseOAuthPending         Phase = "oauth_pending"
)

// Result tells the caller where to send the visitor after a step. Navigate is
// an in-app path; Redirect is an external URL that takes control off the page.
type Result struct {
	Navigate string
	Redirect string
	Notice   string
}

// View is a read-only copy of a flow's state for rendering.
type View struct {
	ID             string
	Phase          Phase
	Draft          domain.Draft
	Flags          domain.Flags
	AwaitingCode   bool
	SignedIn       bool
	UserID         string
	OAuthProviders []string
}

// Option configures a Flow.
type Option func(*Flow)

// WithTimeout bounds every provider call. Zero leaves calls unbounded.
func WithTimeout(d time.Duration) Option {
	return func(f *Flow) { f.timeout = d }
}

// WithLogger sets the logger used for provider failures.
func WithLogger(l *slog.Logger) Option {
	return func(f *Flow) { f.logger = l }
}

// WithOAuthProviders limits which providers SubmitOAuth accepts.
func WithOAuthProviders(names ...string) Option {
	return func(f *Flow) { f.oauthProviders = names }
}

// Flow is one visitor's registration attempt against the identity provider.
// Only one provider call runs at a time; a second action while one is in
// flight fails with domain.ErrBusy.
type Flow struct {
	id             string
	client         identity.Client
	timeout        time.Duration
	logger         *slog.Logger
	oauthProviders []string

	mu           sync.Mutex
	initialized  bool
	initializing bool
	phase        Phase
	flags        domain.Flags
	draft        domain.Draft
	awaitingCode bool
	session      *domain.Session
	notice       string
	alert        string
}

// NewFlow creates an idle flow for the given visitor id.
func NewFlow(id string, client identity.Client, opts ...Option) *Flow {
	f := &Flow{
		id:             id,
		client:         client,
		logger:         slog.Default(),
		oauthProviders: []string{"google"},
		phase:          PhaseIdle,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ID returns the visitor id the flow is stored under.
func (f *Flow) ID() string { return f.id }

// Init ends any session the identity client already holds, so registration
// always starts from a fresh identity. Once a call succeeds, later calls are
// no-ops; a failed call leaves the flow uninitialised so the next one retries.
// Init holds the in-flight slot like any other action and fails with
// domain.ErrBusy while one runs.
func (f *Flow) Init(ctx context.Context) error {
	if !f.client.Ready() {
		return domain.ErrNotReady
	}

	f.mu.Lock()
	if f.initialized {
		f.mu.Unlock()
		return nil
	}
	if f.busy() {
		f.mu.Unlock()
		return domain.ErrBusy
	}
	f.initializing = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.initializing = false
		f.mu.Unlock()
	}()

	ctx, cancel := f.callContext(ctx)
	defer cancel()

	existing, err := f.client.ActiveSession(ctx)
	if err != nil {
		f.logger.Warn("checking existing session", "flow", f.id, "error", err)
		return fmt.Errorf("checking existing session: %w", err)
	}
	if existing != nil {
		f.logger.Info("ending existing session before registration", "flow", f.id, "session", existing.ID)
		if err := f.client.SignOut(ctx); err != nil {
			f.logger.Warn("ending existing session", "flow", f.id, "error", err)
			return fmt.Errorf("ending existing session: %w", err)
		}
	}

	f.mu.Lock()
	f.initialized = true
	if existing != nil {
		f.session = nil
	}
	f.mu.Unlock()
	return nil
}

// SubmitRegistration creates the identity and asks the provider to email a
// one-time code. On success the flow awaits verification.
func (f *Flow) SubmitRegistration(ctx context.Context, draft domain.Draft) (Result, error) {
	if !f.client.Ready() {
		return Result{}, fail("signup", FallbackSignup, domain.ErrNotReady)
	}
	f.remember(draft)
	if err := Validate(draft); err != nil {
		return Result{}, fail("signup", FallbackSignup, err)
	}

	release, err := f.begin(&f.flags.Submitting, PhaseSubmitting, func() error {
		if f.awaitingCode {
			return domain.ErrVerificationPending
		}
		return nil
	})
	if err != nil {
		return Result{}, fail("signup", FallbackSignup, err)
	}
	defer release()

	ctx, cancel := f.callContext(ctx)
	defer cancel()

	if err := f.client.SignOut(ctx); err != nil {
		return Result{}, f.abort("signup", FallbackSignup, err)
	}
	f.setSession(nil)

	if err := f.client.CreateIdentity(ctx, strings.TrimSpace(draft.Email), draft.Password); err != nil {
		return Result{}, f.abort("signup", FallbackSignup, err)
	}
	if err := f.client.PrepareEmailCode(ctx); err != nil {
		return Result{}, f.abort("signup", FallbackSignup, err)
	}

	f.mu.Lock()
	f.awaitingCode = true
	f.phase = PhaseAwaitingVerification
	f.mu.Unlock()

	return Result{Notice: NoticeCodeSent}, nil
}

// SubmitVerification confirms the emailed code, activates the new session and
// sends the visitor to the authenticated landing route.
func (f *Flow) SubmitVerification(ctx context.Context, code string) (Result, error) {
	code, err := validateCode(code)
	if err != nil {
		return Result{}, fail("verify", FallbackVerification, err)
	}
	if !f.client.Ready() {
		return Result{}, fail("verify", FallbackVerification, domain.ErrNotReady)
	}

	release, err := f.begin(&f.flags.Verifying, PhaseVerifying, func() error {
		if !f.awaitingCode {
			return domain.ErrNotAwaitingVerification
		}
		return nil
	})
	if err != nil {
		return Result{}, fail("verify", FallbackVerification, err)
	}
	defer release()

	ctx, cancel := f.callContext(ctx)
	defer cancel()

	v, err := f.client.AttemptEmailCode(ctx, code)
	if err != nil {
		return Result{}, f.abort("verify", FallbackVerification, err)
	}
	if v.Status != domain.StatusComplete {
		return Result{}, f.abort("verify", FallbackVerification,
			fmt.Errorf("%w: status %q", domain.ErrIncompleteVerification, v.Status))
	}

	session, err := f.activate(ctx, v.CreatedSessionID, v.CreatedUserID)
	if err != nil {
		return Result{}, f.abort("verify", FallbackVerification, err)
	}

	f.complete(session)
	return Result{Navigate: domain.RouteHome, Notice: NoticeSignedUp}, nil
}

// SubmitOAuth ends any session and starts a redirect handshake with provider.
// The returned Result carries the external URL; completion is observed later
// by CompleteOAuth on the callback route.
func (f *Flow) SubmitOAuth(ctx context.Context, provider string) (Result, error) {
	if !f.client.Ready() {
		return Result{}, fail("oauth", FallbackOAuth, domain.ErrNotReady)
	}
	if !slices.Contains(f.oauthProviders, provider) {
		return Result{}, fail("oauth", FallbackOAuth, fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, provider))
	}

	release, err := f.begin(&f.flags.OAuthPending, PhaseOAuthPending, func() error {
		if f.awaitingCode {
			return domain.ErrVerificationPending
		}
		return nil
	})
	if err != nil {
		return Result{}, fail("oauth", FallbackOAuth, err)
	}
	defer release()

	ctx, cancel := f.callContext(ctx)
	defer cancel()

	if err := f.client.SignOut(ctx); err != nil {
		return Result{}, f.abort("oauth", FallbackOAuth, err)
	}
	f.setSession(nil)

	if cr, ok := f.client.(identity.ChallengeResetter); ok {
		if err := cr.ResetChallenge(ctx); err != nil {
			return Result{}, f.abort("oauth", FallbackOAuth, err)
		}
	}

	redirect, err := f.client.BeginOAuth(ctx, domain.OAuthRequest{
		Provider:     provider,
		CallbackPath: domain.RouteSSO,
		SuccessPath:  domain.RouteHome,
	})
	if err != nil {
		return Result{}, f.abort("oauth", FallbackOAuth, err)
	}

	return Result{Redirect: redirect}, nil
}

// CompleteOAuth runs on the callback route: it asks the provider how the
// handshake ended, activates the resulting session and navigates to the
// success path.
func (f *Flow) CompleteOAuth(ctx context.Context, params map[string]string) (Result, error) {
	if !f.client.Ready() {
		return Result{}, fail("sso", FallbackCallback, domain.ErrNotReady)
	}

	release, err := f.begin(&f.flags.OAuthPending, PhaseOAuthPending, nil)
	if err != nil {
		return Result{}, fail("sso", FallbackCallback, err)
	}
	defer release()

	ctx, cancel := f.callContext(ctx)
	defer cancel()

	res, err := f.client.CompleteOAuth(ctx, params)
	if err != nil {
		return Result{}, f.abort("sso", FallbackCallback, err)
	}
	if res.Status != domain.StatusComplete || res.SessionID == "" {
		return Result{}, f.abort("sso", FallbackCallback,
			fmt.Errorf("%w: status %q", domain.ErrIncompleteVerification, res.Status))
	}

	session, err := f.activate(ctx, res.SessionID, res.UserID)
	if err != nil {
		return Result{}, f.abort("sso", FallbackCallback, err)
	}

	f.complete(session)
	return Result{Navigate: localPath(res.SuccessPath), Notice: NoticeSignedInSSO}, nil
}

// Session returns the activated session, or nil before completion.
func (f *Flow) Session() *domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil
	}
	s := *f.session
	return &s
}

// Snapshot returns the current state for rendering.
func (f *Flow) Snapshot() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := View{
		ID:             f.id,
		Phase:          f.phase,
		Draft:          f.draft,
		Flags:          f.flags,
		AwaitingCode:   f.awaitingCode,
		SignedIn:       f.session != nil,
		OAuthProviders: slices.Clone(f.oauthProviders),
	}
	if f.session != nil {
		v.UserID = f.session.UserID
	}
	return v
}

// Flash stores a one-shot notice and alert for the next render.
func (f *Flow) Flash(notice, alert string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notice, f.alert = notice, alert
}

// TakeFlash returns and clears the stored notice and alert.
func (f *Flow) TakeFlash() (notice, alert string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	notice, alert = f.notice, f.alert
	f.notice, f.alert = "", ""
	return notice, alert
}

// begin claims the in-flight slot for one action. check runs under the lock
// before the flag is set. The returned release clears the flag and must be
// deferred so no exit path leaves it set.
func (f *Flow) begin(flag *bool, phase Phase, check func() error) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy() {
		return nil, domain.ErrBusy
	}
	if check != nil {
		if err := check(); err != nil {
			return nil, err
		}
	}
	*flag = true
	f.phase = phase
	return func() {
		f.mu.Lock()
		*flag = false
		f.mu.Unlock()
	}, nil
}

// abort returns the attempt to idle and wraps err for the visitor.
func (f *Flow) abort(op, fallback string, err error) error {
	f.mu.Lock()
	f.phase = PhaseIdle
	f.awaitingCode = false
	f.mu.Unlock()
	f.logger.Warn("registration step failed", "flow", f.id, "op", op, "error", err)
	return fail(op, fallback, err)
}

func (f *Flow) activate(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	if err := f.client.SetActive(ctx, sessionID); err != nil {
		return nil, err
	}
	token, err := f.client.Token(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" || userID == "" {
		return nil, domain.ErrSessionActivationFailed
	}
	return &domain.Session{ID: sessionID, UserID: userID, Token: token}, nil
}

func (f *Flow) complete(session *domain.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = session
	f.phase = PhaseComplete
	f.awaitingCode = false
	f.draft = domain.Draft{}
	f.logger.Info("registration complete", "flow", f.id, "user", session.UserID)
}

// remember keeps what the visitor typed, minus the password, so the form can
// be redrawn. A draft already submitted is not replaced.
func (f *Flow) remember(d domain.Draft) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy() || f.awaitingCode {
		return
	}
	f.draft = domain.Draft{Username: d.Username, Email: d.Email}
}

// busy reports whether a provider call is in flight. Callers hold f.mu.
func (f *Flow) busy() bool {
	return f.flags.Busy() || f.initializing
}

func (f *Flow) setSession(s *domain.Session) {
	f.mu.Lock()
	f.session = s
	f.mu.Unlock()
}

func (f *Flow) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.timeout > 0 {
		return context.WithTimeout(ctx, f.timeout)
	}
	return context.WithCancel(ctx)
}

// localPath keeps post-login navigation inside this application.
func localPath(p string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return domain.RouteHome
	}
	return p
}
