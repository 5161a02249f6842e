package registration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containr/signup/internal/domain"
	"github.com/containr/signup/internal/identity"
	"github.com/containr/signup/internal/identity/identitytest"
)

var validDraft = domain.Draft{Username: "a", Email: "a@b.com", Password: "longenough1"}

func newTestFlow(t *testing.T, opts ...Option) (*Flow, *identitytest.Fake) {
	t.Helper()
	fake := identitytest.New()
	return NewFlow("flow-1", fake, opts...), fake
}

func awaiting(t *testing.T, f *Flow) {
	t.Helper()
	_, err := f.SubmitRegistration(context.Background(), validDraft)
	require.NoError(t, err)
}

func assertIdleFlags(t *testing.T, f *Flow) {
	t.Helper()
	assert.False(t, f.Snapshot().Flags.Busy(), "in-progress flag left set: %+v", f.Snapshot().Flags)
}

func TestInit_EndsExistingSessionOnce(t *testing.T) {
	f, fake := newTestFlow(t)
	fake.Session = &domain.Session{ID: "old", UserID: "someone"}

	require.NoError(t, f.Init(context.Background()))
	require.NoError(t, f.Init(context.Background()))
	require.NoError(t, f.Init(context.Background()))

	assert.Equal(t, 1, fake.Calls(identitytest.ActiveSession))
	assert.Equal(t, 1, fake.Calls(identitytest.SignOut))
	assert.Nil(t, fake.Session)
}

func TestInit_NoSession(t *testing.T) {
	f, fake := newTestFlow(t)

	require.NoError(t, f.Init(context.Background()))
	assert.Equal(t, 0, fake.Calls(identitytest.SignOut))
}

func TestInit_NotReady(t *testing.T) {
	f, fake := newTestFlow(t)
	fake.NotReady = true

	assert.ErrorIs(t, f.Init(context.Background()), domain.ErrNotReady)
	assert.Equal(t, 0, fake.Calls(identitytest.ActiveSession))

	fake.NotReady = false
	require.NoError(t, f.Init(context.Background()))
	assert.Equal(t, 1, fake.Calls(identitytest.ActiveSession))
}

func TestInit_RetriesAfterFailure(t *testing.T) {
	f, fake := newTestFlow(t)
	fake.Session = &domain.Session{ID: "old", UserID: "someone"}
	fake.Fail[identitytest.ActiveSession] = errors.New("transient")

	assert.Error(t, f.Init(context.Background()))
	assert.Equal(t, 0, fake.Calls(identitytest.SignOut))

	delete(fake.Fail, identitytest.ActiveSession)
	require.NoError(t, f.Init(context.Background()))
	assert.Equal(t, 2, fake.Calls(identitytest.ActiveSession))
	assert.Equal(t, 1, fake.Calls(identitytest.SignOut))
	assert.Nil(t, fake.Session)

	require.NoError(t, f.Init(context.Background()))
	assert.Equal(t, 2, fake.Calls(identitytest.ActiveSession))
}

func TestInit_RetriesAfterSignOutFailure(t *testing.T) {
	f, fake := newTestFlow(t)
	fake.Session = &domain.Session{ID: "old", UserID: "someone"}
	fake.Fail[identitytest.SignOut] = errors.New("transient")

	assert.Error(t, f.Init(context.Background()))

	delete(fake.Fail, identitytest.SignOut)
	require.NoError(t, f.Init(context.Background()))
	assert.Equal(t, 2, fake.Calls(identitytest.SignOut))
	assert.Nil(t, fake.Session)
}

func TestInit_BusyWhileSubmitting(t *testing.T) {
	f, fake := newTestFlow(t)
	fake.Gate = make(chan struct{})
	fake.Entered = make(chan string, 16)

	done := make(chan error, 1)
	go func() {
		_, err := f.SubmitRegistration(context.Background(), validDraft)
		done <- err
	}()
	<-fake.Entered

	assert.ErrorIs(t, f.Init(context.Background()), domain.ErrBusy)
	assert.Equal(t, 0, fake.Calls(identitytest.ActiveSession))

	close(fake.Gate)
	require.NoError(t, <-done)

	fake.Gate = nil
	require.NoError(t, f.Init(context.Background()))
	assert.Equal(t, 1, fake.Calls(identitytest.ActiveSession))
}

func TestInit_HoldsInFlightSlot(t *testing.T) {
	f, fake := newTestFlow(t)
	fake.Gate = make(chan struct{})
	fake.Entered = make(chan string, 16)

	done := make(chan error, 1)
	go func() { done <- f.Init(context.Background()) }()
	assert.Equal(t, identitytest.ActiveSession, <-fake.Entered)

	_, err := f.SubmitRegistration(context.Background(), validDraft)
	assert.ErrorIs(t, err, domain.ErrBusy)
	_, err = f.SubmitOAuth(context.Background(), "google")
	assert.ErrorIs(t, err, domain.ErrBusy)
	assert.Equal(t, 0, fake.Calls(identitytest.CreateIdentity))

	close(fake.Gate)
	require.NoError(t, <-done)

	_, err = f.SubmitRegistration(context.Background(), validDraft)
	assert.NoError(t, err)
}

func TestSubmitRegistration_Success(t *testing.T) {
	f, fake := newTestFlow(t)

	res, err := f.SubmitRegistration(context.Background(), validDraft)
	require.NoError(t, err)

	assert.Equal(t, NoticeCodeSent, res.Notice)
	assert.Empty(t, res.Navigate)
	assert.Equal(t, 1, fake.Calls(identitytest.SignOut))
	assert.Equal(t, 1, fake.Calls(identitytest.CreateIdentity))
	assert.Equal(t, 1, fake.Calls(identitytest.PrepareEmailCode))
	assert.Equal(t, "a@b.com", fake.LastEmail)
	assert.Equal(t, "longenough1", fake.LastPassword)

	view := f.Snapshot()
	assert.True(t, view.AwaitingCode)
	assert.Equal(t, PhaseAwaitingVerification, view.Phase)
	assert.Equal(t, "a", view.Draft.Username)
	assert.Empty(t, view.Draft.Password)
	assertIdleFlags(t, f)
}

func TestSubmitRegistration_ValidationMakesNoCalls(t *testing.T) {
	drafts := []domain.Draft{
		{Username: "", Email: "a@b.com", Password: "longenough1"},
		{Username: "a", Email: " ", Password: "longenough1"},
		{Username: "a", Email: "a@b.com", Password: ""},
		{Username: "a", Email: "a@b.com", Password: "short"},
	}
	for _, d := range drafts {
		f, fake := newTestFlow(t)
		_, err := f.SubmitRegistration(context.Background(), d)
		require.Error(t, err)

		var ve *domain.ValidationError
		assert.True(t, errors.As(err, &ve))
		assert.Equal(t, 0, fake.Calls(identitytest.SignOut))
		assert.Equal(t, 0, fake.Calls(identitytest.CreateIdentity))
		assertIdleFlags(t, f)
	}
}

func TestSubmitRegistration_ProviderErrorUsesFirstMessage(t *testing.T) {
	f, fake := newTestFlow(t)
	fake.Fail[identitytest.CreateIdentity] = &identity.Error{
		StatusCode: 422,
		Errors: []identity.ErrorDetail{
			{Code: identity.CodeIdentifierExists, Message: "That email address is taken."},
			{Code: "other", Message: "second"},
		},
	}

	_, err := f.SubmitRegistration(context.Background(), validDraft)
	require.Error(t, err)
	assert.Equal(t, "That email address is taken.", Message(err))
	assert.Equal(t, 0, fake.Calls(identitytest.PrepareEmailCode))

	view := f.Snapshot()
	assert.False(t, view.AwaitingCode)
	assert.Equal(t, PhaseIdle, view.Phase)
	assertIdleFlags(t, f)
}

func TestSubmitRegistration_UnstructuredErrorUsesFallback(t *testing.T) {
	f, fake := newTestFlow(t)
	fake.Fail[identitytest.PrepareEmailCode] = errors.New("connection reset")

	_, err := f.SubmitRegistration(context.Background(), validDraft)
	require.Error(t, err)
	assert.Equal(t, FallbackSignup, Message(err))
	assertIdleFlags(t, f)
}

func TestSubmitRegistration_NotReady(t *testing.T) {
	f, fake := newTestFlow(t)
	fake.NotReady = true

	_, err := f.SubmitRegistration(context.Background(), validDraft)
	assert.ErrorIs(t, err, domain.ErrNotReady)
	assert.Equal(t, 0, fake.Calls(identitytest.CreateIdentity))
}

func TestSubmitRegistration_RejectedWhileAwaitingCode(t *testing.T) {
	f, fake := newTestFlow(t)
	awaiting(t, f)

	_, err := f.SubmitRegistration(context.Background(), validDraft)
	assert.ErrorIs(t, err, domain.ErrVerificationPending)
	assert.Equal(t, 1, fake.Calls(identitytest.CreateIdentity))
}

func TestSubmitVerification_Complete(t *testing.T) {
	f, fake := newTestFlow(t)
	awaiting(t, f)

	res, err := f.SubmitVerification(context.Background(), " 424242 ")
	require.NoError(t, err)

	assert.Equal(t, domain.RouteHome, res.Navigate)
	assert.Equal(t, NoticeSignedUp, res.Notice)
	assert.Equal(t, "424242", fake.LastCode)
	assert.Equal(t, 1, fake.Calls(identitytest.SetActive))
	assert.Equal(t, 1, fake.Calls(identitytest.Token))

	s := f.Session()
	require.NotNil(t, s)
	assert.Equal(t, "sess_1", s.ID)
	assert.Equal(t, "user_1", s.UserID)
	assert.Equal(t, "token_1", s.Token)

	view := f.Snapshot()
	assert.Equal(t, PhaseComplete, view.Phase)
	assert.False(t, view.AwaitingCode)
	assert.True(t, view.SignedIn)
	assertIdleFlags(t, f)
}

func TestSubmitVerification_IncompleteStatus(t *testing.T) {
	for _, status := range []domain.VerificationStatus{domain.StatusMissingRequirement, domain.StatusAbandoned, ""} {
		f, fake := newTestFlow(t)
		fake.Verification.Status = status
		awaiting(t, f)

		res, err := f.SubmitVerification(context.Background(), "424242")
		assert.ErrorIs(t, err, domain.ErrIncompleteVerification)
		assert.Equal(t, "Verification incomplete. Please try again.", Message(err))
		assert.Empty(t, res.Navigate)
		assert.Equal(t, 0, fake.Calls(identitytest.SetActive))
		assert.Nil(t, f.Session())
		assert.Equal(t, PhaseIdle, f.Snapshot().Phase)
		assertIdleFlags(t, f)
	}
}

func TestSubmitVerification_NoTokenAfterActivation(t *testing.T) {
	f, fake := newTestFlow(t)
	fake.TokenValue = ""
	awaiting(t, f)

	res, err := f.SubmitVerification(context.Background(), "424242")
	assert.ErrorIs(t, err, domain.ErrSessionActivationFailed)
	assert.Equal(t, "Session was set but no token or user ID found.", Message(err))
	assert.Empty(t, res.Navigate)
	assert.Nil(t, f.Session())
	assertIdleFlags(t, f)
}

func TestSubmitVerification_NoUserID(t *testing.T) {
	f, fake := newTestFlow(t)
	fake.Verification.CreatedUserID = ""
	awaiting(t, f)

	_, err := f.SubmitVerification(context.Background(), "424242")
	assert.ErrorIs(t, err, domain.ErrSessionActivationFailed)
}

func TestSubmitVerification_ProviderError(t *testing.T) {
	f, fake := newTestFlow(t)
	awaiting(t, f)
	fake.Fail[identitytest.AttemptEmailCode] = identity.NewError(422, identity.CodeIncorrectCode, "Incorrect code")

	_, err := f.SubmitVerification(context.Background(), "000000")
	require.Error(t, err)
	assert.Equal(t, "Incorrect code", Message(err))
	assert.False(t, f.Snapshot().AwaitingCode)
	assertIdleFlags(t, f)

	fake.Fail[identitytest.AttemptEmailCode] = errors.New("no body")
	awaiting(t, f)
	_, err = f.SubmitVerification(context.Background(), "000000")
	assert.Equal(t, FallbackVerification, Message(err))
}

func TestSubmitVerification_Preconditions(t *testing.T) {
	f, fake := newTestFlow(t)

	_, err := f.SubmitVerification(context.Background(), "  ")
	assert.ErrorIs(t, err, domain.ErrMissingCode)

	_, err = f.SubmitVerification(context.Background(), "123456")
	assert.ErrorIs(t, err, domain.ErrNotAwaitingVerification)
	assert.Equal(t, 0, fake.Calls(identitytest.AttemptEmailCode))
}

func TestSubmitVerification_Timeout(t *testing.T) {
	f, fake := newTestFlow(t, WithTimeout(20*time.Millisecond))
	awaiting(t, f)
	fake.Gate = make(chan struct{})

	_, err := f.SubmitVerification(context.Background(), "424242")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, FallbackVerification, Message(err))
	assertIdleFlags(t, f)
}

func TestConcurrentActionIsBusy(t *testing.T) {
	f, fake := newTestFlow(t)
	fake.Gate = make(chan struct{})
	fake.Entered = make(chan string, 16)

	done := make(chan error, 1)
	go func() {
		_, err := f.SubmitRegistration(context.Background(), validDraft)
		done <- err
	}()
	<-fake.Entered

	assert.True(t, f.Snapshot().Flags.Submitting)

	_, err := f.SubmitRegistration(context.Background(), validDraft)
	assert.ErrorIs(t, err, domain.ErrBusy)
	_, err = f.SubmitOAuth(context.Background(), "google")
	assert.ErrorIs(t, err, domain.ErrBusy)

	close(fake.Gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, fake.Calls(identitytest.CreateIdentity))
	assertIdleFlags(t, f)
}

func TestSubmitOAuth_Success(t *testing.T) {
	f, fake := newTestFlow(t)
	fake.Session = &domain.Session{ID: "old"}

	res, err := f.SubmitOAuth(context.Background(), "google")
	require.NoError(t, err)

	assert.Equal(t, fake.RedirectURL, res.Redirect)
	assert.Empty(t, res.Navigate)
	assert.Equal(t, 1, fake.Calls(identitytest.SignOut))
	assert.Equal(t, 1, fake.Calls(identitytest.ResetChallenge))
	assert.Equal(t, domain.OAuthRequest{
		Provider:     "google",
		CallbackPath: domain.RouteSSO,
		SuccessPath:  domain.RouteHome,
	}, fake.LastOAuth)
	assert.Equal(t, PhaseOAuthPending, f.Snapshot().Phase)
	assertIdleFlags(t, f)
}

func TestSubmitOAuth_AlreadySignedIn(t *testing.T) {
	f, fake := newTestFlow(t)
	fake.Fail[identitytest.BeginOAuth] = identity.NewError(400, identity.CodeSessionExists, "You're already signed in.")

	_, err := f.SubmitOAuth(context.Background(), "google")
	require.Error(t, err)
	assert.Equal(t, "You're already signed in.", Message(err))
	assert.Equal(t, PhaseIdle, f.Snapshot().Phase)
	assertIdleFlags(t, f)
}

func TestSubmitOAuth_UnsupportedProvider(t *testing.T) {
	f, fake := newTestFlow(t)

	_, err := f.SubmitOAuth(context.Background(), "myspace")
	assert.ErrorIs(t, err, domain.ErrUnsupportedProvider)
	assert.Equal(t, 0, fake.Calls(identitytest.BeginOAuth))
}

func TestCompleteOAuth(t *testing.T) {
	f, fake := newTestFlow(t)
	fake.OAuthResult = domain.OAuthResult{
		Status:      domain.StatusComplete,
		SessionID:   "sess_g",
		UserID:      "user_g",
		SuccessPath: "/home",
	}

	res, err := f.CompleteOAuth(context.Background(), map[string]string{"code": "x"})
	require.NoError(t, err)
	assert.Equal(t, "/home", res.Navigate)
	assert.Equal(t, 1, fake.Calls(identitytest.SetActive))

	s := f.Session()
	require.NotNil(t, s)
	assert.Equal(t, "user_g", s.UserID)
	assertIdleFlags(t, f)
}

func TestCompleteOAuth_RejectsExternalSuccessPath(t *testing.T) {
	for _, p := range []string{"https://evil.example.com", "//evil.example.com", "/\\evil", ""} {
		f, fake := newTestFlow(t)
		fake.OAuthResult = domain.OAuthResult{
			Status: domain.StatusComplete, SessionID: "s", UserID: "u", SuccessPath: p,
		}
		res, err := f.CompleteOAuth(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, domain.RouteHome, res.Navigate, "success path %q", p)
	}
}

func TestCompleteOAuth_Incomplete(t *testing.T) {
	f, fake := newTestFlow(t)
	fake.OAuthResult = domain.OAuthResult{Status: domain.StatusMissingRequirement}

	res, err := f.CompleteOAuth(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrIncompleteVerification)
	assert.Empty(t, res.Navigate)
	assert.Equal(t, 0, fake.Calls(identitytest.SetActive))
	assertIdleFlags(t, f)
}

func TestFlash(t *testing.T) {
	f, _ := newTestFlow(t)
	f.Flash("hi", "oops")

	notice, alert := f.TakeFlash()
	assert.Equal(t, "hi", notice)
	assert.Equal(t, "oops", alert)

	notice, alert = f.TakeFlash()
	assert.Empty(t, notice)
	assert.Empty(t, alert)
}

func TestSubmitRegistration_RemembersDraftWithoutPassword(t *testing.T) {
	f, _ := newTestFlow(t)

	_, err := f.SubmitRegistration(context.Background(), domain.Draft{Username: "ada", Email: "ada@b.com", Password: "short"})
	require.Error(t, err)

	draft := f.Snapshot().Draft
	assert.Equal(t, "ada", draft.Username)
	assert.Equal(t, "ada@b.com", draft.Email)
	assert.Empty(t, draft.Password)
}
