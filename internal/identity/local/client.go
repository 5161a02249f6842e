package local

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/containr/signup/internal/domain"
	"github.com/containr/signup/internal/identity"
)

type pendingSignUp struct {
	email        string
	passwordHash []byte
	code         string
	codeExpires  time.Time
}

// Client is one visitor's view of the local provider.
type Client struct {
	provider *Provider

	signUp     *pendingSignUp
	sessionID  string
	oauthState string
}

var _ identity.Client = (*Client)(nil)

func (c *Client) Ready() bool { return true }

func (c *Client) ActiveSession(ctx context.Context) (*domain.Session, error) {
	if c.sessionID == "" {
		return nil, nil
	}
	s, ok := c.provider.session(c.sessionID)
	if !ok {
		c.sessionID = ""
		return nil, nil
	}
	return &domain.Session{ID: s.id, UserID: s.userID}, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	if c.sessionID != "" {
		c.provider.endSession(c.sessionID)
		c.sessionID = ""
	}
	return nil
}

func (c *Client) CreateIdentity(ctx context.Context, email, password string) error {
	if len(password) < 8 {
		return identity.NewError(422, identity.CodePasswordInvalid, "Passwords must be 8 characters or more.")
	}
	if c.provider.accounts.Exists(email) {
		return errIdentifierExists()
	}
	hash, err := c.provider.accounts.Hash(password)
	if err != nil {
		return err
	}
	c.signUp = &pendingSignUp{email: normalizeEmail(email), passwordHash: hash}
	return nil
}

func (c *Client) PrepareEmailCode(ctx context.Context) error {
	if c.signUp == nil {
		return errNoSignUp()
	}
	code, err := generateCode()
	if err != nil {
		return err
	}
	c.signUp.code = code
	c.signUp.codeExpires = c.provider.now().Add(c.provider.codeTTL)

	if err := c.provider.mailer.SendCode(ctx, c.signUp.email, code); err != nil {
		return fmt.Errorf("sending verification code: %w", err)
	}
	return nil
}

func (c *Client) AttemptEmailCode(ctx context.Context, code string) (*domain.Verification, error) {
	su := c.signUp
	if su == nil || su.code == "" {
		return nil, errNoSignUp()
	}
	if c.provider.now().After(su.codeExpires) {
		return nil, identity.NewError(422, identity.CodeVerificationGone, "This verification code has expired.")
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(su.code)) != 1 {
		return nil, identity.NewError(422, identity.CodeIncorrectCode, "Incorrect code")
	}

	acct, err := c.provider.accounts.Create(su.email, su.passwordHash)
	if err != nil {
		return nil, err
	}
	c.signUp = nil
	c.provider.logger.Info("account created", "user", acct.ID)

	return &domain.Verification{
		Status:           domain.StatusComplete,
		CreatedSessionID: c.provider.createSession(acct.ID),
		CreatedUserID:    acct.ID,
	}, nil
}

func (c *Client) SetActive(ctx context.Context, sessionID string) error {
	if _, ok := c.provider.session(sessionID); !ok {
		return identity.NewError(404, identity.CodeSessionNotFound, "Session not found.")
	}
	c.sessionID = sessionID
	return nil
}

func (c *Client) Token(ctx context.Context) (string, error) {
	if c.sessionID == "" {
		return "", nil
	}
	s, ok := c.provider.session(c.sessionID)
	if !ok {
		return "", nil
	}
	return c.provider.issueToken(s)
}

func (c *Client) BeginOAuth(ctx context.Context, req domain.OAuthRequest) (string, error) {
	if s, _ := c.ActiveSession(ctx); s != nil {
		return "", identity.NewError(400, identity.CodeSessionExists, "You're already signed in.")
	}
	prov, err := c.provider.providers.Get(req.Provider)
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, req.Provider)
	}
	token, err := c.provider.state.Issue(req.Provider, req.SuccessPath)
	if err != nil {
		return "", err
	}
	c.oauthState = token
	return prov.AuthURL(token)
}

func (c *Client) CompleteOAuth(ctx context.Context, params map[string]string) (*domain.OAuthResult, error) {
	payload, err := c.provider.state.Verify(params["state"])
	if err != nil {
		return nil, err
	}
	// The state is single use and only good for the visitor it was issued to.
	issued := c.oauthState
	c.oauthState = ""
	if issued == "" || subtle.ConstantTimeCompare([]byte(issued), []byte(params["state"])) != 1 {
		return nil, domain.ErrInvalidState
	}
	prov, err := c.provider.providers.Get(payload.Provider)
	if err != nil {
		return nil, err
	}
	info, err := prov.Exchange(ctx, params)
	if err != nil {
		return nil, err
	}
	acct, err := c.provider.accounts.Link(info)
	if err != nil {
		return nil, err
	}
	c.provider.logger.Info("oauth sign-in", "provider", info.ProviderName, "user", acct.ID)

	return &domain.OAuthResult{
		Status:      domain.StatusComplete,
		SessionID:   c.provider.createSession(acct.ID),
		UserID:      acct.ID,
		SuccessPath: payload.SuccessPath,
	}, nil
}

func errNoSignUp() error {
	return identity.NewError(400, identity.CodeNoSignUp, "No sign-up in progress.")
}
