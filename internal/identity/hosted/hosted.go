// Package hosted talks to a hosted identity provider's frontend API on behalf
// of one visitor at a time. Each Client carries its own cookie jar, so the
// provider sees every visitor as a separate browser.
package hosted

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/containr/signup/internal/domain"
	"github.com/containr/signup/internal/identity"
)

const keyHeader = "X-Publishable-Key"

// Config holds the hosted provider settings.
type Config struct {
	BaseURL        string
	PublishableKey string
	// PublicURL is this application's external origin, used to build the
	// OAuth callback and success URLs.
	PublicURL string
	// Timeout bounds each HTTP request. Zero leaves requests unbounded.
	Timeout   time.Duration
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Provider creates hosted clients. It implements identity.Factory.
type Provider struct {
	baseURL   string
	key       string
	publicURL string
	timeout   time.Duration
	transport http.RoundTripper
	logger    *slog.Logger
}

var _ identity.Factory = (*Provider)(nil)

// New creates a hosted provider.
func New(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: identity API URL", domain.ErrMissingConfig)
	}
	if cfg.PublishableKey == "" {
		return nil, fmt.Errorf("%w: publishable key", domain.ErrMissingConfig)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Provider{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		key:       cfg.PublishableKey,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		timeout:   cfg.Timeout,
		transport: cfg.Transport,
		logger:    cfg.Logger,
	}, nil
}

// NewClient returns a client with an empty cookie jar.
func (p *Provider) NewClient() identity.Client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		// cookiejar.New only fails on a bad PublicSuffixList.
		p.logger.Error("creating cookie jar", "error", err)
	}
	return &Client{
		provider: p,
		http: &http.Client{
			Jar:       jar,
			Timeout:   p.timeout,
			Transport: p.transport,
		},
	}
}

// Client is one visitor's session with the hosted frontend API.
type Client struct {
	provider *Provider
	http     *http.Client

	signUpID    string
	sessionID   string
	successPath string
}

var (
	_ identity.Client            = (*Client)(nil)
	_ identity.ChallengeResetter = (*Client)(nil)
)

type envelope struct {
	Response json.RawMessage `json:"response"`
	Client   *clientState    `json:"client"`
}

type clientState struct {
	Sessions            []sessionResource `json:"sessions"`
	LastActiveSessionID string            `json:"last_active_session_id"`
	SignUp              *signUpResource   `json:"sign_up"`
	SignIn              *signInResource   `json:"sign_in"`
}

type sessionResource struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	User   struct {
		ID string `json:"id"`
	} `json:"user"`
}

type signUpResource struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	CreatedSessionID string `json:"created_session_id"`
	CreatedUserID    string `json:"created_user_id"`
	Verifications    struct {
		ExternalAccount *struct {
			Status      string `json:"status"`
			RedirectURL string `json:"external_verification_redirect_url"`
		} `json:"external_account"`
	} `json:"verifications"`
}

type signInResource struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	CreatedSessionID string `json:"created_session_id"`
	UserID           string `json:"user_id"`
}

type tokenResource struct {
	JWT string `json:"jwt"`
}

func (c *Client) Ready() bool { return c.http.Jar != nil }

func (c *Client) ActiveSession(ctx context.Context) (*domain.Session, error) {
	var env envelope
	if err := c.do(ctx, http.MethodGet, "/v1/client", nil, &env); err != nil {
		return nil, err
	}
	if env.Client == nil {
		var cs clientState
		if err := json.Unmarshal(env.Response, &cs); err != nil {
			return nil, fmt.Errorf("decoding client: %w", err)
		}
		env.Client = &cs
	}
	for _, s := range env.Client.Sessions {
		if s.ID == env.Client.LastActiveSessionID && s.Status == "active" {
			c.sessionID = s.ID
			return &domain.Session{ID: s.ID, UserID: s.User.ID}, nil
		}
	}
	return nil, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "/v1/client/sessions", nil, nil); err != nil {
		return err
	}
	c.sessionID = ""
	return nil
}

func (c *Client) CreateIdentity(ctx context.Context, email, password string) error {
	form := url.Values{
		"email_address": {email},
		"password":      {password},
	}
	var su signUpResource
	if err := c.doResource(ctx, http.MethodPost, "/v1/client/sign_ups", form, &su); err != nil {
		return err
	}
	c.signUpID = su.ID
	return nil
}

func (c *Client) PrepareEmailCode(ctx context.Context) error {
	if c.signUpID == "" {
		return identity.NewError(0, identity.CodeNoSignUp, "No sign-up in progress.")
	}
	form := url.Values{"strategy": {"email_code"}}
	return c.doResource(ctx, http.MethodPost, c.signUpPath("prepare_verification"), form, nil)
}

func (c *Client) AttemptEmailCode(ctx context.Context, code string) (*domain.Verification, error) {
	if c.signUpID == "" {
		return nil, identity.NewError(0, identity.CodeNoSignUp, "No sign-up in progress.")
	}
	form := url.Values{"strategy": {"email_code"}, "code": {code}}
	var su signUpResource
	if err := c.doResource(ctx, http.MethodPost, c.signUpPath("attempt_verification"), form, &su); err != nil {
		return nil, err
	}
	if su.Status == string(domain.StatusComplete) {
		c.signUpID = ""
	}
	return &domain.Verification{
		Status:           domain.VerificationStatus(su.Status),
		CreatedSessionID: su.CreatedSessionID,
		CreatedUserID:    su.CreatedUserID,
	}, nil
}

func (c *Client) SetActive(ctx context.Context, sessionID string) error {
	path := "/v1/client/sessions/" + url.PathEscape(sessionID) + "/touch"
	if err := c.doResource(ctx, http.MethodPost, path, url.Values{"active": {"true"}}, nil); err != nil {
		return err
	}
	c.sessionID = sessionID
	return nil
}

func (c *Client) Token(ctx context.Context) (string, error) {
	if c.sessionID == "" {
		return "", nil
	}
	path := "/v1/client/sessions/" + url.PathEscape(c.sessionID) + "/tokens"
	var tok tokenResource
	if err := c.do(ctx, http.MethodPost, path, url.Values{}, &tok); err != nil {
		return "", err
	}
	return tok.JWT, nil
}

// BeginOAuth starts an OAuth sign-up. The provider sends the visitor back to
// the callback path, then on to the success path once the account exists.
func (c *Client) BeginOAuth(ctx context.Context, req domain.OAuthRequest) (string, error) {
	form := url.Values{
		"strategy":                     {"oauth_" + req.Provider},
		"redirect_url":                 {c.provider.publicURL + req.CallbackPath},
		"action_complete_redirect_url": {c.provider.publicURL + req.SuccessPath},
	}
	var su signUpResource
	if err := c.doResource(ctx, http.MethodPost, "/v1/client/sign_ups", form, &su); err != nil {
		return "", err
	}
	ext := su.Verifications.ExternalAccount
	if ext == nil || ext.RedirectURL == "" {
		return "", fmt.Errorf("%w: no redirect URL for %s", domain.ErrProviderExchange, req.Provider)
	}
	c.signUpID = su.ID
	c.successPath = req.SuccessPath
	return ext.RedirectURL, nil
}

// CompleteOAuth reads the outcome of the handshake. A sign-in ticket on the
// callback is redeemed first; otherwise the client's pending sign-up or
// sign-in decides.
func (c *Client) CompleteOAuth(ctx context.Context, params map[string]string) (*domain.OAuthResult, error) {
	successPath := c.successPath
	if successPath == "" {
		successPath = domain.RouteHome
	}

	if ticket := params["ticket"]; ticket != "" {
		form := url.Values{"strategy": {"ticket"}, "ticket": {ticket}}
		var si signInResource
		if err := c.doResource(ctx, http.MethodPost, "/v1/client/sign_ins", form, &si); err != nil {
			return nil, err
		}
		return &domain.OAuthResult{
			Status:      domain.VerificationStatus(si.Status),
			SessionID:   si.CreatedSessionID,
			UserID:      si.UserID,
			SuccessPath: successPath,
		}, nil
	}

	var env envelope
	if err := c.do(ctx, http.MethodGet, "/v1/client", nil, &env); err != nil {
		return nil, err
	}
	cs := env.Client
	if cs == nil {
		cs = &clientState{}
		if err := json.Unmarshal(env.Response, cs); err != nil {
			return nil, fmt.Errorf("decoding client: %w", err)
		}
	}

	res := &domain.OAuthResult{Status: domain.StatusMissingRequirement, SuccessPath: successPath}
	switch {
	case cs.SignUp != nil && cs.SignUp.CreatedSessionID != "":
		res.Status = domain.VerificationStatus(cs.SignUp.Status)
		res.SessionID = cs.SignUp.CreatedSessionID
		res.UserID = cs.SignUp.CreatedUserID
	case cs.SignIn != nil && cs.SignIn.CreatedSessionID != "":
		res.Status = domain.VerificationStatus(cs.SignIn.Status)
		res.SessionID = cs.SignIn.CreatedSessionID
		res.UserID = cs.SignIn.UserID
	}
	c.signUpID = ""
	return res, nil
}

// ResetChallenge drops the pending sign-up so the next attempt is issued a
// fresh bot challenge by the provider.
func (c *Client) ResetChallenge(ctx context.Context) error {
	c.signUpID = ""
	return nil
}

func (c *Client) signUpPath(action string) string {
	return "/v1/client/sign_ups/" + url.PathEscape(c.signUpID) + "/" + action
}

// doResource calls the API and decodes the envelope's response object into out.
func (c *Client) doResource(ctx context.Context, method, path string, form url.Values, out any) error {
	var env envelope
	if err := c.do(ctx, method, path, form, &env); err != nil {
		return err
	}
	if out == nil || len(env.Response) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Response, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.provider.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set(keyHeader, c.provider.key)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	e := &identity.Error{StatusCode: resp.StatusCode}
	if json.Unmarshal(body, e) == nil && len(e.Errors) > 0 {
		return e
	}
	return &identity.Error{StatusCode: resp.StatusCode}
}
