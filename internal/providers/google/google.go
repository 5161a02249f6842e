package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/containr/signup/internal/domain"
)

const (
	providerName   = "google"
	defaultUserURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

// DefaultScopes are requested when the configuration names none.
var DefaultScopes = []string{"openid", "email", "profile"}

// Config holds Google OAuth2 settings.
type Config struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	CallbackURL  string // {public_url}/sso
}

// Provider implements the Google OAuth2 authorization code flow.
type Provider struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	userURL    string
}

// New creates a Google provider.
func New(cfg Config) *Provider {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoints.Google,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       scopes,
		},
		httpClient: http.DefaultClient,
		userURL:    defaultUserURL,
	}
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) AuthURL(stateToken string) (string, error) {
	return p.oauth.AuthCodeURL(stateToken,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("prompt", "select_account"),
	), nil
}

func (p *Provider) Exchange(ctx context.Context, params map[string]string) (*domain.UserInfo, error) {
	if reason := params["error"]; reason != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderExchange, reason)
	}
	code, ok := params["code"]
	if !ok || code == "" {
		return nil, domain.ErrMissingProviderParams
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderExchange, err)
	}

	return p.fetchUser(ctx, token)
}

type googleUser struct {
	Sub           string `json:"sub"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	Picture       string `json:"picture"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

func (p *Provider) fetchUser(ctx context.Context, token *oauth2.Token) (*domain.UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating user request: %w", err)
	}

	resp, err := p.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUserFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", domain.ErrProviderUserFetch, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrProviderUserFetch, resp.StatusCode, body)
	}

	var gu googleUser
	if err := json.Unmarshal(body, &gu); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", domain.ErrProviderUserFetch, err)
	}
	if gu.Sub == "" || gu.Email == "" {
		return nil, fmt.Errorf("%w: profile without subject or email", domain.ErrProviderUserFetch)
	}

	username, _, _ := strings.Cut(gu.Email, "@")
	displayName := gu.Name
	if displayName == "" {
		displayName = gu.GivenName
	}

	return &domain.UserInfo{
		ProviderName:  providerName,
		ProviderID:    gu.Sub,
		Username:      username,
		DisplayName:   displayName,
		AvatarURL:     gu.Picture,
		Email:         gu.Email,
		EmailVerified: gu.EmailVerified,
	}, nil
}
