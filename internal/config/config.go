package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/containr/signup/internal/domain"
)

// Identity provider kinds.
const (
	ProviderLocal  = "local"
	ProviderHosted = "hosted"
)

const cookieKeyBytes = 32

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL"  envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("%w: LOG_LEVEL %q", domain.ErrInvalidConfig, l.Level)
	}
	return lvl, nil
}

// IdentityConfig holds identity provider settings.
type IdentityConfig struct {
	Provider          string        `env:"IDENTITY_PROVIDER"        envDefault:"local"`
	APIURL            string        `env:"IDENTITY_API_URL"`
	PublishableKey    string        `env:"IDENTITY_PUBLISHABLE_KEY"`
	Timeout           time.Duration `env:"PROVIDER_TIMEOUT"         envDefault:"30s"`
	StateSigningKey   string        `env:"STATE_SIGNING_KEY"`
	SessionSigningKey string        `env:"SESSION_SIGNING_KEY"`
}

// GoogleConfig holds Google OAuth settings. Google sign-in through the local
// provider is enabled by the presence of GOOGLE_CLIENT_ID.
type GoogleConfig struct {
	ClientID     string   `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string   `env:"GOOGLE_CLIENT_SECRET"`
	Scopes       []string `env:"GOOGLE_SCOPES"        envSeparator:","`
}

// Enabled reports whether Google credentials are configured.
func (g GoogleConfig) Enabled() bool { return g.ClientID != "" }

// SignupConfig is the registration server configuration.
type SignupConfig struct {
	Server    ServerConfig
	Log       LogConfig
	Identity  IdentityConfig
	Google    GoogleConfig
	PublicURL string        `env:"PUBLIC_URL"`
	FlowTTL   time.Duration `env:"FLOW_TTL"   envDefault:"30m"`
	CookieKey string        `env:"COOKIE_KEY"`
}

// StubConfig is the backend stub server configuration.
type StubConfig struct {
	Server      ServerConfig
	Log         LogConfig
	FrontendURL string `env:"FRONTEND_URL"`
}

// LoadSignup reads and validates the registration server configuration.
func LoadSignup() (*SignupConfig, error) {
	cfg, err := ParseSignup()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseSignup reads the registration server configuration from the
// environment and fills defaults without validating, so callers can apply
// overrides first.
func ParseSignup() (*SignupConfig, error) {
	cfg := &SignupConfig{}
	if err := parse(cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.PublicURL == "" {
		cfg.PublicURL = "http://localhost:" + strconv.Itoa(cfg.Server.Port)
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	cfg.Google.Scopes = trimCSV(cfg.Google.Scopes)
	return cfg, nil
}

// LoadStub reads and validates the stub server configuration.
func LoadStub() (*StubConfig, error) {
	cfg, err := ParseStub()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseStub reads the stub server configuration without validating it.
func ParseStub() (*StubConfig, error) {
	cfg := &StubConfig{}
	if err := parse(cfg); err != nil {
		return nil, err
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	return cfg, nil
}

func parse(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("%w: parse env: %v", domain.ErrInvalidConfig, err)
	}
	return nil
}

// Validate checks the registration configuration. It runs again after
// command-line overrides are applied.
func (c *SignupConfig) Validate() error {
	if err := validateServer(c.Server); err != nil {
		return err
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if err := validateLogFormat(c.Log.Format); err != nil {
		return err
	}
	if err := validateURL("PUBLIC_URL", c.PublicURL); err != nil {
		return err
	}
	if c.CookieKey == "" {
		return fmt.Errorf("%w: COOKIE_KEY is required", domain.ErrMissingConfig)
	}
	if len(c.CookieKey) != cookieKeyBytes {
		return fmt.Errorf("%w: COOKIE_KEY must be %d bytes", domain.ErrInvalidConfig, cookieKeyBytes)
	}
	if c.Identity.Timeout < 0 {
		return fmt.Errorf("%w: PROVIDER_TIMEOUT must not be negative", domain.ErrInvalidConfig)
	}

	switch c.Identity.Provider {
	case ProviderLocal:
		if c.Identity.StateSigningKey == "" {
			return fmt.Errorf("%w: STATE_SIGNING_KEY is required", domain.ErrMissingConfig)
		}
		if c.Identity.SessionSigningKey == "" {
			return fmt.Errorf("%w: SESSION_SIGNING_KEY is required", domain.ErrMissingConfig)
		}
		if c.Google.Enabled() && c.Google.ClientSecret == "" {
			return fmt.Errorf("%w: GOOGLE_CLIENT_SECRET is required with GOOGLE_CLIENT_ID", domain.ErrMissingConfig)
		}
	case ProviderHosted:
		if c.Identity.APIURL == "" {
			return fmt.Errorf("%w: IDENTITY_API_URL is required", domain.ErrMissingConfig)
		}
		if err := validateURL("IDENTITY_API_URL", c.Identity.APIURL); err != nil {
			return err
		}
		if c.Identity.PublishableKey == "" {
			return fmt.Errorf("%w: IDENTITY_PUBLISHABLE_KEY is required", domain.ErrMissingConfig)
		}
	default:
		return fmt.Errorf("%w: IDENTITY_PROVIDER must be %q or %q", domain.ErrInvalidConfig, ProviderLocal, ProviderHosted)
	}
	return nil
}

// Validate checks the stub configuration.
func (c *StubConfig) Validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("%w: PORT is required", domain.ErrMissingConfig)
	}
	if err := validateServer(c.Server); err != nil {
		return err
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if err := validateLogFormat(c.Log.Format); err != nil {
		return err
	}
	if c.FrontendURL == "" {
		return fmt.Errorf("%w: FRONTEND_URL is required", domain.ErrMissingConfig)
	}
	return validateURL("FRONTEND_URL", c.FrontendURL)
}

func validateServer(s ServerConfig) error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("%w: PORT must be between 1 and 65535", domain.ErrInvalidConfig)
	}
	return nil
}

func validateLogFormat(format string) error {
	switch format {
	case "text", "json":
		return nil
	}
	return fmt.Errorf("%w: LOG_FORMAT must be text or json", domain.ErrInvalidConfig)
}

func validateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s must be an absolute http(s) URL", domain.ErrInvalidConfig, name)
	}
	return nil
}

func trimCSV(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	result := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
