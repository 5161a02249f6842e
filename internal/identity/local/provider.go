// Package local is a self-contained identity provider for development. It
// keeps accounts and sessions in memory, emails codes through a Mailer and
// signs session tokens with HS256.
package local

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/containr/signup/internal/domain"
	"github.com/containr/signup/internal/identity"
	"github.com/containr/signup/internal/state"
)

const (
	defaultCodeTTL     = 10 * time.Minute
	defaultTokenTTL    = time.Minute
	codeDigits         = 6
	tokenIssuer        = "containr-local"
	minSigningKeyBytes = 32
)

// Config wires the local provider.
type Config struct {
	SigningKey []byte
	State      *state.Service
	Providers  *identity.Registry
	Mailer     Mailer
	Logger     *slog.Logger
	// HashCost is the bcrypt cost; zero uses bcrypt.DefaultCost.
	HashCost int
	CodeTTL  time.Duration
	TokenTTL time.Duration
}

// SessionClaims are the claims carried by a session token.
type SessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

type session struct {
	id        string
	userID    string
	createdAt time.Time
}

// Provider holds the accounts and sessions shared by every visitor. It
// implements identity.Factory.
type Provider struct {
	accounts   *Accounts
	signingKey []byte
	state      *state.Service
	providers  *identity.Registry
	mailer     Mailer
	logger     *slog.Logger
	codeTTL    time.Duration
	tokenTTL   time.Duration
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

var _ identity.Factory = (*Provider)(nil)

// New creates a local provider.
func New(cfg Config) (*Provider, error) {
	if len(cfg.SigningKey) < minSigningKeyBytes {
		return nil, fmt.Errorf("%w: session signing key must be at least %d bytes", domain.ErrInvalidConfig, minSigningKeyBytes)
	}
	if cfg.State == nil {
		return nil, fmt.Errorf("%w: state service", domain.ErrMissingConfig)
	}
	if cfg.Providers == nil {
		cfg.Providers = identity.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Mailer == nil {
		cfg.Mailer = LogMailer{Logger: cfg.Logger}
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = defaultCodeTTL
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	return &Provider{
		accounts:   NewAccounts(cfg.HashCost),
		signingKey: cfg.SigningKey,
		state:      cfg.State,
		providers:  cfg.Providers,
		mailer:     cfg.Mailer,
		logger:     cfg.Logger,
		codeTTL:    cfg.CodeTTL,
		tokenTTL:   cfg.TokenTTL,
		now:        time.Now,
		sessions:   make(map[string]*session),
	}, nil
}

// SetNow overrides the time function (for testing).
func (p *Provider) SetNow(fn func() time.Time) {
	p.now = fn
	p.accounts.now = fn
}

// Accounts returns the provider's account store.
func (p *Provider) Accounts() *Accounts { return p.accounts }

// NewClient returns a client for one visitor.
func (p *Provider) NewClient() identity.Client {
	return &Client{provider: p}
}

// OAuthProviders returns the names of the configured OAuth providers.
func (p *Provider) OAuthProviders() []string {
	return p.providers.Names()
}

func (p *Provider) createSession(userID string) string {
	s := &session{id: "sess_" + uuid.NewString(), userID: userID, createdAt: p.now()}
	p.mu.Lock()
	p.sessions[s.id] = s
	p.mu.Unlock()
	return s.id
}

func (p *Provider) session(id string) (*session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	return s, ok
}

func (p *Provider) endSession(id string) {
	p.mu.Lock()
	delete(p.sessions, id)
	p.mu.Unlock()
}

func (p *Provider) issueToken(s *session) (string, error) {
	now := p.now()
	claims := SessionClaims{
		SessionID: s.id,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   s.userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.tokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signingKey)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

func generateCode() (string, error) {
	limit := big.NewInt(1)
	for range codeDigits {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
