// Package state signs the OAuth state parameter. A token names the provider
// the visitor was sent to and the in-app path to land on afterwards, and is
// only good for a few minutes.
package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/containr/signup/internal/domain"
)

const (
	defaultExpiry = 5 * time.Minute
	issuer        = "containr-signup/state"
)

type claims struct {
	Provider    string `json:"prv"`
	SuccessPath string `json:"suc"`
	jwt.RegisteredClaims
}

// Service issues and verifies HS256 state tokens.
type Service struct {
	key    []byte
	expiry time.Duration
	now    func() time.Time
}

func NewService(key []byte) *Service {
	return &Service{key: key, expiry: defaultExpiry, now: time.Now}
}

// SetNow overrides the time function (for testing).
func (s *Service) SetNow(fn func() time.Time) {
	s.now = fn
}

// Issue signs a state token for a redirect to provider that lands on
// successPath. Every token carries a fresh nonce as its id.
func (s *Service) Issue(provider, successPath string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Provider:    provider,
		SuccessPath: successPath,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	})
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signing state: %w", err)
	}
	return signed, nil
}

// Verify checks a state token and returns what it carries.
func (s *Service) Verify(token string) (*domain.StatePayload, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, domain.ErrMalformedState
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, domain.ErrExpiredState
	default:
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidState, err)
	}

	return &domain.StatePayload{
		Provider:    c.Provider,
		SuccessPath: c.SuccessPath,
		Nonce:       c.ID,
		ExpiresAt:   c.ExpiresAt.Time,
	}, nil
}
