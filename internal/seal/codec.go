package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/containr/signup/internal/domain"
)

// KeySize is the required AES-256 key length.
const KeySize = 32

const defaultLifetime = 30 * time.Minute

// Codec seals and opens the visitor cookie using AES-256-GCM.
type Codec struct {
	aead     cipher.AEAD
	lifetime time.Duration
	now      func() time.Time
}

// NewCodec creates a cookie codec with the given 32-byte AES key. A zero
// lifetime keeps the default.
func NewCodec(key []byte, lifetime time.Duration) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: cookie key must be %d bytes, got %d", domain.ErrInvalidConfig, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	if lifetime <= 0 {
		lifetime = defaultLifetime
	}
	return &Codec{
		aead:     aead,
		lifetime: lifetime,
		now:      time.Now,
	}, nil
}

// SetNow overrides the time function (for testing).
func (c *Codec) SetNow(fn func() time.Time) {
	c.now = fn
}

// Lifetime is how long a sealed value stays valid.
func (c *Codec) Lifetime() time.Duration {
	return c.lifetime
}

// Seal encrypts the flow id into a base64url cookie value.
func (c *Codec) Seal(flowID string) (string, error) {
	plaintext, err := json.Marshal(domain.VisitorPayload{
		FlowID:    flowID,
		ExpiresAt: c.now().Add(c.lifetime),
	})
	if err != nil {
		return "", fmt.Errorf("marshaling visitor payload: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	// nonce || ciphertext+tag
	return base64.RawURLEncoding.EncodeToString(c.aead.Seal(nonce, nonce, plaintext, nil)), nil
}

// Open decrypts a cookie value produced by Seal.
func (c *Codec) Open(value string) (*domain.VisitorPayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil || len(raw) < c.aead.NonceSize() {
		return nil, domain.ErrInvalidCookie
	}

	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, domain.ErrInvalidCookie
	}

	var payload domain.VisitorPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil || payload.FlowID == "" {
		return nil, domain.ErrInvalidCookie
	}

	if c.now().After(payload.ExpiresAt) {
		return nil, domain.ErrExpiredCookie
	}

	return &payload, nil
}
