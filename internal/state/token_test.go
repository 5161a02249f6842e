package state

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containr/signup/internal/domain"
)

var testKey = []byte("test-signing-key-1234567890abcdef")

func TestIssueAndVerify(t *testing.T) {
	svc := NewService(testKey)

	token, err := svc.Issue("google", "/home")
	require.NoError(t, err)

	got, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "google", got.Provider)
	assert.Equal(t, "/home", got.SuccessPath)
	assert.NotEmpty(t, got.Nonce)
	assert.WithinDuration(t, time.Now().Add(defaultExpiry), got.ExpiresAt, 2*time.Second)
}

func TestVerify_TamperedClaims(t *testing.T) {
	svc := NewService(testKey)

	token, err := svc.Issue("google", "/home")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	data, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(strings.Replace(string(data), "/home", "/evil", 1)))

	_, err = svc.Verify(strings.Join(parts, "."))
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestVerify_Expired(t *testing.T) {
	svc := NewService(testKey)
	now := time.Now()
	svc.SetNow(func() time.Time { return now })

	token, err := svc.Issue("google", "/home")
	require.NoError(t, err)

	svc.SetNow(func() time.Time { return now.Add(6 * time.Minute) })
	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, domain.ErrExpiredState)
}

func TestVerify_WrongKey(t *testing.T) {
	token, err := NewService(testKey).Issue("google", "/home")
	require.NoError(t, err)

	_, err = NewService([]byte("another-key-0000000000000000000")).Verify(token)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestVerify_Malformed(t *testing.T) {
	svc := NewService(testKey)

	for _, input := range []string{"", "no-dots", "a.b.c"} {
		_, err := svc.Verify(input)
		assert.ErrorIs(t, err, domain.ErrMalformedState, "input %q", input)
	}
}

func TestIssue_FreshNonce(t *testing.T) {
	svc := NewService(testKey)
	seen := make(map[string]bool)
	for range 20 {
		token, err := svc.Issue("google", "/home")
		require.NoError(t, err)
		p, err := svc.Verify(token)
		require.NoError(t, err)
		assert.False(t, seen[p.Nonce], "duplicate nonce %s", p.Nonce)
		seen[p.Nonce] = true
	}
}
