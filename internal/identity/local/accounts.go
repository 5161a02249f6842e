package local

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/containr/signup/internal/domain"
	"github.com/containr/signup/internal/identity"
)

// Account is a registered identity.
type Account struct {
	ID           string
	Email        string
	PasswordHash []byte
	// Links maps an OAuth provider name to the provider's user id.
	Links     map[string]string
	CreatedAt time.Time
}

// Accounts holds registered identities and provides lookup by id and email.
type Accounts struct {
	mu      sync.RWMutex
	byID    map[string]*Account
	byEmail map[string]*Account
	cost    int
	now     func() time.Time
}

// NewAccounts creates an empty account store hashing passwords at the given
// bcrypt cost. A zero cost uses bcrypt.DefaultCost.
func NewAccounts(cost int) *Accounts {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Accounts{
		byID:    make(map[string]*Account),
		byEmail: make(map[string]*Account),
		cost:    cost,
		now:     time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Exists reports whether an account is registered under email.
func (a *Accounts) Exists(email string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.byEmail[normalizeEmail(email)]
	return ok
}

// Hash returns the bcrypt hash of password.
func (a *Accounts) Hash(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	return hash, nil
}

// Create registers an account with an already hashed password.
func (a *Accounts) Create(email string, passwordHash []byte) (*Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.create(normalizeEmail(email), passwordHash)
}

func (a *Accounts) create(email string, passwordHash []byte) (*Account, error) {
	if _, exists := a.byEmail[email]; exists {
		return nil, errIdentifierExists()
	}
	acct := &Account{
		ID:           "user_" + uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		Links:        make(map[string]string),
		CreatedAt:    a.now(),
	}
	a.byID[acct.ID] = acct
	a.byEmail[email] = acct
	return acct, nil
}

// Get returns an account by its ID.
func (a *Accounts) Get(id string) (*Account, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	acct, ok := a.byID[id]
	if !ok {
		return nil, identity.NewError(404, identity.CodeSessionNotFound, "Account not found.")
	}
	return acct, nil
}

// Link returns the account for an OAuth sign-in, creating it on first use.
// An existing account with the same email is linked only if the provider
// verified that email.
func (a *Accounts) Link(info *domain.UserInfo) (*Account, error) {
	email := normalizeEmail(info.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: no email from %s", domain.ErrProviderUserFetch, info.ProviderName)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, acct := range a.byID {
		if acct.Links[info.ProviderName] == info.ProviderID {
			return acct, nil
		}
	}

	if acct, ok := a.byEmail[email]; ok {
		if !info.EmailVerified {
			return nil, errIdentifierExists()
		}
		acct.Links[info.ProviderName] = info.ProviderID
		return acct, nil
	}

	acct, err := a.create(email, nil)
	if err != nil {
		return nil, err
	}
	acct.Links[info.ProviderName] = info.ProviderID
	return acct, nil
}

func errIdentifierExists() error {
	return identity.NewError(422, identity.CodeIdentifierExists,
		"That email address is taken. Please try another.")
}
