package identity

import (
	"context"
	"fmt"
	"slices"

	"github.com/containr/signup/internal/domain"
)

// OAuthProvider is an external OAuth provider the local identity provider can
// redirect to.
type OAuthProvider interface {
	Name() string
	AuthURL(stateToken string) (string, error)
	Exchange(ctx context.Context, params map[string]string) (*domain.UserInfo, error)
}

// Registry is the set of OAuth providers offered on the sign-up page, kept in
// the order their buttons are shown.
type Registry struct {
	offered []OAuthProvider
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register offers p after the providers already registered. Names are unique.
func (r *Registry) Register(p OAuthProvider) error {
	if r.index(p.Name()) >= 0 {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateProvider, p.Name())
	}
	r.offered = append(r.offered, p)
	return nil
}

// Get returns the offered provider with the given name.
func (r *Registry) Get(name string) (OAuthProvider, error) {
	i := r.index(name)
	if i < 0 {
		return nil, domain.ErrProviderNotFound
	}
	return r.offered[i], nil
}

// Names lists the offered providers in button order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.offered))
	for i, p := range r.offered {
		names[i] = p.Name()
	}
	return names
}

func (r *Registry) index(name string) int {
	return slices.IndexFunc(r.offered, func(p OAuthProvider) bool { return p.Name() == name })
}
