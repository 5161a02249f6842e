package registration

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/containr/signup/internal/identity"
)

const defaultFlowTTL = 30 * time.Minute

type entry struct {
	flow     *Flow
	lastSeen time.Time
}

// Store keeps each visitor's Flow in process memory. Flows idle for longer
// than the TTL are dropped on the next Create.
type Store struct {
	factory identity.Factory
	opts    []Option
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	flows map[string]*entry
}

// NewStore creates a store that builds one identity client per visitor from
// factory. A zero ttl keeps the default.
func NewStore(factory identity.Factory, ttl time.Duration, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = defaultFlowTTL
	}
	return &Store{
		factory: factory,
		opts:    opts,
		ttl:     ttl,
		now:     time.Now,
		flows:   make(map[string]*entry),
	}
}

// SetNow overrides the time function (for testing).
func (s *Store) SetNow(fn func() time.Time) {
	s.now = fn
}

// Create starts a new flow under a fresh visitor id.
func (s *Store) Create() *Flow {
	id := uuid.NewString()
	f := NewFlow(id, s.factory.NewClient(), s.opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	s.flows[id] = &entry{flow: f, lastSeen: s.now()}
	return f
}

// Get returns the flow for id and marks it as seen.
func (s *Store) Get(id string) (*Flow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.flows[id]
	if !ok {
		return nil, false
	}
	if s.now().Sub(e.lastSeen) > s.ttl {
		delete(s.flows, id)
		return nil, false
	}
	e.lastSeen = s.now()
	return e.flow, true
}

func (s *Store) sweep() {
	now := s.now()
	for id, e := range s.flows {
		if now.Sub(e.lastSeen) > s.ttl {
			delete(s.flows, id)
		}
	}
}
