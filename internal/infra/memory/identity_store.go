package memory

import (
	"context"
	"sync"

	"quizizz-client/internal/domain"
)

// IdentityStore is an in-memory implementation of game.IdentityStore, used by
// tests and when no Redis is configured.
type IdentityStore struct {
	mu       sync.RWMutex
	identity domain.SessionIdentity
	saved    bool
}

func NewIdentityStore() *IdentityStore {
	return &IdentityStore{}
}

func (s *IdentityStore) Save(_ context.Context, identity domain.SessionIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = identity
	s.saved = true
	return nil
}

func (s *IdentityStore) Load(_ context.Context) (domain.SessionIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.saved {
		return domain.SessionIdentity{}, domain.ErrIdentityNotFound
	}
	return s.identity, nil
}

func (s *IdentityStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = domain.SessionIdentity{}
	s.saved = false
	return nil
}
