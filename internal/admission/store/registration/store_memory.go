// Package registration provides the registration store implementations:
// in-memory for development and tests, PostgreSQL and Redis for deployments.
// All three enforce the same optimistic versioned-commit contract.
package registration

import (
	"context"
	"sync"

	"turnstile/internal/admission/models"
	"turnstile/internal/admission/ports"
	"turnstile/pkg/platform/sentinel"
	"turnstile/pkg/requestcontext"
)

// InMemoryStore keeps registrations in a map guarded by a RWMutex. Guards
// capture the record version at load; Commit compares it under the write
// lock, which gives the same at-most-one-winner behavior as the durable
// stores.
type InMemoryStore struct {
	mu   sync.RWMutex
	regs map[string]*models.Registration
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{regs: make(map[string]*models.Registration)}
}

func (s *InMemoryStore) Create(_ context.Context, registration *models.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := registration.Key().String()
	if _, exists := s.regs[key]; exists {
		return sentinel.ErrConflict
	}
	s.regs[key] = registration.Clone()
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, key models.RegistrationKey) (*models.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, ok := s.regs[key.String()]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return reg.Clone(), nil
}

func (s *InMemoryStore) LoadForUpdate(_ context.Context, key models.RegistrationKey) (ports.Guard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, ok := s.regs[key.String()]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &memoryGuard{
		store:    s,
		key:      key.String(),
		snapshot: reg.Clone(),
		version:  reg.Version,
	}, nil
}

type memoryGuard struct {
	store    *InMemoryStore
	key      string
	snapshot *models.Registration
	version  int64
	released bool
}

func (g *memoryGuard) Registration() *models.Registration {
	return g.snapshot
}

func (g *memoryGuard) Commit(ctx context.Context, newStatus models.Status, actor string) (*models.Registration, error) {
	g.store.mu.Lock()
	defer g.store.mu.Unlock()

	if g.released {
		return nil, sentinel.ErrGuardReleased
	}
	g.released = true

	current, ok := g.store.regs[g.key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if current.Version != g.version {
		return nil, sentinel.ErrConflict
	}

	current.Status = newStatus
	current.LastTransitionAt = requestcontext.Now(ctx)
	current.LastTransitionBy = actor
	current.Version++
	return current.Clone(), nil
}

func (g *memoryGuard) Abort(_ context.Context) error {
	g.store.mu.Lock()
	defer g.store.mu.Unlock()
	g.released = true
	return nil
}
