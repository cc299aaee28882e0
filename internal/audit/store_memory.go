package audit

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore keeps attempts in memory, ordered by insertion. Used in
// development and as the test double for the durable stores.
type InMemoryStore struct {
	mu       sync.RWMutex
	attempts []Attempt
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, attempt Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

func (s *InMemoryStore) ListByRegistration(_ context.Context, registrationID uuid.UUID) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Attempt
	for _, a := range s.attempts {
		if a.RegistrationID != nil && *a.RegistrationID == registrationID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.attempts) - limit
	if start < 0 {
		start = 0
	}
	return append([]Attempt{}, s.attempts[start:]...), nil
}

// All returns every recorded attempt. Test helper.
func (s *InMemoryStore) All() []Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Attempt{}, s.attempts...)
}
