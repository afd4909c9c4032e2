package ledger

import (
	"context"
	"sync"
)

// InMemoryStore keeps claims in process memory for tests and single-node
// development. The mutex makes check-and-set indivisible under concurrent
// callers.
type InMemoryStore struct {
	mu     sync.Mutex
	claims map[string]map[string]struct{}
}

// NewInMemoryStore constructs an empty in-memory ledger.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{claims: make(map[string]map[string]struct{})}
}

func (s *InMemoryStore) RecordIfAbsent(_ context.Context, scope, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, ok := s.claims[scope]
	if !ok {
		keys = make(map[string]struct{})
		s.claims[scope] = keys
	}
	if _, claimed := keys[key]; claimed {
		return false, nil
	}
	keys[key] = struct{}{}
	return true, nil
}

func (s *InMemoryStore) HasRecorded(_ context.Context, scope, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, claimed := s.claims[scope][key]
	return claimed, nil
}
