package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"payrun/internal/token/models"
	"payrun/pkg/domain"
	"payrun/pkg/platform/sentinel"
)

// InMemoryStore stores tokens in memory for tests and development.
type InMemoryStore struct {
	mu     sync.Mutex
	tokens map[domain.TokenID]*models.Token
}

// NewInMemoryStore constructs an empty in-memory token store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{tokens: make(map[domain.TokenID]*models.Token)}
}

func (s *InMemoryStore) Create(_ context.Context, token *models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.ID] = token.Clone()
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, id domain.TokenID) (*models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", id, sentinel.ErrNotFound)
	}
	return token.Clone(), nil
}

func (s *InMemoryStore) Consume(_ context.Context, id domain.TokenID, now time.Time) (*models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", id, sentinel.ErrNotFound)
	}
	if token.Status != models.StatusIssued {
		return token.Clone(), fmt.Errorf("token %s: %w", id, sentinel.ErrAlreadyUsed)
	}
	token.Status = models.StatusConsumed
	token.ClickedAt = &now
	return token.Clone(), nil
}
