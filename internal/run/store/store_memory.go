package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"payrun/internal/run/models"
	"payrun/pkg/domain"
	"payrun/pkg/platform/sentinel"
)

// InMemoryStore holds runs in process memory for tests and development.
// Ids come from a counter guarded by the store mutex, never from a random
// source.
type InMemoryStore struct {
	mu     sync.Mutex
	nextID domain.RunID
	runs   map[domain.RunID]*models.Run
}

// NewInMemoryStore constructs an empty in-memory run store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nextID: 1, runs: make(map[domain.RunID]*models.Run)}
}

func (s *InMemoryStore) Create(_ context.Context, fields CreateRun) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	run := &models.Run{
		ID:               s.nextID,
		ClientLocationID: fields.ClientLocationID,
		Period:           fields.Period,
		Status:           models.StatusCreated,
		RerunOf:          fields.RerunOf,
		Events:           []models.Event{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.nextID++
	s.runs[run.ID] = run
	return run.Clone(), nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.RunID) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, sentinel.ErrNotFound)
	}
	return run.Clone(), nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) Update(_ context.Context, id domain.RunID, patch Patch) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, sentinel.ErrNotFound)
	}
	if patch.Status != nil {
		run.Status = *patch.Status
	}
	run.UpdatedAt = time.Now()
	return run.Clone(), nil
}

func (s *InMemoryStore) AppendEvent(_ context.Context, id domain.RunID, eventType models.EventType, payload map[string]any) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, sentinel.ErrNotFound)
	}
	run.Events = append(run.Events, models.Event{
		ID:      uuid.NewString(),
		Type:    eventType,
		Payload: payload,
		At:      time.Now(),
	})
	run.UpdatedAt = time.Now()
	return run.Clone(), nil
}

func (s *InMemoryStore) Lock(_ context.Context, id domain.RunID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return false, fmt.Errorf("run %s: %w", id, sentinel.ErrNotFound)
	}
	if run.Locked {
		return false, nil
	}
	run.Locked = true
	run.UpdatedAt = time.Now()
	return true, nil
}
