package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"payrun/internal/outcome/models"
	"payrun/pkg/domain"
	"payrun/pkg/platform/sentinel"
)

// InMemoryStore holds outcomes in process memory for tests and development.
type InMemoryStore struct {
	mu       sync.Mutex
	outcomes map[domain.RunID]*models.Outcome
}

// NewInMemoryStore constructs an empty in-memory outcome store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{outcomes: make(map[domain.RunID]*models.Outcome)}
}

func (s *InMemoryStore) Create(_ context.Context, outcome *models.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.outcomes[outcome.RunID]; exists {
		return fmt.Errorf("outcome for run %s: %w", outcome.RunID, sentinel.ErrConflict)
	}
	s.outcomes[outcome.RunID] = outcome.Clone()
	return nil
}

func (s *InMemoryStore) GetByRun(_ context.Context, runID domain.RunID) (*models.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome, ok := s.outcomes[runID]
	if !ok {
		return nil, fmt.Errorf("outcome for run %s: %w", runID, sentinel.ErrNotFound)
	}
	return outcome.Clone(), nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*models.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Outcome, 0, len(s.outcomes))
	for _, outcome := range s.outcomes {
		out = append(out, outcome.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out, nil
}

func (s *InMemoryStore) Apply(_ context.Context, runID domain.RunID, patch Patch) (*models.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome, ok := s.outcomes[runID]
	if !ok {
		return nil, fmt.Errorf("outcome for run %s: %w", runID, sentinel.ErrNotFound)
	}
	applyPatch(outcome, patch)
	outcome.UpdatedAt = time.Now()
	return outcome.Clone(), nil
}

// applyPatch is the single merge-patch implementation shared with the
// postgres store, so both backends agree on patch semantics.
func applyPatch(outcome *models.Outcome, patch Patch) {
	if patch.Findings != nil {
		outcome.Findings = append([]models.Finding(nil), patch.Findings...)
	}
	if patch.Artifacts != nil {
		outcome.Artifacts = append([]models.Artifact(nil), patch.Artifacts...)
	}
	if d := patch.Delivery; d != nil {
		if d.Mode != nil {
			outcome.Delivery.Mode = *d.Mode
		}
		if d.Recipients != nil {
			outcome.Delivery.Recipients = append([]string(nil), d.Recipients...)
		}
		if d.Subject != nil {
			outcome.Delivery.Subject = *d.Subject
		}
		if d.Text != nil {
			outcome.Delivery.Text = *d.Text
		}
		if d.HTML != nil {
			outcome.Delivery.HTML = *d.HTML
		}
		if d.ScheduledSendAt != nil {
			t := *d.ScheduledSendAt
			outcome.Delivery.ScheduledSendAt = &t
		}
		if d.SentAt != nil {
			t := *d.SentAt
			outcome.Delivery.SentAt = &t
		}
	}
}
