// Package store persists Outcome records, one per run.
//
// Error contract, shared by all implementations:
// - ErrNotFound (sentinel) when no outcome exists for the run
// - ErrConflict (sentinel) when an outcome for the run already exists
// - nil for successful operations
package store

import (
	"context"
	"time"

	"payrun/internal/outcome/models"
	"payrun/pkg/domain"
)

// DeliveryPatch merge-patches delivery fields. Nil pointers leave the
// current value untouched.
type DeliveryPatch struct {
	Mode            *string
	Recipients      []string
	Subject         *string
	Text            *string
	HTML            *string
	ScheduledSendAt *time.Time
	SentAt          *time.Time
}

// Patch merge-patches an outcome as rendering and sending progress.
type Patch struct {
	Findings  []models.Finding
	Artifacts []models.Artifact
	Delivery  *DeliveryPatch
}

// Store is the durable interface for outcomes.
type Store interface {
	Create(ctx context.Context, outcome *models.Outcome) error
	GetByRun(ctx context.Context, runID domain.RunID) (*models.Outcome, error)
	List(ctx context.Context) ([]*models.Outcome, error)
	Apply(ctx context.Context, runID domain.RunID, patch Patch) (*models.Outcome, error)
}
