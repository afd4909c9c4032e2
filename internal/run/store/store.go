// Package store persists Run entities and their append-only event logs.
//
// Error contract, shared by all implementations:
// - ErrNotFound (sentinel) when the requested run does not exist
// - nil for successful operations
// - wrapped errors with context for infrastructure failures
package store

import (
	"context"

	"payrun/internal/run/models"
	"payrun/pkg/domain"
)

// CreateRun carries the caller-supplied fields for a new run. The store
// assigns the id: a monotonic sequence, so ids never collide for the
// lifetime of the backing storage.
type CreateRun struct {
	ClientLocationID string
	Period           domain.Period
	RerunOf          *domain.RunID
}

// Patch merge-patches the mutable fields of a run. Nil fields are left
// untouched; id and created_at are immutable by construction.
type Patch struct {
	Status *models.Status
}

// Store is the durable CRUD + event-log interface for runs.
type Store interface {
	Create(ctx context.Context, fields CreateRun) (*models.Run, error)
	Get(ctx context.Context, id domain.RunID) (*models.Run, error)
	List(ctx context.Context) ([]*models.Run, error)
	Update(ctx context.Context, id domain.RunID, patch Patch) (*models.Run, error)

	// AppendEvent pushes onto the ordered event log. This is the only way
	// state transitions are recorded for audit.
	AppendEvent(ctx context.Context, id domain.RunID, eventType models.EventType, payload map[string]any) (*models.Run, error)

	// Lock flips locked from false to true as a single atomic transition.
	// It returns true only for the caller that performed the flip; every
	// later caller gets false. This is the first-writer-wins guarantee
	// approvals are built on.
	Lock(ctx context.Context, id domain.RunID) (bool, error)
}
