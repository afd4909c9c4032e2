// Package store persists approval tokens.
//
// Error contract, shared by all implementations:
// - ErrNotFound (sentinel) when the token does not exist
// - ErrAlreadyUsed (sentinel) when Consume hits a consumed token
// - nil for successful operations
package store

import (
	"context"
	"time"

	"payrun/internal/token/models"
	"payrun/pkg/domain"
)

// Store is the durable interface for tokens.
type Store interface {
	Create(ctx context.Context, token *models.Token) error
	Find(ctx context.Context, id domain.TokenID) (*models.Token, error)

	// Consume transitions issued -> consumed and records clicked_at. The
	// transition happens at most once; a second call returns
	// ErrAlreadyUsed.
	Consume(ctx context.Context, id domain.TokenID, now time.Time) (*models.Token, error)
}
