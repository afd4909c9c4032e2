package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore backs the ledger with a unique-keyed table. The atomic
// check-and-set is INSERT ... ON CONFLICT DO NOTHING; the row count tells
// the caller whether it won the claim.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing pgx pool.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the claims table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS idempotency_claims (
			scope      TEXT NOT NULL,
			key        TEXT NOT NULL,
			claimed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (scope, key)
		)`)
	if err != nil {
		return fmt.Errorf("migrate idempotency_claims: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordIfAbsent(ctx context.Context, scope, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_claims (scope, key) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		scope, key)
	if err != nil {
		return false, fmt.Errorf("ledger insert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) HasRecorded(ctx context.Context, scope, key string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM idempotency_claims WHERE scope = $1 AND key = $2)`,
		scope, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ledger select: %w", err)
	}
	return exists, nil
}
