package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"payrun/internal/outcome/models"
	"payrun/pkg/domain"
	"payrun/pkg/platform/sentinel"
)

// PostgresStore persists outcomes keyed by run id. Findings, artifacts, and
// delivery live in JSONB columns; merge-patch runs inside a row-locked
// transaction so concurrent patches cannot lose writes.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing pgx pool.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the outcomes table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS outcomes (
			run_id        BIGINT PRIMARY KEY,
			findings      JSONB NOT NULL DEFAULT '[]',
			artifacts     JSONB NOT NULL DEFAULT '[]',
			delivery      JSONB NOT NULL DEFAULT '{}',
			approve_token TEXT NOT NULL,
			rerun_token   TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("migrate outcomes: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, outcome *models.Outcome) error {
	findings, artifacts, delivery, err := marshalParts(outcome)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO outcomes (run_id, findings, artifacts, delivery, approve_token, rerun_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		int64(outcome.RunID), findings, artifacts, delivery,
		outcome.ApproveToken.String(), outcome.RerunToken.String(),
		outcome.CreatedAt, outcome.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("outcome for run %s: %w", outcome.RunID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByRun(ctx context.Context, runID domain.RunID) (*models.Outcome, error) {
	return s.get(ctx, s.pool, runID, false)
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Outcome, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, findings, artifacts, delivery, approve_token, rerun_token, created_at, updated_at
		FROM outcomes ORDER BY run_id`)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []*models.Outcome
	for rows.Next() {
		outcome, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, outcome)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Apply(ctx context.Context, runID domain.RunID, patch Patch) (*models.Outcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin patch: %w", err)
	}
	defer tx.Rollback(ctx)

	outcome, err := s.get(ctx, tx, runID, true)
	if err != nil {
		return nil, err
	}
	applyPatch(outcome, patch)

	findings, artifacts, delivery, err := marshalParts(outcome)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE outcomes SET findings = $2, artifacts = $3, delivery = $4, updated_at = now()
		WHERE run_id = $1`,
		int64(runID), findings, artifacts, delivery)
	if err != nil {
		return nil, fmt.Errorf("update outcome: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit patch: %w", err)
	}
	return outcome, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) get(ctx context.Context, q queryRower, runID domain.RunID, forUpdate bool) (*models.Outcome, error) {
	query := `
		SELECT run_id, findings, artifacts, delivery, approve_token, rerun_token, created_at, updated_at
		FROM outcomes WHERE run_id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	outcome, err := scanOutcome(q.QueryRow(ctx, query, int64(runID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("outcome for run %s: %w", runID, sentinel.ErrNotFound)
	}
	return outcome, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutcome(row rowScanner) (*models.Outcome, error) {
	var outcome models.Outcome
	var findings, artifacts, delivery []byte
	var approveToken, rerunToken string
	err := row.Scan(&outcome.RunID, &findings, &artifacts, &delivery,
		&approveToken, &rerunToken, &outcome.CreatedAt, &outcome.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(findings, &outcome.Findings); err != nil {
		return nil, fmt.Errorf("decode findings: %w", err)
	}
	if err := json.Unmarshal(artifacts, &outcome.Artifacts); err != nil {
		return nil, fmt.Errorf("decode artifacts: %w", err)
	}
	if err := json.Unmarshal(delivery, &outcome.Delivery); err != nil {
		return nil, fmt.Errorf("decode delivery: %w", err)
	}
	outcome.ApproveToken = domain.TokenID(approveToken)
	outcome.RerunToken = domain.TokenID(rerunToken)
	return &outcome, nil
}

func marshalParts(outcome *models.Outcome) (findings, artifacts, delivery []byte, err error) {
	if findings, err = json.Marshal(outcome.Findings); err != nil {
		return nil, nil, nil, fmt.Errorf("encode findings: %w", err)
	}
	if artifacts, err = json.Marshal(outcome.Artifacts); err != nil {
		return nil, nil, nil, fmt.Errorf("encode artifacts: %w", err)
	}
	if delivery, err = json.Marshal(outcome.Delivery); err != nil {
		return nil, nil, nil, fmt.Errorf("encode delivery: %w", err)
	}
	return findings, artifacts, delivery, nil
}
