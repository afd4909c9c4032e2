package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"payrun/internal/run/models"
	"payrun/pkg/domain"
	"payrun/pkg/platform/sentinel"
)

// PostgresStore persists runs and their event logs. Run ids come from a
// BIGSERIAL sequence; event ordering is preserved by a per-table sequence
// column, so the log can never be reordered by a read.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing pgx pool.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the runs tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id                 BIGSERIAL PRIMARY KEY,
			client_location_id TEXT NOT NULL,
			period_start       TEXT NOT NULL,
			period_end         TEXT NOT NULL,
			status             TEXT NOT NULL,
			locked             BOOLEAN NOT NULL DEFAULT FALSE,
			rerun_of           BIGINT REFERENCES runs(id),
			created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS run_events (
			seq      BIGSERIAL PRIMARY KEY,
			id       UUID NOT NULL,
			run_id   BIGINT NOT NULL REFERENCES runs(id),
			type     TEXT NOT NULL,
			payload  JSONB,
			at       TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS run_events_run_id_idx ON run_events(run_id)`)
	if err != nil {
		return fmt.Errorf("migrate runs: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, fields CreateRun) (*models.Run, error) {
	var id domain.RunID
	var createdAt, updatedAt time.Time
	err := s.pool.QueryRow(ctx, `
		INSERT INTO runs (client_location_id, period_start, period_end, status, rerun_of)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		fields.ClientLocationID, fields.Period.Start, fields.Period.End,
		string(models.StatusCreated), rerunOfArg(fields.RerunOf),
	).Scan(&id, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	return &models.Run{
		ID:               id,
		ClientLocationID: fields.ClientLocationID,
		Period:           fields.Period,
		Status:           models.StatusCreated,
		RerunOf:          fields.RerunOf,
		Events:           []models.Event{},
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}, nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.RunID) (*models.Run, error) {
	run, err := s.scanRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.loadEvents(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, client_location_id, period_start, period_end, status, locked, rerun_of, created_at, updated_at
		FROM runs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*models.Run
	for rows.Next() {
		run, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	for _, run := range out {
		if err := s.loadEvents(ctx, run); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, id domain.RunID, patch Patch) (*models.Run, error) {
	if patch.Status != nil {
		tag, err := s.pool.Exec(ctx,
			`UPDATE runs SET status = $2, updated_at = now() WHERE id = $1`,
			int64(id), string(*patch.Status))
		if err != nil {
			return nil, fmt.Errorf("update run: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("run %s: %w", id, sentinel.ErrNotFound)
		}
	}
	return s.Get(ctx, id)
}

func (s *PostgresStore) AppendEvent(ctx context.Context, id domain.RunID, eventType models.EventType, payload map[string]any) (*models.Run, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_events (id, run_id, type, payload)
		SELECT $1, id, $3, $4 FROM runs WHERE id = $2`,
		uuid.New(), int64(id), string(eventType), payload)
	if err != nil {
		return nil, fmt.Errorf("append run event: %w", err)
	}
	// The insert silently matches zero rows for unknown runs; Get surfaces
	// ErrNotFound in that case.
	return s.Get(ctx, id)
}

func (s *PostgresStore) Lock(ctx context.Context, id domain.RunID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET locked = TRUE, updated_at = now() WHERE id = $1 AND locked = FALSE`,
		int64(id))
	if err != nil {
		return false, fmt.Errorf("lock run: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish "already locked" from "no such run".
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM runs WHERE id = $1)`, int64(id)).Scan(&exists); err != nil {
		return false, fmt.Errorf("lock run: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("run %s: %w", id, sentinel.ErrNotFound)
	}
	return false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanRun(ctx context.Context, id domain.RunID) (*models.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, client_location_id, period_start, period_end, status, locked, rerun_of, created_at, updated_at
		FROM runs WHERE id = $1`, int64(id))
	run, err := scanRunRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, sentinel.ErrNotFound)
	}
	return run, err
}

func scanRunRow(row rowScanner) (*models.Run, error) {
	var run models.Run
	var rerunOf *int64
	err := row.Scan(&run.ID, &run.ClientLocationID, &run.Period.Start, &run.Period.End,
		&run.Status, &run.Locked, &rerunOf, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if rerunOf != nil {
		id := domain.RunID(*rerunOf)
		run.RerunOf = &id
	}
	run.Events = []models.Event{}
	return &run, nil
}

func (s *PostgresStore) loadEvents(ctx context.Context, run *models.Run) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, payload, at FROM run_events WHERE run_id = $1 ORDER BY seq`,
		int64(run.ID))
	if err != nil {
		return fmt.Errorf("load run events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ev models.Event
		var evID uuid.UUID
		if err := rows.Scan(&evID, &ev.Type, &ev.Payload, &ev.At); err != nil {
			return fmt.Errorf("scan run event: %w", err)
		}
		ev.ID = evID.String()
		run.Events = append(run.Events, ev)
	}
	return rows.Err()
}

func rerunOfArg(id *domain.RunID) *int64 {
	if id == nil {
		return nil
	}
	n := int64(*id)
	return &n
}
