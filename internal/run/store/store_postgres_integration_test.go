//go:build integration

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"payrun/internal/run/models"
	"payrun/pkg/domain"
	"payrun/pkg/platform/sentinel"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("payrun"),
		tcpostgres.WithUsername("payrun"),
		tcpostgres.WithPassword("payrun"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresRunStore(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	store := NewPostgres(pool)
	require.NoError(t, store.Migrate(ctx))

	period, err := domain.NewPeriod("2024-01-01", "2024-01-15")
	require.NoError(t, err)

	t.Run("monotonic ids", func(t *testing.T) {
		first, err := store.Create(ctx, CreateRun{ClientLocationID: "LOC1", Period: period})
		require.NoError(t, err)
		second, err := store.Create(ctx, CreateRun{ClientLocationID: "LOC2", Period: period})
		require.NoError(t, err)
		assert.Greater(t, second.ID, first.ID)
	})

	t.Run("event order preserved", func(t *testing.T) {
		run, err := store.Create(ctx, CreateRun{ClientLocationID: "LOC3", Period: period})
		require.NoError(t, err)

		_, err = store.AppendEvent(ctx, run.ID, models.EventRunCreated, nil)
		require.NoError(t, err)
		_, err = store.AppendEvent(ctx, run.ID, models.EventOutcomeSaved, map[string]any{"findings": 2})
		require.NoError(t, err)
		updated, err := store.AppendEvent(ctx, run.ID, models.EventApproved, nil)
		require.NoError(t, err)

		require.Len(t, updated.Events, 3)
		assert.Equal(t, models.EventRunCreated, updated.Events[0].Type)
		assert.Equal(t, models.EventOutcomeSaved, updated.Events[1].Type)
		assert.Equal(t, models.EventApproved, updated.Events[2].Type)
	})

	t.Run("lock is first writer wins", func(t *testing.T) {
		run, err := store.Create(ctx, CreateRun{ClientLocationID: "LOC4", Period: period})
		require.NoError(t, err)

		const callers = 16
		var wg sync.WaitGroup
		wins := make(chan bool, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				won, err := store.Lock(ctx, run.ID)
				assert.NoError(t, err)
				wins <- won
			}()
		}
		wg.Wait()
		close(wins)

		var winners int
		for won := range wins {
			if won {
				winners++
			}
		}
		assert.Equal(t, 1, winners)

		locked, err := store.Get(ctx, run.ID)
		require.NoError(t, err)
		assert.True(t, locked.Locked)
	})

	t.Run("lock missing run", func(t *testing.T) {
		_, err := store.Lock(ctx, domain.RunID(999999))
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("rerun back reference round trips", func(t *testing.T) {
		source, err := store.Create(ctx, CreateRun{ClientLocationID: "LOC5", Period: period})
		require.NoError(t, err)
		sourceID := source.ID

		rerun, err := store.Create(ctx, CreateRun{ClientLocationID: "LOC5", Period: period, RerunOf: &sourceID})
		require.NoError(t, err)

		got, err := store.Get(ctx, rerun.ID)
		require.NoError(t, err)
		require.NotNil(t, got.RerunOf)
		assert.Equal(t, sourceID, *got.RerunOf)
	})

	t.Run("status patch preserves created_at", func(t *testing.T) {
		run, err := store.Create(ctx, CreateRun{ClientLocationID: "LOC6", Period: period})
		require.NoError(t, err)

		status := models.StatusCompleted
		updated, err := store.Update(ctx, run.ID, Patch{Status: &status})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, updated.Status)
		assert.WithinDuration(t, run.CreatedAt, updated.CreatedAt, time.Millisecond)
	})
}
