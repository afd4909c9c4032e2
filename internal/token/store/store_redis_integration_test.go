//go:build integration

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"payrun/internal/token/models"
	"payrun/pkg/domain"
	"payrun/pkg/platform/sentinel"
)

func startRedis(t *testing.T) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := goredis.ParseURL(uri)
	require.NoError(t, err)

	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func issuedToken() *models.Token {
	now := time.Now()
	return &models.Token{
		ID:        domain.NewTokenID(),
		RunID:     1,
		Action:    models.ActionApprove,
		Status:    models.StatusIssued,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestRedisTokenStore(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	store := NewRedisStore(client)

	t.Run("create and find", func(t *testing.T) {
		token := issuedToken()
		require.NoError(t, store.Create(ctx, token))

		got, err := store.Find(ctx, token.ID)
		require.NoError(t, err)
		assert.Equal(t, token.ID, got.ID)
		assert.Equal(t, models.StatusIssued, got.Status)
	})

	t.Run("find missing", func(t *testing.T) {
		_, err := store.Find(ctx, domain.NewTokenID())
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("consume transitions once", func(t *testing.T) {
		token := issuedToken()
		require.NoError(t, store.Create(ctx, token))

		now := time.Now()
		consumed, err := store.Consume(ctx, token.ID, now)
		require.NoError(t, err)
		assert.Equal(t, models.StatusConsumed, consumed.Status)
		require.NotNil(t, consumed.ClickedAt)

		_, err = store.Consume(ctx, token.ID, now)
		assert.ErrorIs(t, err, sentinel.ErrAlreadyUsed)
	})

	t.Run("concurrent consume has one winner", func(t *testing.T) {
		token := issuedToken()
		require.NoError(t, store.Create(ctx, token))

		const presenters = 16
		var wg sync.WaitGroup
		results := make(chan error, presenters)
		for i := 0; i < presenters; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Consume(ctx, token.ID, time.Now())
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		var winners int
		for err := range results {
			if err == nil {
				winners++
			} else {
				assert.ErrorIs(t, err, sentinel.ErrAlreadyUsed)
			}
		}
		assert.Equal(t, 1, winners)
	})

	t.Run("expired token stays readable", func(t *testing.T) {
		token := issuedToken()
		token.ExpiresAt = time.Now().Add(-time.Minute)
		require.NoError(t, store.Create(ctx, token))

		got, err := store.Find(ctx, token.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, got.UsableReason(time.Now()))
	})
}
