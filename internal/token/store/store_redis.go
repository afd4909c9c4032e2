package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"payrun/internal/token/models"
	"payrun/pkg/domain"
	"payrun/pkg/platform/sentinel"
)

// consumeScript performs the issued -> consumed transition atomically on the
// Redis side, so two concurrent presentations of the same token cannot both
// observe status "issued".
var consumeScript = redis.NewScript(`
	local raw = redis.call("GET", KEYS[1])
	if not raw then
		return redis.error_reply("NOTFOUND")
	end
	local token = cjson.decode(raw)
	if token.status ~= "issued" then
		return redis.error_reply("ALREADYUSED")
	end
	token.status = "consumed"
	token.clicked_at = ARGV[1]
	local updated = cjson.encode(token)
	redis.call("SET", KEYS[1], updated)
	return updated
`)

// RedisStore persists tokens in Redis. Tokens are kept past expiry so a
// late click still gets a precise rejection reason instead of "missing".
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func tokenKey(id domain.TokenID) string {
	return "payrun:token:" + id.String()
}

func (s *RedisStore) Create(ctx context.Context, token *models.Token) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	if err := s.client.Set(ctx, tokenKey(token.ID), raw, 0).Err(); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

func (s *RedisStore) Find(ctx context.Context, id domain.TokenID) (*models.Token, error) {
	raw, err := s.client.Get(ctx, tokenKey(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("token %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch token: %w", err)
	}
	var token models.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}
	return &token, nil
}

func (s *RedisStore) Consume(ctx context.Context, id domain.TokenID, now time.Time) (*models.Token, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{tokenKey(id)}, now.UTC().Format(time.RFC3339Nano)).Result()
	if err != nil {
		switch err.Error() {
		case "NOTFOUND":
			return nil, fmt.Errorf("token %s: %w", id, sentinel.ErrNotFound)
		case "ALREADYUSED":
			token, findErr := s.Find(ctx, id)
			if findErr != nil {
				return nil, findErr
			}
			return token, fmt.Errorf("token %s: %w", id, sentinel.ErrAlreadyUsed)
		default:
			return nil, fmt.Errorf("consume token: %w", err)
		}
	}

	raw, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("consume token: unexpected script result %T", res)
	}
	var token models.Token
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}
	return &token, nil
}
