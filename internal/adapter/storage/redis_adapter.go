package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/genpire/rfq-service/internal/port"
)

const (
	rfqKeyPrefix      = "rfqs:"
	rfqCacheTTL       = 24 * time.Hour
	idempotencyKeyTTL = 24 * time.Hour
)

// Restore only if the entry still holds the optimistic value written by
// the same mutation.
var restoreRFQsScript = redis.NewScript(`
local key = KEYS[1]
local optimistic = ARGV[1]
local snapshot = ARGV[2]
local ttl = tonumber(ARGV[3])

local current = redis.call('GET', key)
if current ~= optimistic then
	return 0
end

redis.call('SET', key, snapshot, 'PX', ttl)
return 1
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) GetRFQs(ctx context.Context, creatorID string) ([]byte, error) {
	data, err := r.client.Get(ctx, rfqKeyPrefix+creatorID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, port.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (r *RedisAdapter) SetRFQs(ctx context.Context, creatorID string, data []byte) error {
	return r.client.Set(ctx, rfqKeyPrefix+creatorID, data, rfqCacheTTL).Err()
}

func (r *RedisAdapter) RestoreRFQs(ctx context.Context, creatorID string, optimistic, snapshot []byte) (bool, error) {
	key := rfqKeyPrefix + creatorID

	result, err := restoreRFQsScript.Run(ctx, r.client, []string{key},
		optimistic, snapshot, rfqCacheTTL.Milliseconds()).Int()
	if err != nil {
		return false, err
	}

	return result == 1, nil
}

func (r *RedisAdapter) DeleteRFQs(ctx context.Context, creatorID string) error {
	return r.client.Del(ctx, rfqKeyPrefix+creatorID).Err()
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
