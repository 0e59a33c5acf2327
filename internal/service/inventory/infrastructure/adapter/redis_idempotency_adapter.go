package adapter

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"stockhub/internal/pkg/redis"
)

// RedisIdempotencyAdapter 是 port.IdempotencyGuard 的 Redis 实现
type RedisIdempotencyAdapter struct {
	redisClient *redis.Client
}

func NewRedisIdempotencyAdapter(redisClient *redis.Client) *RedisIdempotencyAdapter {
	return &RedisIdempotencyAdapter{redisClient: redisClient}
}

func idempotencyKey(key string) string {
	return "idem:" + key
}

func (a *RedisIdempotencyAdapter) IsProcessed(ctx context.Context, key string) (bool, error) {
	n, err := a.redisClient.GetClient().Exists(ctx, idempotencyKey(key)).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis exists")
	}
	return n > 0, nil
}

func (a *RedisIdempotencyAdapter) MarkAsProcessed(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := a.redisClient.GetClient().SetNX(ctx, idempotencyKey(key), value, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis set nx")
	}
	return ok, nil
}
