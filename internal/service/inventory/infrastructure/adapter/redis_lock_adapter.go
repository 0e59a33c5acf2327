package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"stockhub/internal/pkg/redis"
	"stockhub/internal/service/inventory/domain/port"
)

const releaseLockScriptName = "release_lock"

// RedisLockAdapter 是 port.DistributedLock 的 Redis 实现: SET NX PX 加锁，Lua 比较后删除
type RedisLockAdapter struct {
	redisClient *redis.Client
}

// NewRedisLockAdapter 创建锁适配器，并预加载释放锁脚本
func NewRedisLockAdapter(redisClient *redis.Client) (*RedisLockAdapter, error) {
	if err := redisClient.LoadScriptFromContent(releaseLockScriptName, releaseLockScript); err != nil {
		return nil, errors.Wrap(err, "load release lock script")
	}
	return &RedisLockAdapter{redisClient: redisClient}, nil
}

func lockRedisKey(key, scene string) string {
	return fmt.Sprintf("lock:{%s}", port.LockKey(scene, key))
}

func (a *RedisLockAdapter) Acquire(ctx context.Context, key, scene string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := a.redisClient.GetClient().SetNX(ctx, lockRedisKey(key, scene), token, ttl).Result()
	if err != nil {
		return "", false, errors.Wrap(err, "redis set nx")
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (a *RedisLockAdapter) Release(ctx context.Context, key, scene, token string) error {
	result, err := a.redisClient.RunScript(ctx, releaseLockScriptName, []string{lockRedisKey(key, scene)}, token)
	if err != nil {
		return errors.Wrap(err, "run release lock script")
	}
	deleted, ok := result.(int64)
	if !ok {
		return errors.Errorf("unexpected result type from release script: %T", result)
	}
	if deleted == 0 {
		return errors.Wrapf(port.ErrLockNotHeld, "%s", port.LockKey(scene, key))
	}
	return nil
}

// KEYS[1]: 锁的 key
// ARGV[1]: 加锁时写入的 token
var releaseLockScript = `
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`
