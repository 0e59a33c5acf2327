package application

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"stockhub/internal/service/inventory/domain/port"
)

// RunOnce 在 key 未被标记时执行 fn，成功后写入标记。
// 返回 false 表示 key 已处理过，fn 没有执行。fn 失败时不写标记，允许重试。
func RunOnce(ctx context.Context, guard port.IdempotencyGuard, key string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	processed, err := guard.IsProcessed(ctx, key)
	if err != nil {
		return false, errors.Wrapf(err, "check idempotency key %s", key)
	}
	if processed {
		return false, nil
	}
	if err := fn(ctx); err != nil {
		return false, err
	}
	if _, err := guard.MarkAsProcessed(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl); err != nil {
		return true, errors.Wrapf(err, "mark idempotency key %s", key)
	}
	return true, nil
}
