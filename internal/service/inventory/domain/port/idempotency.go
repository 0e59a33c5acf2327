package port

import (
	"context"
	"time"
)

// IdempotencyGuard 带过期时间的"已处理"标记
type IdempotencyGuard interface {
	IsProcessed(ctx context.Context, key string) (bool, error)
	// MarkAsProcessed 仅在标记不存在时写入，返回是否由本次写入
	MarkAsProcessed(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}
