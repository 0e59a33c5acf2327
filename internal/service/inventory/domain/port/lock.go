package port

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrLockNotHeld 释放锁时租约已过期或已被他人持有
var ErrLockNotHeld = errors.New("lock is not held by this token")

// DistributedLock 非阻塞的业务键互斥锁。拿不到锁时立即返回 ok=false，不排队等待。
// 持有者崩溃后租约在 ttl 后自动失效。
type DistributedLock interface {
	Acquire(ctx context.Context, key, scene string, ttl time.Duration) (token string, ok bool, err error)
	// Release 只删除 token 匹配的租约
	Release(ctx context.Context, key, scene, token string) error
}

// LockKey 锁的逻辑键 scene:key
func LockKey(scene, key string) string {
	return scene + ":" + key
}
