package adapter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"stockhub/internal/service/inventory/domain/port"
	"stockhub/internal/zookeeper"
)

// ZookeeperLockAdapter 是 port.DistributedLock 的 ZooKeeper 实现。
// 租约由会话超时决定，Acquire 的 ttl 不生效。
type ZookeeperLockAdapter struct {
	lock *zookeeper.LeaseLock
}

func NewZookeeperLockAdapter(lock *zookeeper.LeaseLock) *ZookeeperLockAdapter {
	return &ZookeeperLockAdapter{lock: lock}
}

// CheckLeaseTTL 持有者崩溃后租约要等会话过期才释放，lockTTL 短于会话超时时返回错误说明实际租约
func CheckLeaseTTL(lockTTL, sessionTimeout time.Duration) error {
	if lockTTL < sessionTimeout {
		return errors.Errorf("lock ttl %s is shorter than zookeeper session timeout %s, leases last until the session expires", lockTTL, sessionTimeout)
	}
	return nil
}

func (a *ZookeeperLockAdapter) Acquire(_ context.Context, key, scene string, _ time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := a.lock.TryLock(scene, key, token)
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (a *ZookeeperLockAdapter) Release(_ context.Context, key, scene, token string) error {
	err := a.lock.Unlock(scene, key, token)
	if errors.Is(err, zookeeper.ErrNotHeld) {
		return errors.Wrapf(port.ErrLockNotHeld, "%s", port.LockKey(scene, key))
	}
	return err
}
