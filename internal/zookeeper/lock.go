// internal/zookeeper/lock.go
package zookeeper

import (
	"net/url"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
)

const (
	lockRoot = "/distributed_locks" // 所有分布式锁的根节点
)

// ErrNotHeld 释放时节点已不存在或属于其他持有者
var ErrNotHeld = errors.New("zookeeper lock is not held by this token")

// Conn 是锁用到的 ZooKeeper 操作子集，*zk.Conn 满足该接口
type Conn interface {
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Get(path string) ([]byte, *zk.Stat, error)
	Delete(path string, version int32) error
	Exists(path string) (bool, *zk.Stat, error)
}

// Connect 建立 ZooKeeper 会话。会话超时同时是锁租约的上限。
func Connect(servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "connect zookeeper %v", servers)
	}
	return conn, nil
}

// LeaseLock 基于临时节点的非阻塞锁: 创建成功即持有，节点已存在立即返回失败。
// 持有者会话断开后节点被 ZooKeeper 自动删除。
type LeaseLock struct {
	conn Conn
	root string
}

// NewLeaseLock 创建锁并确保根节点存在
func NewLeaseLock(conn Conn) (*LeaseLock, error) {
	l := &LeaseLock{conn: conn, root: lockRoot}
	if err := l.ensure(l.root); err != nil {
		return nil, err
	}
	return l, nil
}

// TryLock 尝试以 token 为节点数据创建锁节点
func (l *LeaseLock) TryLock(scene, key, token string) (bool, error) {
	parent := l.root + "/" + escape(scene)
	if err := l.ensure(parent); err != nil {
		return false, err
	}
	_, err := l.conn.Create(parent+"/"+escape(key), []byte(token), zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if errors.Is(err, zk.ErrNodeExists) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "create lock node %s/%s", scene, key)
	}
	return true, nil
}

// Unlock 只删除数据与 token 一致的节点，删除时带上版本号防止误删新持有者的节点
func (l *LeaseLock) Unlock(scene, key, token string) error {
	path := l.root + "/" + escape(scene) + "/" + escape(key)
	data, stat, err := l.conn.Get(path)
	if errors.Is(err, zk.ErrNoNode) {
		return ErrNotHeld
	}
	if err != nil {
		return errors.Wrapf(err, "read lock node %s", path)
	}
	if string(data) != token {
		return ErrNotHeld
	}
	err = l.conn.Delete(path, stat.Version)
	if errors.Is(err, zk.ErrNoNode) || errors.Is(err, zk.ErrBadVersion) {
		return ErrNotHeld
	}
	return errors.Wrapf(err, "delete lock node %s", path)
}

// ensure 创建持久化的父节点，已存在时忽略
func (l *LeaseLock) ensure(path string) error {
	exists, _, err := l.conn.Exists(path)
	if err != nil {
		return errors.Wrapf(err, "check node %s", path)
	}
	if exists {
		return nil
	}
	_, err = l.conn.Create(path, []byte(""), 0, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return errors.Wrapf(err, "create node %s", path)
	}
	return nil
}

// escape 业务键可能包含 '/'，需要转义为合法的单级节点名
func escape(s string) string {
	return url.PathEscape(s)
}
