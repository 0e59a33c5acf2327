package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"stockhub/internal/service/inventory/domain/port"
)

type lease struct {
	token     string
	expiresAt time.Time
}

// Locker 进程内的租约锁，语义与 Redis SET NX PX 一致
type Locker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

func NewLocker() *Locker {
	return &Locker{leases: make(map[string]lease), now: time.Now}
}

func (l *Locker) Acquire(_ context.Context, key, scene string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := port.LockKey(scene, key)
	now := l.now()
	if held, ok := l.leases[k]; ok && now.Before(held.expiresAt) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.leases[k] = lease{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (l *Locker) Release(_ context.Context, key, scene, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := port.LockKey(scene, key)
	held, ok := l.leases[k]
	if !ok || held.token != token {
		return errors.Wrapf(port.ErrLockNotHeld, "%s", k)
	}
	delete(l.leases, k)
	return nil
}

// Guard 进程内的幂等标记
type Guard struct {
	mu      sync.Mutex
	markers map[string]lease
	now     func() time.Time
}

func NewGuard() *Guard {
	return &Guard{markers: make(map[string]lease), now: time.Now}
}

func (g *Guard) IsProcessed(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.markers[key]
	return ok && g.now().Before(m.expiresAt), nil
}

func (g *Guard) MarkAsProcessed(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if m, ok := g.markers[key]; ok && now.Before(m.expiresAt) {
		return false, nil
	}
	g.markers[key] = lease{token: value, expiresAt: now.Add(ttl)}
	return true, nil
}
