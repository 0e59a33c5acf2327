package memory

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockhub/internal/service/inventory/domain"
	"stockhub/internal/service/inventory/domain/port"
)

func TestStore_TransactionRollback(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	inv := s.Inventory(domain.GoodsTypeBlindBox)
	state, err := domain.NewInventory(domain.GoodsTypeBlindBox, "box-1", 5, time.Now())
	require.NoError(t, err)
	created, err := inv.Create(ctx, state)
	require.NoError(t, err)
	require.True(t, created)

	boom := errors.New("boom")
	err = s.InTransaction(ctx, func(ctx context.Context) error {
		_, err := s.Transactions().Create(ctx, domain.NewTriedRecord("k1", domain.SceneNormalBuyGoods, domain.GoodsTypeBlindBox, time.Now()))
		require.NoError(t, err)
		next, err := state.Apply(domain.OpFreeze, 2, time.Now())
		require.NoError(t, err)
		swapped, err := inv.CompareAndSwap(ctx, state.Version, &next, &domain.InventoryChange{GoodsID: "box-1"})
		require.NoError(t, err)
		require.True(t, swapped)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Transactions().Find(ctx, "k1", domain.SceneNormalBuyGoods)
	assert.True(t, errors.Is(err, domain.ErrTransactionNotFound))
	got, err := inv.Get(ctx, "box-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Available)
	assert.Empty(t, s.Changes())
}

func TestStore_TransactionRecordCAS(t *testing.T) {
	ctx := context.Background()
	repo := NewStore().Transactions()
	rec := domain.NewTriedRecord("k1", domain.SceneNormalBuyGoods, domain.GoodsTypeCollection, time.Now())

	created, err := repo.Create(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = repo.Create(ctx, domain.NewFencingRecord("k1", domain.SceneNormalBuyGoods, domain.GoodsTypeCollection, time.Now()))
	require.NoError(t, err)
	assert.False(t, created)

	next := rec.TransactionStates
	next.Confirm = domain.ConfirmStateConfirmed
	ok, err := repo.CompareAndSwapStates(ctx, rec.ID, rec.TransactionStates, next)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CompareAndSwapStates(ctx, rec.ID, rec.TransactionStates, next)
	require.NoError(t, err)
	assert.False(t, ok, "stale expected state must not match")
}

func TestLocker_FailFastAndExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	l := NewLocker()
	l.now = func() time.Time { return now }

	token, ok, err := l.Acquire(ctx, "order-1", "S", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Acquire(ctx, "order-1", "S", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = l.Acquire(ctx, "order-1", "OTHER", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "scene is part of the key")

	assert.ErrorIs(t, l.Release(ctx, "order-1", "S", "wrong"), port.ErrLockNotHeld)

	now = now.Add(2 * time.Second)
	token2, ok, err := l.Acquire(ctx, "order-1", "S", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken over")

	assert.ErrorIs(t, l.Release(ctx, "order-1", "S", token), port.ErrLockNotHeld)
	assert.NoError(t, l.Release(ctx, "order-1", "S", token2))
}

func TestGuard(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	g := NewGuard()
	g.now = func() time.Time { return now }

	done, err := g.IsProcessed(ctx, "cmd-1")
	require.NoError(t, err)
	assert.False(t, done)

	first, err := g.MarkAsProcessed(ctx, "cmd-1", "v", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)
	second, err := g.MarkAsProcessed(ctx, "cmd-1", "v", time.Minute)
	require.NoError(t, err)
	assert.False(t, second)

	now = now.Add(2 * time.Minute)
	done, err = g.IsProcessed(ctx, "cmd-1")
	require.NoError(t, err)
	assert.False(t, done)
}
