package application

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockhub/internal/service/inventory/domain"
	"stockhub/internal/service/inventory/infrastructure/memory"
)

// racingRepo 在第一次写入前让"另一个请求"抢先写入 winner
type racingRepo struct {
	domain.TransactionRepository
	winner *domain.TransactionRecord
	raced  bool
}

func (r *racingRepo) race(ctx context.Context) {
	if r.raced {
		return
	}
	r.raced = true
	if _, err := r.TransactionRepository.Create(ctx, r.winner); err != nil {
		panic(err)
	}
}

func (r *racingRepo) Create(ctx context.Context, record *domain.TransactionRecord) (bool, error) {
	r.race(ctx)
	return r.TransactionRepository.Create(ctx, record)
}

func (r *racingRepo) CompareAndSwapStates(ctx context.Context, id int64, expected, next domain.TransactionStates) (bool, error) {
	if !r.raced {
		r.raced = true
		winnerNext := expected
		winnerNext.Cancel = domain.CancelStateCancelled
		if _, err := r.TransactionRepository.CompareAndSwapStates(ctx, id, expected, winnerNext); err != nil {
			panic(err)
		}
	}
	return r.TransactionRepository.CompareAndSwapStates(ctx, id, expected, next)
}

func TestTransactionLog_TryLosesInsertRaceToCancel(t *testing.T) {
	ctx := context.Background()
	repo := &racingRepo{
		TransactionRepository: memory.NewStore().Transactions(),
		winner:                domain.NewFencingRecord("k", domain.SceneNormalBuyGoods, domain.GoodsTypeBlindBox, time.Now()),
	}
	log := NewTransactionLog(repo)

	_, err := log.Try(ctx, "k", domain.SceneNormalBuyGoods, domain.GoodsTypeBlindBox)
	assert.True(t, errors.Is(err, domain.ErrTryFenced))
}

func TestTransactionLog_CancelLosesInsertRaceToTry(t *testing.T) {
	ctx := context.Background()
	repo := &racingRepo{
		TransactionRepository: memory.NewStore().Transactions(),
		winner:                domain.NewTriedRecord("k", domain.SceneNormalBuyGoods, domain.GoodsTypeBlindBox, time.Now()),
	}
	log := NewTransactionLog(repo)

	outcome, err := log.Cancel(ctx, "k", domain.SceneNormalBuyGoods, domain.GoodsTypeBlindBox)
	require.NoError(t, err)
	assert.Equal(t, domain.CancelAfterTry, outcome)
}

func TestTransactionLog_ConfirmLosesUpdateRaceToCancel(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewStore().Transactions()
	_, err := inner.Create(ctx, domain.NewTriedRecord("k", domain.SceneNormalBuyGoods, domain.GoodsTypeBlindBox, time.Now()))
	require.NoError(t, err)
	log := NewTransactionLog(&racingRepo{TransactionRepository: inner})

	_, err = log.Confirm(ctx, "k", domain.SceneNormalBuyGoods)
	assert.True(t, errors.Is(err, domain.ErrConfirmAfterCancel))
}

func TestTransactionLog_Status(t *testing.T) {
	ctx := context.Background()
	log := NewTransactionLog(memory.NewStore().Transactions())

	st, err := log.Status(ctx, "k", domain.SceneNormalBuyGoods)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInit, st)

	_, err = log.Try(ctx, "k", domain.SceneNormalBuyGoods, domain.GoodsTypeBlindBox)
	require.NoError(t, err)
	st, err = log.Status(ctx, "k", domain.SceneNormalBuyGoods)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTried, st)
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()
	guard := memory.NewGuard()
	calls := 0
	fn := func(context.Context) error { calls++; return nil }

	ran, err := RunOnce(ctx, guard, "k", time.Minute, fn)
	require.NoError(t, err)
	assert.True(t, ran)
	ran, err = RunOnce(ctx, guard, "k", time.Minute, fn)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	_, err = RunOnce(ctx, guard, "k2", time.Minute, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	done, err := guard.IsProcessed(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, done, "failed work must stay retryable")
}

func TestBackends_For(t *testing.T) {
	store := memory.NewStore()
	b := Backends{BlindBox: NewBlindBoxBackend(store.Inventory(domain.GoodsTypeBlindBox), 1, nil)}

	got, err := b.For(domain.GoodsTypeBlindBox)
	require.NoError(t, err)
	assert.Equal(t, domain.GoodsTypeBlindBox, got.GoodsType())

	_, err = b.For(domain.GoodsTypeCollection)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedGoodsType))
	_, err = b.For("TICKET")
	assert.True(t, errors.Is(err, domain.ErrUnsupportedGoodsType))
}
