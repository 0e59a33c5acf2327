package infrastructure

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"gorm.io/gorm"

	"stockhub/internal/service/inventory/application"
	"stockhub/internal/service/inventory/domain"
	"stockhub/internal/service/inventory/infrastructure/memory"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "stockhub.db")), &gorm.Config{Logger: NewGormLogger()})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return db
}

func TestOpen_MigratesTables(t *testing.T) {
	db, err := open(sqlite.Open(filepath.Join(t.TempDir(), "open.db")), MySQLOptions{MaxOpenConns: 1})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, model := range []any{&TransactionLogModel{}, &BlindBoxInventoryModel{}, &CollectionInventoryModel{}, &InventoryStreamModel{}} {
		assert.True(t, db.Migrator().HasTable(model), "%T", model)
	}
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestGormTransactionRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewGormTransactionRepository(newTestDB(t))

	_, err := repo.Find(ctx, "k1", domain.SceneNormalBuyGoods)
	assert.True(t, errors.Is(err, domain.ErrTransactionNotFound))

	rec := domain.NewTriedRecord("k1", domain.SceneNormalBuyGoods, domain.GoodsTypeBlindBox, time.Now().UTC())
	created, err := repo.Create(ctx, rec)
	require.NoError(t, err)
	require.True(t, created)
	assert.NotZero(t, rec.ID)

	created, err = repo.Create(ctx, domain.NewFencingRecord("k1", domain.SceneNormalBuyGoods, domain.GoodsTypeBlindBox, time.Now().UTC()))
	require.NoError(t, err)
	assert.False(t, created, "unique (biz_key, scene) must reject the second insert")

	created, err = repo.Create(ctx, domain.NewFencingRecord("k1", "OTHER_SCENE", domain.GoodsTypeBlindBox, time.Now().UTC()))
	require.NoError(t, err)
	assert.True(t, created)

	next := rec.TransactionStates
	next.Confirm = domain.ConfirmStateConfirmed
	ok, err := repo.CompareAndSwapStates(ctx, rec.ID, rec.TransactionStates, next)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.CompareAndSwapStates(ctx, rec.ID, rec.TransactionStates, next)
	require.NoError(t, err)
	assert.False(t, ok)

	found, err := repo.Find(ctx, "k1", domain.SceneNormalBuyGoods)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, found.Status())
	assert.Equal(t, domain.GoodsTypeBlindBox, found.GoodsType)
}

func TestGormInventoryRepository_CASAndStream(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo, err := NewGormInventoryRepository(db, domain.GoodsTypeCollection)
	require.NoError(t, err)

	_, err = repo.Get(ctx, "art-1")
	assert.True(t, errors.Is(err, domain.ErrGoodsNotFound))

	state, err := domain.NewInventory(domain.GoodsTypeCollection, "art-1", 10, time.Now().UTC())
	require.NoError(t, err)
	created, err := repo.Create(ctx, state)
	require.NoError(t, err)
	require.True(t, created)
	created, err = repo.Create(ctx, state)
	require.NoError(t, err)
	assert.False(t, created)

	current, err := repo.Get(ctx, "art-1")
	require.NoError(t, err)
	next, err := current.Apply(domain.OpFreeze, 4, time.Now().UTC())
	require.NoError(t, err)
	change := &domain.InventoryChange{GoodsType: domain.GoodsTypeCollection, GoodsID: "art-1", BizKey: "k1",
		Operation: domain.OpFreeze, Quantity: 4, Before: *current, After: next, CreatedAt: time.Now().UTC()}

	ok, err := repo.CompareAndSwap(ctx, current.Version, &next, change)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.CompareAndSwap(ctx, current.Version, &next, change)
	require.NoError(t, err)
	assert.False(t, ok, "stale version must not be written")

	got, err := repo.Get(ctx, "art-1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.Available)
	assert.Equal(t, int64(4), got.Frozen)
	assert.Equal(t, current.Version+1, got.Version)

	var rows []InventoryStreamModel
	require.NoError(t, db.Where("biz_key = ?", "k1").Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(10), rows[0].AvailableBefore)
	assert.Equal(t, int64(6), rows[0].AvailableAfter)

	blindBox, err := NewGormInventoryRepository(db, domain.GoodsTypeBlindBox)
	require.NoError(t, err)
	_, err = blindBox.Get(ctx, "art-1")
	assert.True(t, errors.Is(err, domain.ErrGoodsNotFound), "goods types live in separate tables")

	_, err = NewGormInventoryRepository(db, "TICKET")
	assert.True(t, errors.Is(err, domain.ErrUnsupportedGoodsType))
}

func TestGormCoordinator_FailedTryRollsBackLogRecord(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	blindBoxRepo, err := NewGormInventoryRepository(db, domain.GoodsTypeBlindBox)
	require.NoError(t, err)
	collectionRepo, err := NewGormInventoryRepository(db, domain.GoodsTypeCollection)
	require.NoError(t, err)
	backends := application.Backends{
		BlindBox:   application.NewBlindBoxBackend(blindBoxRepo, 3, nil),
		Collection: application.NewCollectionBackend(collectionRepo, 3, nil),
	}
	require.NoError(t, application.NewInventoryService(backends).Seed(ctx, []application.SeedGoods{
		{GoodsType: domain.GoodsTypeBlindBox, GoodsID: "box-1", Available: 5},
	}))

	txRepo := NewGormTransactionRepository(db)
	coord := application.NewCoordinator(domain.SceneNormalBuyGoods, time.Second, application.NewTransactionLog(txRepo),
		backends, NewGormTransactor(db, sql.LevelDefault), memory.NewLocker(), nil, nil, nil, noop.NewTracerProvider().Tracer("test"))

	req := func(key string, qty int64) *application.DecreaseRequest {
		return &application.DecreaseRequest{BizKey: key, GoodsID: "box-1", GoodsType: domain.GoodsTypeBlindBox, Quantity: qty}
	}

	res, err := coord.TryDecreaseInventory(ctx, req("k1", 3))
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = coord.TryDecreaseInventory(ctx, req("k2", 3))
	require.NoError(t, err)
	assert.Equal(t, application.CodeInsufficientStock, res.Code)
	_, err = txRepo.Find(ctx, "k2", domain.SceneNormalBuyGoods)
	assert.True(t, errors.Is(err, domain.ErrTransactionNotFound), "TRIED record must be rolled back")

	res, err = coord.ConfirmDecreaseInventory(ctx, req("k1", 3))
	require.NoError(t, err)
	assert.Equal(t, string(domain.ConfirmSuccess), res.Outcome)
	res, err = coord.CancelDecreaseInventory(ctx, req("k1", 3))
	require.NoError(t, err)
	assert.Equal(t, string(domain.CancelAfterConfirm), res.Outcome)

	state, err := blindBoxRepo.Get(ctx, "box-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), state.Available)
	assert.Equal(t, int64(0), state.Sold)

	var streamRows int64
	require.NoError(t, db.Model(&InventoryStreamModel{}).Where("biz_key = ?", "k1").Count(&streamRows).Error)
	assert.Equal(t, int64(3), streamRows)
}

func TestGormTransactor_NestedCallsShareTransaction(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	tx := NewGormTransactor(db, sql.LevelDefault)
	repo := NewGormTransactionRepository(db)

	boom := errors.New("boom")
	err := tx.InTransaction(ctx, func(ctx context.Context) error {
		return tx.InTransaction(ctx, func(ctx context.Context) error {
			_, err := repo.Create(ctx, domain.NewTriedRecord("k", domain.SceneNormalBuyGoods, domain.GoodsTypeBlindBox, time.Now().UTC()))
			require.NoError(t, err)
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)

	_, err = repo.Find(ctx, "k", domain.SceneNormalBuyGoods)
	assert.True(t, errors.Is(err, domain.ErrTransactionNotFound))
}
