package application

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"stockhub/internal/pkg/logger"
	"stockhub/internal/pkg/metrics"
	"stockhub/internal/service/inventory/domain"
)

// InventoryBackend 某一商品类型的库存操作。
// 返回 false 表示状态前置条件不满足 (库存不足等)，此时没有发生任何变更。
type InventoryBackend interface {
	GoodsType() domain.GoodsType
	FreezeInventory(ctx context.Context, bizKey, goodsID string, qty int64) (bool, error)
	UnfreezeAndSell(ctx context.Context, bizKey, goodsID string, qty int64) (bool, error)
	UnfreezeInventory(ctx context.Context, bizKey, goodsID string, qty int64) (bool, error)
	Reverse(ctx context.Context, bizKey, goodsID string, qty int64) (bool, error)
	Snapshot(ctx context.Context, goodsID string) (*domain.InventoryState, error)
	Provision(ctx context.Context, goodsID string, available int64) (bool, error)
}

// VersionedBackend 读取 -> 纯函数计算 -> 版本号 CAS 写回，冲突时有限次重试
type VersionedBackend struct {
	goodsType  domain.GoodsType
	repo       domain.InventoryRepository
	maxRetries int
	metrics    *metrics.TCCMetrics
	now        func() time.Time
}

func NewVersionedBackend(goodsType domain.GoodsType, repo domain.InventoryRepository, maxRetries int, m *metrics.TCCMetrics) *VersionedBackend {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &VersionedBackend{
		goodsType:  goodsType,
		repo:       repo,
		maxRetries: maxRetries,
		metrics:    m,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NewBlindBoxBackend 盲盒库存
func NewBlindBoxBackend(repo domain.InventoryRepository, maxRetries int, m *metrics.TCCMetrics) *VersionedBackend {
	return NewVersionedBackend(domain.GoodsTypeBlindBox, repo, maxRetries, m)
}

// NewCollectionBackend 藏品库存
func NewCollectionBackend(repo domain.InventoryRepository, maxRetries int, m *metrics.TCCMetrics) *VersionedBackend {
	return NewVersionedBackend(domain.GoodsTypeCollection, repo, maxRetries, m)
}

func (b *VersionedBackend) GoodsType() domain.GoodsType {
	return b.goodsType
}

func (b *VersionedBackend) FreezeInventory(ctx context.Context, bizKey, goodsID string, qty int64) (bool, error) {
	return b.apply(ctx, domain.OpFreeze, bizKey, goodsID, qty)
}

func (b *VersionedBackend) UnfreezeAndSell(ctx context.Context, bizKey, goodsID string, qty int64) (bool, error) {
	return b.apply(ctx, domain.OpUnfreezeAndSell, bizKey, goodsID, qty)
}

func (b *VersionedBackend) UnfreezeInventory(ctx context.Context, bizKey, goodsID string, qty int64) (bool, error) {
	return b.apply(ctx, domain.OpUnfreeze, bizKey, goodsID, qty)
}

func (b *VersionedBackend) Reverse(ctx context.Context, bizKey, goodsID string, qty int64) (bool, error) {
	return b.apply(ctx, domain.OpReverse, bizKey, goodsID, qty)
}

func (b *VersionedBackend) Snapshot(ctx context.Context, goodsID string) (*domain.InventoryState, error) {
	return b.repo.Get(ctx, goodsID)
}

// Provision 初始化商品库存，已存在时不覆盖
func (b *VersionedBackend) Provision(ctx context.Context, goodsID string, available int64) (bool, error) {
	state, err := domain.NewInventory(b.goodsType, goodsID, available, b.now())
	if err != nil {
		return false, err
	}
	return b.repo.Create(ctx, state)
}

func (b *VersionedBackend) apply(ctx context.Context, op domain.Operation, bizKey, goodsID string, qty int64) (bool, error) {
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		current, err := b.repo.Get(ctx, goodsID)
		if err != nil {
			return false, errors.Wrapf(err, "%s %s/%s", op, b.goodsType, goodsID)
		}
		now := b.now()
		next, err := current.Apply(op, qty, now)
		if domain.IsShortage(err) {
			logger.Ctx(ctx).Info().
				Str("goods_type", b.goodsType.String()).
				Str("goods_id", goodsID).
				Str("biz_key", bizKey).
				Str("operation", string(op)).
				Int64("quantity", qty).
				Msg(err.Error())
			return false, nil
		}
		if err != nil {
			return false, err
		}

		change := &domain.InventoryChange{
			GoodsType: b.goodsType,
			GoodsID:   goodsID,
			BizKey:    bizKey,
			Operation: op,
			Quantity:  qty,
			Before:    *current,
			After:     next,
			CreatedAt: now,
		}
		swapped, err := b.repo.CompareAndSwap(ctx, current.Version, &next, change)
		if err != nil {
			return false, errors.Wrapf(err, "%s %s/%s", op, b.goodsType, goodsID)
		}
		if swapped {
			return true, nil
		}
		b.metrics.CASConflict(b.goodsType.String())
		logger.Ctx(ctx).Debug().
			Str("goods_id", goodsID).
			Int64("version", current.Version).
			Int("attempt", attempt+1).
			Msg("inventory version conflict, retrying")
	}
	return false, errors.Wrapf(domain.ErrConcurrentUpdate, "%s %s/%s after %d attempts", op, b.goodsType, goodsID, b.maxRetries+1)
}

// Backends 商品类型到库存后端的封闭映射
type Backends struct {
	BlindBox   InventoryBackend
	Collection InventoryBackend
}

// For 返回商品类型对应的后端，未知类型返回 ErrUnsupportedGoodsType
func (b Backends) For(goodsType domain.GoodsType) (InventoryBackend, error) {
	var backend InventoryBackend
	switch goodsType {
	case domain.GoodsTypeBlindBox:
		backend = b.BlindBox
	case domain.GoodsTypeCollection:
		backend = b.Collection
	}
	if backend == nil {
		return nil, errors.Wrapf(domain.ErrUnsupportedGoodsType, "%q", goodsType)
	}
	return backend, nil
}

// Execute 执行补偿函数选出的库存操作，OpNone 直接视为成功
func Execute(ctx context.Context, backend InventoryBackend, op domain.Operation, bizKey, goodsID string, qty int64) (bool, error) {
	switch op {
	case domain.OpNone:
		return true, nil
	case domain.OpFreeze:
		return backend.FreezeInventory(ctx, bizKey, goodsID, qty)
	case domain.OpUnfreezeAndSell:
		return backend.UnfreezeAndSell(ctx, bizKey, goodsID, qty)
	case domain.OpUnfreeze:
		return backend.UnfreezeInventory(ctx, bizKey, goodsID, qty)
	case domain.OpReverse:
		return backend.Reverse(ctx, bizKey, goodsID, qty)
	}
	return false, errors.Errorf("unknown inventory operation %q", op)
}
