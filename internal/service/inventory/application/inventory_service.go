package application

import (
	"context"

	"github.com/pkg/errors"

	"stockhub/internal/pkg/logger"
	"stockhub/internal/service/inventory/domain"
)

// InventoryService 库存的查询与初始化
type InventoryService struct {
	backends Backends
}

func NewInventoryService(backends Backends) *InventoryService {
	return &InventoryService{backends: backends}
}

// GetInventory 查询单个商品的库存
func (s *InventoryService) GetInventory(ctx context.Context, goodsType domain.GoodsType, goodsID string) (*InventoryView, error) {
	backend, err := s.backends.For(goodsType)
	if err != nil {
		return nil, err
	}
	state, err := backend.Snapshot(ctx, goodsID)
	if err != nil {
		return nil, err
	}
	return toInventoryView(state), nil
}

// SeedGoods 启动时初始化的一条商品库存
type SeedGoods struct {
	GoodsType domain.GoodsType
	GoodsID   string
	Available int64
}

// Seed 初始化商品库存，已存在的商品保持原样
func (s *InventoryService) Seed(ctx context.Context, goods []SeedGoods) error {
	for _, g := range goods {
		backend, err := s.backends.For(g.GoodsType)
		if err != nil {
			return err
		}
		created, err := backend.Provision(ctx, g.GoodsID, g.Available)
		if err != nil {
			return errors.Wrapf(err, "seed %s/%s", g.GoodsType, g.GoodsID)
		}
		logger.Ctx(ctx).Info().
			Str("goods_type", g.GoodsType.String()).
			Str("goods_id", g.GoodsID).
			Int64("available", g.Available).
			Bool("created", created).
			Msg("inventory seeded")
	}
	return nil
}
