package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockhub/internal/service/inventory/domain"
)

// GormTransactionRepository 是 TransactionRepository 的 GORM 实现
type GormTransactionRepository struct {
	db *gorm.DB
}

func NewGormTransactionRepository(db *gorm.DB) *GormTransactionRepository {
	return &GormTransactionRepository{db: db}
}

func (r *GormTransactionRepository) Find(ctx context.Context, bizKey, scene string) (*domain.TransactionRecord, error) {
	var model TransactionLogModel
	err := conn(ctx, r.db).Where("biz_key = ? AND scene = ?", bizKey, scene).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(domain.ErrTransactionNotFound, "%s/%s", scene, bizKey)
		}
		return nil, err
	}
	return ToDomainTransaction(&model), nil
}

// Create 依赖 (biz_key, scene) 唯一索引，冲突时不写入并返回 false
func (r *GormTransactionRepository) Create(ctx context.Context, record *domain.TransactionRecord) (bool, error) {
	model := FromDomainTransaction(record)
	res := conn(ctx, r.db).Clauses(clause.OnConflict{DoNothing: true}).Create(model)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	record.ID = model.ID
	return true, nil
}

func (r *GormTransactionRepository) CompareAndSwapStates(ctx context.Context, id int64, expected, next domain.TransactionStates) (bool, error) {
	res := conn(ctx, r.db).Model(&TransactionLogModel{}).
		Where("id = ? AND try_state = ? AND confirm_state = ? AND cancel_state = ?",
			id, string(expected.Try), string(expected.Confirm), string(expected.Cancel)).
		Updates(map[string]interface{}{
			"try_state":     string(next.Try),
			"confirm_state": string(next.Confirm),
			"cancel_state":  string(next.Cancel),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// GormInventoryRepository 单个商品类型的库存表，版本号乐观锁
type GormInventoryRepository struct {
	db        *gorm.DB
	goodsType domain.GoodsType
	table     string
}

func NewGormInventoryRepository(db *gorm.DB, goodsType domain.GoodsType) (*GormInventoryRepository, error) {
	var table string
	switch goodsType {
	case domain.GoodsTypeBlindBox:
		table = BlindBoxInventoryModel{}.TableName()
	case domain.GoodsTypeCollection:
		table = CollectionInventoryModel{}.TableName()
	default:
		return nil, errors.Wrapf(domain.ErrUnsupportedGoodsType, "%q", goodsType)
	}
	return &GormInventoryRepository{db: db, goodsType: goodsType, table: table}, nil
}

func (r *GormInventoryRepository) Get(ctx context.Context, goodsID string) (*domain.InventoryState, error) {
	var row InventoryColumns
	err := conn(ctx, r.db).Table(r.table).Where("goods_id = ?", goodsID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(domain.ErrGoodsNotFound, "%s/%s", r.goodsType, goodsID)
		}
		return nil, err
	}
	return ToDomainInventory(r.goodsType, &row), nil
}

// CompareAndSwap 条件更新 WHERE version = expectedVersion，成功后写入流水
func (r *GormInventoryRepository) CompareAndSwap(ctx context.Context, expectedVersion int64, next *domain.InventoryState, change *domain.InventoryChange) (bool, error) {
	db := conn(ctx, r.db)
	res := db.Table(r.table).
		Where("goods_id = ? AND version = ?", next.GoodsID, expectedVersion).
		Updates(map[string]interface{}{
			"available_stock": next.Available,
			"frozen_stock":    next.Frozen,
			"sold_stock":      next.Sold,
			"version":         next.Version,
			"updated_at":      next.UpdatedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	if change != nil {
		if err := db.Create(FromDomainChange(change)).Error; err != nil {
			return false, errors.Wrap(err, "append inventory stream")
		}
	}
	return true, nil
}

func (r *GormInventoryRepository) Create(ctx context.Context, state *domain.InventoryState) (bool, error) {
	res := conn(ctx, r.db).Table(r.table).Clauses(clause.OnConflict{DoNothing: true}).Create(FromDomainInventory(state))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
