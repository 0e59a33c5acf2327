package domain

import (
	"time"

	"github.com/pkg/errors"
)

// Operation 对单个商品库存的原子变更
type Operation string

const (
	OpNone            Operation = "NONE"
	OpFreeze          Operation = "FREEZE"            // available -> frozen
	OpUnfreezeAndSell Operation = "UNFREEZE_AND_SELL" // frozen -> sold
	OpUnfreeze        Operation = "UNFREEZE"          // frozen -> available
	OpReverse         Operation = "REVERSE"           // sold -> available
)

// InventoryState 单个商品的库存快照。
// Available+Frozen+Sold 在不补货的前提下保持不变。
type InventoryState struct {
	GoodsID   string
	GoodsType GoodsType
	Available int64
	Frozen    int64
	Sold      int64
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewInventory 创建一个全部为可售库存的商品
func NewInventory(goodsType GoodsType, goodsID string, available int64, now time.Time) (*InventoryState, error) {
	if goodsID == "" || available < 0 {
		return nil, errors.Wrapf(ErrInvalidRequest, "inventory %s/%s available=%d", goodsType, goodsID, available)
	}
	if !goodsType.Valid() {
		return nil, errors.Wrapf(ErrUnsupportedGoodsType, "%q", goodsType)
	}
	return &InventoryState{
		GoodsID:   goodsID,
		GoodsType: goodsType,
		Available: available,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s InventoryState) Total() int64 {
	return s.Available + s.Frozen + s.Sold
}

// Apply 返回按 op 移动 qty 之后的新状态，版本号加一。接收者本身不被修改。
// 前置条件不满足时返回 ErrInsufficient* 系列错误。
func (s InventoryState) Apply(op Operation, qty int64, now time.Time) (InventoryState, error) {
	if qty <= 0 {
		return s, errors.Wrapf(ErrInvalidRequest, "quantity must be positive, got %d", qty)
	}
	next := s
	switch op {
	case OpFreeze:
		if s.Available < qty {
			return s, errors.Wrapf(ErrInsufficientStock, "goods %s available=%d want=%d", s.GoodsID, s.Available, qty)
		}
		next.Available -= qty
		next.Frozen += qty
	case OpUnfreezeAndSell:
		if s.Frozen < qty {
			return s, errors.Wrapf(ErrInsufficientFrozen, "goods %s frozen=%d want=%d", s.GoodsID, s.Frozen, qty)
		}
		next.Frozen -= qty
		next.Sold += qty
	case OpUnfreeze:
		if s.Frozen < qty {
			return s, errors.Wrapf(ErrInsufficientFrozen, "goods %s frozen=%d want=%d", s.GoodsID, s.Frozen, qty)
		}
		next.Frozen -= qty
		next.Available += qty
	case OpReverse:
		if s.Sold < qty {
			return s, errors.Wrapf(ErrInsufficientSold, "goods %s sold=%d want=%d", s.GoodsID, s.Sold, qty)
		}
		next.Sold -= qty
		next.Available += qty
	default:
		return s, errors.Errorf("unknown inventory operation %q", op)
	}
	next.Version = s.Version + 1
	next.UpdatedAt = now
	return next, nil
}

// InventoryChange 一次成功的库存变更流水，与变更在同一事务中落库
type InventoryChange struct {
	GoodsType GoodsType
	GoodsID   string
	BizKey    string
	Operation Operation
	Quantity  int64
	Before    InventoryState
	After     InventoryState
	CreatedAt time.Time
}
