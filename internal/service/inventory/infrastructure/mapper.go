package infrastructure

import (
	"stockhub/internal/service/inventory/domain"
)

// ToDomainTransaction 将数据库模型转换为领域模型
func ToDomainTransaction(m *TransactionLogModel) *domain.TransactionRecord {
	return &domain.TransactionRecord{
		ID:          m.ID,
		BusinessKey: m.BizKey,
		Scene:       m.Scene,
		GoodsType:   domain.GoodsType(m.GoodsType),
		TransactionStates: domain.TransactionStates{
			Try:     domain.TryState(m.TryState),
			Confirm: domain.ConfirmState(m.ConfirmState),
			Cancel:  domain.CancelState(m.CancelState),
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// FromDomainTransaction 将领域模型转换为数据库模型
func FromDomainTransaction(r *domain.TransactionRecord) *TransactionLogModel {
	return &TransactionLogModel{
		ID:           r.ID,
		BizKey:       r.BusinessKey,
		Scene:        r.Scene,
		GoodsType:    string(r.GoodsType),
		TryState:     string(r.Try),
		ConfirmState: string(r.Confirm),
		CancelState:  string(r.Cancel),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func ToDomainInventory(goodsType domain.GoodsType, c *InventoryColumns) *domain.InventoryState {
	return &domain.InventoryState{
		GoodsID:   c.GoodsID,
		GoodsType: goodsType,
		Available: c.AvailableStock,
		Frozen:    c.FrozenStock,
		Sold:      c.SoldStock,
		Version:   c.Version,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func FromDomainInventory(s *domain.InventoryState) *InventoryColumns {
	return &InventoryColumns{
		GoodsID:        s.GoodsID,
		AvailableStock: s.Available,
		FrozenStock:    s.Frozen,
		SoldStock:      s.Sold,
		Version:        s.Version,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func FromDomainChange(c *domain.InventoryChange) *InventoryStreamModel {
	return &InventoryStreamModel{
		GoodsType:       string(c.GoodsType),
		GoodsID:         c.GoodsID,
		BizKey:          c.BizKey,
		Operation:       string(c.Operation),
		Quantity:        c.Quantity,
		AvailableBefore: c.Before.Available,
		FrozenBefore:    c.Before.Frozen,
		SoldBefore:      c.Before.Sold,
		AvailableAfter:  c.After.Available,
		FrozenAfter:     c.After.Frozen,
		SoldAfter:       c.After.Sold,
		Version:         c.After.Version,
		CreatedAt:       c.CreatedAt,
	}
}
