package domain

import "context"

// TransactionRepository 事务日志的持久化接口，所有写入都是条件写
type TransactionRepository interface {
	// Find 找不到时返回 ErrTransactionNotFound
	Find(ctx context.Context, bizKey, scene string) (*TransactionRecord, error)
	// Create 以 (bizKey, scene) 唯一键插入，记录已存在时返回 false
	Create(ctx context.Context, record *TransactionRecord) (bool, error)
	// CompareAndSwapStates 仅当当前状态等于 expected 时更新为 next
	CompareAndSwapStates(ctx context.Context, id int64, expected, next TransactionStates) (bool, error)
}

// InventoryRepository 单个商品类型的库存持久化接口
type InventoryRepository interface {
	// Get 找不到时返回 ErrGoodsNotFound
	Get(ctx context.Context, goodsID string) (*InventoryState, error)
	// CompareAndSwap 仅当版本号仍为 expectedVersion 时写入 next，并记录 change 流水
	CompareAndSwap(ctx context.Context, expectedVersion int64, next *InventoryState, change *InventoryChange) (bool, error)
	// Create 商品已存在时返回 false
	Create(ctx context.Context, state *InventoryState) (bool, error)
}

// Transactor 本地事务边界。fn 内的仓储调用共享同一个事务，fn 返回错误时全部回滚。
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
