package infrastructure

import "time"

// TransactionLogModel 事务日志表，(biz_key, scene) 唯一
type TransactionLogModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	BizKey       string    `gorm:"column:biz_key;type:varchar(128);not null;uniqueIndex:uk_biz_key_scene,priority:1"`
	Scene        string    `gorm:"column:scene;type:varchar(64);not null;uniqueIndex:uk_biz_key_scene,priority:2"`
	GoodsType    string    `gorm:"column:goods_type;type:varchar(32);not null"`
	TryState     string    `gorm:"column:try_state;type:varchar(16);not null"`
	ConfirmState string    `gorm:"column:confirm_state;type:varchar(16);not null"`
	CancelState  string    `gorm:"column:cancel_state;type:varchar(16);not null"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (TransactionLogModel) TableName() string {
	return "inventory_transaction_log"
}

// InventoryColumns 两张库存表共用的列
type InventoryColumns struct {
	GoodsID        string    `gorm:"column:goods_id;type:varchar(64);primaryKey"`
	AvailableStock int64     `gorm:"column:available_stock;not null"`
	FrozenStock    int64     `gorm:"column:frozen_stock;not null"`
	SoldStock      int64     `gorm:"column:sold_stock;not null"`
	Version        int64     `gorm:"column:version;not null"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

// BlindBoxInventoryModel 盲盒库存表
type BlindBoxInventoryModel struct {
	InventoryColumns `gorm:"embedded"`
}

func (BlindBoxInventoryModel) TableName() string {
	return "blind_box_inventory"
}

// CollectionInventoryModel 藏品库存表
type CollectionInventoryModel struct {
	InventoryColumns `gorm:"embedded"`
}

func (CollectionInventoryModel) TableName() string {
	return "collection_inventory"
}

// InventoryStreamModel 库存变更流水，和库存更新在同一事务中写入
type InventoryStreamModel struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	GoodsType       string    `gorm:"column:goods_type;type:varchar(32);not null;index:idx_stream_goods,priority:1"`
	GoodsID         string    `gorm:"column:goods_id;type:varchar(64);not null;index:idx_stream_goods,priority:2"`
	BizKey          string    `gorm:"column:biz_key;type:varchar(128);not null;index:idx_stream_biz_key"`
	Operation       string    `gorm:"column:operation;type:varchar(32);not null"`
	Quantity        int64     `gorm:"column:quantity;not null"`
	AvailableBefore int64     `gorm:"column:available_before"`
	FrozenBefore    int64     `gorm:"column:frozen_before"`
	SoldBefore      int64     `gorm:"column:sold_before"`
	AvailableAfter  int64     `gorm:"column:available_after"`
	FrozenAfter     int64     `gorm:"column:frozen_after"`
	SoldAfter       int64     `gorm:"column:sold_after"`
	Version         int64     `gorm:"column:version"`
	CreatedAt       time.Time `gorm:"column:created_at"`
}

func (InventoryStreamModel) TableName() string {
	return "inventory_stream"
}
