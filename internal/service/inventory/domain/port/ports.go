package port

import (
	"context"

	"stockhub/internal/service/inventory/domain"
)

// PurchaseRule 在 Try 之前对购买请求做业务规则校验
type PurchaseRule interface {
	Allow(ctx context.Context, goodsType domain.GoodsType, goodsID string, quantity int64) (bool, error)
}

// InconsistencyReporter 上报事务日志与库存不一致的情况
type InconsistencyReporter interface {
	Report(ctx context.Context, event *domain.InconsistencyEvent) error
}

// InconsistencyPublisher 把不一致事件投递到外部告警通道
type InconsistencyPublisher interface {
	Publish(ctx context.Context, event *domain.InconsistencyEvent) error
}

// ReplyPublisher 发布 Kafka 指令的执行结果
type ReplyPublisher interface {
	PublishReply(ctx context.Context, reply *domain.InventoryReply) error
}
