package adapter

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"stockhub/internal/pkg/logger"
	"stockhub/internal/pkg/mq"
	"stockhub/internal/service/inventory/domain"
)

// InconsistencyKafkaAdapter 把不一致事件发布到告警 topic，以 bizKey 作为分区键
type InconsistencyKafkaAdapter struct {
	writer mq.MessageWriter
}

func NewInconsistencyKafkaAdapter(writer mq.MessageWriter) *InconsistencyKafkaAdapter {
	return &InconsistencyKafkaAdapter{writer: writer}
}

func (a *InconsistencyKafkaAdapter) Publish(ctx context.Context, event *domain.InconsistencyEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal inconsistency event")
	}
	return mq.ProduceMessage(ctx, a.writer, []byte(event.BizKey), payload)
}

// ReplyKafkaAdapter 发布指令执行结果
type ReplyKafkaAdapter struct {
	writer mq.MessageWriter
}

func NewReplyKafkaAdapter(writer mq.MessageWriter) *ReplyKafkaAdapter {
	return &ReplyKafkaAdapter{writer: writer}
}

func (a *ReplyKafkaAdapter) PublishReply(ctx context.Context, reply *domain.InventoryReply) error {
	payload, err := json.Marshal(reply)
	if err != nil {
		return errors.Wrap(err, "marshal inventory reply")
	}
	msg := kafka.Message{Key: []byte(reply.BizKey), Value: payload}
	mq.InjectTraceContext(ctx, &msg.Headers)
	return a.writer.WriteMessages(ctx, msg)
}

// InconsistencyLogAdapter 未配置 Kafka 时只把告警写入日志
type InconsistencyLogAdapter struct{}

func (InconsistencyLogAdapter) Publish(ctx context.Context, event *domain.InconsistencyEvent) error {
	logger.Ctx(ctx).Error().
		Str("event_id", event.EventID).
		Str("phase", event.Phase.String()).
		Str("biz_key", event.BizKey).
		Str("goods_type", event.GoodsType.String()).
		Str("goods_id", event.GoodsID).
		Str("reason", event.Reason).
		Msg("🚨 inventory inconsistency alert")
	return nil
}
