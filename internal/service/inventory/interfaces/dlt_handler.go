package interfaces

import (
	"context"

	"github.com/segmentio/kafka-go"

	"stockhub/internal/pkg/logger"
	"stockhub/internal/pkg/mq"
)

// DltConsumer 监听死信队列并记录日志
type DltConsumer struct {
	*consumeLoop
}

func NewDltConsumer(reader mq.MessageReader) *DltConsumer {
	return &DltConsumer{consumeLoop: newConsumeLoop("inventory-dlt", reader, logDeadLetter)}
}

// logDeadLetter 死信消息记录后即视为已处理
func logDeadLetter(ctx context.Context, msg kafka.Message) error {
	ctx = mq.ExtractTraceContext(ctx, msg.Headers)
	logger.Ctx(ctx).Error().
		Str("reason", "dead_letter_message_received").
		Str("original_topic", mq.HeaderValue(msg.Headers, mq.HeaderOriginalTopic)).
		Str("original_partition", mq.HeaderValue(msg.Headers, mq.HeaderOriginalPartition)).
		Str("original_offset", mq.HeaderValue(msg.Headers, mq.HeaderOriginalOffset)).
		Str("exception_fqcn", mq.HeaderValue(msg.Headers, mq.HeaderExceptionFqcn)).
		Str("exception_message", mq.HeaderValue(msg.Headers, mq.HeaderExceptionMessage)).
		Str("key", string(msg.Key)).
		Str("value", string(msg.Value)).
		Msg("🚨 CRITICAL: Dead letter message received")
	return nil
}
