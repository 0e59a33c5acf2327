package mq

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"stockhub/internal/pkg/logger"
)

// FailureHandler 处理消费失败的消息：先重新投递到原 topic，超过次数后转入死信队列。
type FailureHandler struct {
	writer     MessageWriter // 未绑定 topic 的写入器，由消息指定目标
	dltTopic   string
	maxRetries int
}

// NewFailureHandler 创建失败处理器。
func NewFailureHandler(writer MessageWriter, dltTopic string, maxRetries int) *FailureHandler {
	return &FailureHandler{writer: writer, dltTopic: dltTopic, maxRetries: maxRetries}
}

// Handle 根据重试次数决定重投还是进入 DLT。返回 nil 表示原消息可以提交。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) error {
	retries, _ := strconv.Atoi(HeaderValue(msg.Headers, HeaderRetryCount))

	if retries < h.maxRetries {
		retry := kafka.Message{
			Topic:   msg.Topic,
			Key:     msg.Key,
			Value:   msg.Value,
			Headers: withHeader(msg.Headers, HeaderRetryCount, strconv.Itoa(retries+1)),
		}
		logger.Ctx(ctx).Warn().
			Err(cause).
			Str("topic", msg.Topic).
			Int("retry", retries+1).
			Msg("message processing failed, re-publishing")
		if err := h.writer.WriteMessages(ctx, retry); err != nil {
			return errors.Wrapf(err, "re-publish message to %s", msg.Topic)
		}
		return nil
	}

	headers := withHeader(msg.Headers, HeaderOriginalTopic, msg.Topic)
	headers = withHeader(headers, HeaderOriginalPartition, strconv.Itoa(msg.Partition))
	headers = withHeader(headers, HeaderOriginalOffset, strconv.FormatInt(msg.Offset, 10))
	headers = withHeader(headers, HeaderExceptionFqcn, fmt.Sprintf("%T", errors.Cause(cause)))
	headers = withHeader(headers, HeaderExceptionMessage, cause.Error())

	logger.Ctx(ctx).Error().
		Err(cause).
		Str("topic", msg.Topic).
		Str("dlt_topic", h.dltTopic).
		Int64("offset", msg.Offset).
		Msg("retries exhausted, sending message to DLT")
	if err := h.writer.WriteMessages(ctx, kafka.Message{
		Topic:   h.dltTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}); err != nil {
		return errors.Wrapf(err, "publish message to DLT %s", h.dltTopic)
	}
	return nil
}

func withHeader(headers []kafka.Header, key, value string) []kafka.Header {
	out := make([]kafka.Header, len(headers))
	copy(out, headers)
	carrier := KafkaHeaderCarrier(out)
	carrier.Set(key, value)
	return carrier
}
