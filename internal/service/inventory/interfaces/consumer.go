package interfaces

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"stockhub/internal/pkg/logger"
	"stockhub/internal/pkg/mq"
)

// consumeLoop 拉取消息、交给 handle 处理、成功后提交 offset。handle 返回错误时不提交。
type consumeLoop struct {
	name    string
	reader  mq.MessageReader
	handle  func(ctx context.Context, msg kafka.Message) error
	stopped atomic.Bool
	done    chan struct{}
}

func newConsumeLoop(name string, reader mq.MessageReader, handle func(ctx context.Context, msg kafka.Message) error) *consumeLoop {
	return &consumeLoop{name: name, reader: reader, handle: handle, done: make(chan struct{})}
}

// Start 阻塞运行，直到 ctx 取消或 Stop 被调用
func (c *consumeLoop) Start(ctx context.Context) error {
	defer close(c.done)
	topic := c.reader.Config().Topic
	logger.Ctx(ctx).Info().Str("consumer", c.name).Str("topic", topic).Msg("✅ Kafka consumer started")
	for {
		// FetchMessage 而不是 ReadMessage，offset 由处理结果决定是否提交
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || c.stopped.Load() {
				logger.Ctx(ctx).Info().Str("consumer", c.name).Msg("🛑 Kafka consumer shutting down")
				return nil
			}
			logger.Ctx(ctx).Error().Err(err).Str("consumer", c.name).Msg("could not fetch message, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().
				Err(err).
				Str("consumer", c.name).
				Str("topic", msg.Topic).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("message left uncommitted")
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("consumer", c.name).Msg("failed to commit message")
		}
	}
}

func (c *consumeLoop) Stop(ctx context.Context) {
	c.stopped.Store(true)
	if err := c.reader.Close(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("consumer", c.name).Msg("error closing reader")
	}
	select {
	case <-c.done:
	case <-ctx.Done():
	}
	logger.Ctx(ctx).Info().Str("consumer", c.name).Msg("✅ Kafka consumer stopped")
}
