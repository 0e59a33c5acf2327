package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stockhub/internal/pkg/logger"
	"stockhub/internal/pkg/mq"
	"stockhub/internal/service/inventory/application"
	"stockhub/internal/service/inventory/domain"
	"stockhub/internal/service/inventory/domain/port"
)

// CommandConsumer 消费 TCC 指令，执行对应阶段并把结果发布到回复 topic。
// 同一个 CommandID 在 dedupeTTL 内只执行一次；处理失败的消息交给 FailureHandler 重投或进入死信队列。
type CommandConsumer struct {
	*consumeLoop

	tcc       TCCService
	guard     port.IdempotencyGuard
	dedupeTTL time.Duration
	replies   port.ReplyPublisher
	failures  *mq.FailureHandler
}

func NewCommandConsumer(
	reader mq.MessageReader,
	tcc TCCService,
	guard port.IdempotencyGuard,
	dedupeTTL time.Duration,
	replies port.ReplyPublisher,
	failures *mq.FailureHandler,
) *CommandConsumer {
	c := &CommandConsumer{
		tcc:       tcc,
		guard:     guard,
		dedupeTTL: dedupeTTL,
		replies:   replies,
		failures:  failures,
	}
	c.consumeLoop = newConsumeLoop("inventory-commands", reader, c.handleMessage)
	return c
}

// handleMessage 返回 nil 表示消息可以提交: 已处理、已重投或已进入死信队列
func (c *CommandConsumer) handleMessage(parentCtx context.Context, msg kafka.Message) error {
	ctx := mq.ExtractTraceContext(parentCtx, msg.Headers)
	ctx, span := otel.Tracer("inventory-service").Start(ctx, "kafka.consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		))
	defer span.End()

	err := c.process(ctx, msg)
	if err == nil {
		return nil
	}
	span.RecordError(err)
	if c.failures == nil {
		return err
	}
	return c.failures.Handle(ctx, msg, err)
}

func (c *CommandConsumer) process(ctx context.Context, msg kafka.Message) error {
	var cmd domain.InventoryCommand
	if err := json.Unmarshal(msg.Value, &cmd); err != nil {
		return errors.Wrap(err, "unmarshal inventory command")
	}

	// 没有 CommandID 的指令不去重，阶段本身的幂等由事务日志保证
	if cmd.CommandID == "" {
		return ignoreRetryLater(c.execute(ctx, &cmd))
	}
	executed, err := application.RunOnce(ctx, c.guard, "cmd:"+cmd.CommandID, c.dedupeTTL, func(ctx context.Context) error {
		return c.execute(ctx, &cmd)
	})
	if err != nil {
		return ignoreRetryLater(err)
	}
	if !executed {
		logger.Ctx(ctx).Info().Str("command_id", cmd.CommandID).Str("biz_key", cmd.BizKey).Msg("duplicate command skipped")
	}
	return nil
}

// errRetryLater 表示已回复 LOCKED/BUSY，但指令没有生效，不能记为已处理
var errRetryLater = errors.New("command replied with retryable result")

func ignoreRetryLater(err error) error {
	if errors.Is(err, errRetryLater) {
		return nil
	}
	return err
}

// execute 协议违规和不一致属于确定性失败，直接回复而不重试
func (c *CommandConsumer) execute(ctx context.Context, cmd *domain.InventoryCommand) error {
	req := &application.DecreaseRequest{
		BizKey:    cmd.BizKey,
		GoodsID:   cmd.GoodsID,
		GoodsType: cmd.GoodsType,
		Quantity:  cmd.Quantity,
	}

	var call phaseCall
	switch cmd.Phase {
	case domain.PhaseTry:
		call = c.tcc.TryDecreaseInventory
	case domain.PhaseConfirm:
		call = c.tcc.ConfirmDecreaseInventory
	case domain.PhaseCancel:
		call = c.tcc.CancelDecreaseInventory
	default:
		return c.reply(ctx, cmd, nil, errors.Wrapf(domain.ErrInvalidRequest, "unknown phase %q", cmd.Phase))
	}

	result, err := call(ctx, req)
	if err != nil && !domain.IsProtocolViolation(err) && !errors.Is(err, domain.ErrInventoryInconsistent) {
		return err
	}
	if replyErr := c.reply(ctx, cmd, result, err); replyErr != nil {
		return replyErr
	}
	if err == nil && result.Code.Retryable() {
		return errRetryLater
	}
	return nil
}

func (c *CommandConsumer) reply(ctx context.Context, cmd *domain.InventoryCommand, result *application.DecreaseResult, cause error) error {
	reply := &domain.InventoryReply{
		CommandID: cmd.CommandID,
		Phase:     cmd.Phase,
		BizKey:    cmd.BizKey,
	}
	if cause != nil {
		_, code := errorStatus(cause)
		reply.Code = code
		reply.Message = cause.Error()
	} else {
		reply.Success = result.Success
		reply.Code = string(result.Code)
		reply.Outcome = result.Outcome
		reply.Message = result.Message
	}
	if c.replies == nil {
		return nil
	}
	return errors.Wrap(c.replies.PublishReply(ctx, reply), "publish inventory reply")
}
