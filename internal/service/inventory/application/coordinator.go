package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockhub/internal/pkg/logger"
	"stockhub/internal/pkg/metrics"
	"stockhub/internal/service/inventory/domain"
	"stockhub/internal/service/inventory/domain/port"
)

// errRollback 让本地事务回滚，调用方随后返回已经构造好的业务失败结果
var errRollback = errors.New("rollback phase")

// phaseFunc 执行事务日志阶段，返回结果名和需要执行的库存操作
type phaseFunc func(ctx context.Context) (outcome string, op domain.Operation, err error)

// Coordinator 库存 TCC 的门面: 加锁 -> 事务日志阶段 -> 库存变更 -> 释放锁。
// 日志阶段和库存变更在同一个本地事务中提交。
type Coordinator struct {
	scene    string
	lockTTL  time.Duration
	txLog    *TransactionLog
	backends Backends
	tx       domain.Transactor
	locker   port.DistributedLock
	rule     port.PurchaseRule
	reporter port.InconsistencyReporter
	metrics  *metrics.TCCMetrics
	tracer   trace.Tracer
}

// NewCoordinator 创建协调器。rule 与 reporter 可以为 nil。
func NewCoordinator(
	scene string,
	lockTTL time.Duration,
	txLog *TransactionLog,
	backends Backends,
	tx domain.Transactor,
	locker port.DistributedLock,
	rule port.PurchaseRule,
	reporter port.InconsistencyReporter,
	m *metrics.TCCMetrics,
	tracer trace.Tracer,
) *Coordinator {
	if scene == "" {
		scene = domain.SceneNormalBuyGoods
	}
	return &Coordinator{
		scene:    scene,
		lockTTL:  lockTTL,
		txLog:    txLog,
		backends: backends,
		tx:       tx,
		locker:   locker,
		rule:     rule,
		reporter: reporter,
		metrics:  m,
		tracer:   tracer,
	}
}

// TryDecreaseInventory 冻结库存
func (c *Coordinator) TryDecreaseInventory(ctx context.Context, req *DecreaseRequest) (*DecreaseResult, error) {
	return c.execute(ctx, domain.PhaseTry, req, func(ctx context.Context) (string, domain.Operation, error) {
		outcome, err := c.txLog.Try(ctx, req.BizKey, c.scene, req.GoodsType)
		if err != nil {
			return "", domain.OpNone, err
		}
		return string(outcome), domain.ActionForTry(outcome), nil
	})
}

// ConfirmDecreaseInventory 把冻结库存转为已售
func (c *Coordinator) ConfirmDecreaseInventory(ctx context.Context, req *DecreaseRequest) (*DecreaseResult, error) {
	return c.execute(ctx, domain.PhaseConfirm, req, func(ctx context.Context) (string, domain.Operation, error) {
		outcome, err := c.txLog.Confirm(ctx, req.BizKey, c.scene)
		if err != nil {
			return "", domain.OpNone, err
		}
		return string(outcome), domain.ActionForConfirm(outcome), nil
	})
}

// CancelDecreaseInventory 根据当前状态撤销冻结、撤销售出或者做空回滚
func (c *Coordinator) CancelDecreaseInventory(ctx context.Context, req *DecreaseRequest) (*DecreaseResult, error) {
	return c.execute(ctx, domain.PhaseCancel, req, func(ctx context.Context) (string, domain.Operation, error) {
		outcome, err := c.txLog.Cancel(ctx, req.BizKey, c.scene, req.GoodsType)
		if err != nil {
			return "", domain.OpNone, err
		}
		return string(outcome), domain.ActionForCancel(outcome), nil
	})
}

func (c *Coordinator) execute(ctx context.Context, phase domain.Phase, req *DecreaseRequest, logPhase phaseFunc) (result *DecreaseResult, err error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "tcc."+phase.String(), trace.WithAttributes(
		attribute.String("tcc.biz_key", req.BizKey),
		attribute.String("tcc.goods_type", string(req.GoodsType)),
		attribute.String("tcc.goods_id", req.GoodsID),
		attribute.Int64("tcc.quantity", req.Quantity),
	))
	defer func() {
		c.metrics.ObservePhase(phase.String(), metricCode(result, err), time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("tcc.code", string(result.Code)), attribute.String("tcc.outcome", result.Outcome))
		}
		span.End()
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	backend, err := c.backends.For(req.GoodsType)
	if err != nil {
		return nil, err
	}

	if phase == domain.PhaseTry && c.rule != nil {
		allowed, err := c.rule.Allow(ctx, req.GoodsType, req.GoodsID, req.Quantity)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluate purchase rule for %s", req.GoodsType)
		}
		if !allowed {
			span.AddEvent("purchase rule rejected")
			return failed(CodeRuleRejected, "purchase rule rejected the request"), nil
		}
	}

	token, acquired, err := c.locker.Acquire(ctx, req.BizKey, c.scene, c.lockTTL)
	if err != nil {
		return nil, errors.Wrapf(err, "acquire lock %s", port.LockKey(c.scene, req.BizKey))
	}
	if !acquired {
		c.metrics.LockContended(phase.String())
		logger.Ctx(ctx).Info().
			Str("phase", phase.String()).
			Str("biz_key", req.BizKey).
			Msg("business key is locked by another request")
		return failed(CodeLocked, "another request for this business key is in progress"), nil
	}
	defer c.release(ctx, req.BizKey, token)

	var (
		outcome  string
		op       domain.Operation
		rejected *DecreaseResult
	)
	txErr := c.tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		outcome, op, err = logPhase(ctx)
		if errors.Is(err, domain.ErrTryFenced) {
			rejected = failed(CodeTryFenced, "business key was already cancelled")
			return errRollback
		}
		if err != nil {
			return err
		}
		span.AddEvent("transaction log advanced", trace.WithAttributes(
			attribute.String("tcc.outcome", outcome),
			attribute.String("tcc.operation", string(op)),
		))

		applied, err := Execute(ctx, backend, op, req.BizKey, req.GoodsID, req.Quantity)
		switch {
		case errors.Is(err, domain.ErrConcurrentUpdate):
			rejected = failed(CodeBusy, "inventory is under heavy contention, retry later")
			return errRollback
		case phase == domain.PhaseTry && errors.Is(err, domain.ErrGoodsNotFound):
			rejected = failed(CodeGoodsNotFound, "goods inventory not found")
			return errRollback
		case phase != domain.PhaseTry && errors.Is(err, domain.ErrGoodsNotFound):
			return c.inconsistency(phase, req, outcome, op, err)
		case err != nil:
			return err
		case !applied && phase == domain.PhaseTry:
			rejected = failed(CodeInsufficientStock, "insufficient available stock")
			return errRollback
		case !applied:
			return c.inconsistency(phase, req, outcome, op, nil)
		}
		return nil
	})

	var inconsistency *domain.InconsistencyError
	switch {
	case txErr == nil:
		logger.Ctx(ctx).Info().
			Str("phase", phase.String()).
			Str("biz_key", req.BizKey).
			Str("outcome", outcome).
			Str("operation", string(op)).
			Msg("tcc phase completed")
		return succeeded(outcome), nil
	case errors.Is(txErr, errRollback):
		logger.Ctx(ctx).Info().
			Str("phase", phase.String()).
			Str("biz_key", req.BizKey).
			Str("code", string(rejected.Code)).
			Msg("tcc phase rejected")
		return rejected, nil
	case errors.As(txErr, &inconsistency):
		c.raise(ctx, inconsistency)
		return nil, txErr
	}
	return nil, errors.Wrapf(txErr, "%s %s", phase, req.BizKey)
}

func (c *Coordinator) inconsistency(phase domain.Phase, req *DecreaseRequest, outcome string, op domain.Operation, cause error) error {
	return &domain.InconsistencyError{
		Phase:     phase,
		BizKey:    req.BizKey,
		Scene:     c.scene,
		GoodsType: req.GoodsType,
		GoodsID:   req.GoodsID,
		Quantity:  req.Quantity,
		Outcome:   outcome,
		Operation: op,
		Cause:     cause,
	}
}

// raise 记录、计数并上报不一致。上报失败只记录日志。
func (c *Coordinator) raise(ctx context.Context, e *domain.InconsistencyError) {
	c.metrics.Inconsistency(e.Phase.String())
	logger.Ctx(ctx).Error().
		Str("phase", e.Phase.String()).
		Str("biz_key", e.BizKey).
		Str("goods_type", e.GoodsType.String()).
		Str("goods_id", e.GoodsID).
		Int64("quantity", e.Quantity).
		Str("outcome", e.Outcome).
		Str("operation", string(e.Operation)).
		Msg("CRITICAL: transaction log and inventory disagree")

	if c.reporter == nil {
		return
	}
	reason := "inventory precondition not met"
	if e.Cause != nil {
		reason = e.Cause.Error()
	}
	event := &domain.InconsistencyEvent{
		EventID:    uuid.NewString(),
		Phase:      e.Phase,
		BizKey:     e.BizKey,
		Scene:      e.Scene,
		GoodsType:  e.GoodsType,
		GoodsID:    e.GoodsID,
		Quantity:   e.Quantity,
		Outcome:    e.Outcome,
		Operation:  e.Operation,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
	if err := c.reporter.Report(context.WithoutCancel(ctx), event); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("biz_key", e.BizKey).Msg("failed to report inconsistency")
	}
}

// release 使用脱离请求取消的 ctx，保证客户端断开后锁仍然被释放
func (c *Coordinator) release(ctx context.Context, bizKey, token string) {
	if err := c.locker.Release(context.WithoutCancel(ctx), bizKey, c.scene, token); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("biz_key", bizKey).Msg("failed to release business key lock")
	}
}

func metricCode(result *DecreaseResult, err error) string {
	switch {
	case err == nil:
		return string(result.Code)
	case errors.Is(err, domain.ErrInventoryInconsistent):
		return "INCONSISTENT"
	case domain.IsProtocolViolation(err):
		return "PROTOCOL_VIOLATION"
	}
	return "ERROR"
}
