package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// 协议违规: 调用方 (saga) 的使用方式错误，不会修改任何状态
var (
	ErrInvalidRequest       = errors.New("invalid inventory request")
	ErrUnsupportedGoodsType = errors.New("unsupported goods type")
	ErrConfirmWithoutTry    = errors.New("confirm without a prior try")
	ErrConfirmAfterCancel   = errors.New("confirm after cancel")
)

// 业务失败: 由库存或事务日志的当前状态决定
var (
	ErrTryFenced          = errors.New("try rejected: business key was already cancelled")
	ErrGoodsNotFound      = errors.New("goods inventory not found")
	ErrInsufficientStock  = errors.New("insufficient available stock")
	ErrInsufficientFrozen = errors.New("insufficient frozen stock")
	ErrInsufficientSold   = errors.New("insufficient sold stock")
)

// 并发与一致性
var (
	ErrTransactionNotFound   = errors.New("transaction record not found")
	ErrTransactionContended  = errors.New("transaction record kept changing concurrently")
	ErrConcurrentUpdate      = errors.New("inventory version conflict retries exhausted")
	ErrInventoryInconsistent = errors.New("transaction log and inventory state disagree")
)

// IsProtocolViolation 判断错误是否源于调用方违反 TCC 协议
func IsProtocolViolation(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrUnsupportedGoodsType) ||
		errors.Is(err, ErrConfirmWithoutTry) ||
		errors.Is(err, ErrConfirmAfterCancel)
}

// IsShortage 判断错误是否为库存状态前置条件不满足
func IsShortage(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInsufficientFrozen) ||
		errors.Is(err, ErrInsufficientSold)
}

// InconsistencyError 表示事务日志已经推进，但库存无法做出对应变更。
// 这类错误需要人工或对账任务介入。
type InconsistencyError struct {
	Phase     Phase
	BizKey    string
	Scene     string
	GoodsType GoodsType
	GoodsID   string
	Quantity  int64
	Outcome   string
	Operation Operation
	Cause     error
}

func (e *InconsistencyError) Error() string {
	msg := fmt.Sprintf("%s: phase=%s bizKey=%s goods=%s/%s outcome=%s operation=%s qty=%d",
		ErrInventoryInconsistent, e.Phase, e.BizKey, e.GoodsType, e.GoodsID, e.Outcome, e.Operation, e.Quantity)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *InconsistencyError) Unwrap() error {
	return ErrInventoryInconsistent
}
