package domain

import (
	"time"

	"github.com/pkg/errors"
)

// SceneNormalBuyGoods 普通购买场景，也是事务日志的 scene 维度
const SceneNormalBuyGoods = "NORMAL_BUY_GOODS"

// Phase TCC 的三个阶段
type Phase string

const (
	PhaseTry     Phase = "TRY"
	PhaseConfirm Phase = "CONFIRM"
	PhaseCancel  Phase = "CANCEL"
)

func (p Phase) String() string {
	return string(p)
}

type TryState string

const (
	TryStateNone  TryState = "NONE"
	TryStateTried TryState = "TRIED"
)

type ConfirmState string

const (
	ConfirmStateNone      ConfirmState = "NONE"
	ConfirmStateConfirmed ConfirmState = "CONFIRMED"
)

type CancelState string

const (
	CancelStateNone      CancelState = "NONE"
	CancelStateCancelled CancelState = "CANCELLED"
)

// TransactionStates 三个阶段各自的持久化标记，整体作为条件更新的比较值
type TransactionStates struct {
	Try     TryState
	Confirm ConfirmState
	Cancel  CancelState
}

// Status 由三个标记推导出的状态机节点
type Status string

const (
	StatusInit      Status = "INIT"
	StatusTried     Status = "TRIED"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
)

// TrySuccessType Try 阶段的结果
type TrySuccessType string

const (
	TrySuccess   TrySuccessType = "TRY_SUCCESS"
	AlreadyTried TrySuccessType = "ALREADY_TRIED"
)

// ConfirmSuccessType Confirm 阶段的结果
type ConfirmSuccessType string

const (
	ConfirmSuccess   ConfirmSuccessType = "CONFIRM_SUCCESS"
	AlreadyConfirmed ConfirmSuccessType = "ALREADY_CONFIRMED"
)

// CancelSuccessType Cancel 阶段的结果
type CancelSuccessType string

const (
	CancelAfterTry     CancelSuccessType = "CANCEL_AFTER_TRY"
	CancelAfterConfirm CancelSuccessType = "CANCEL_AFTER_CONFIRM"
	EmptyCancel        CancelSuccessType = "EMPTY_CANCEL"
	AlreadyCancelled   CancelSuccessType = "ALREADY_CANCELLED"
)

// TransactionRecord 以 (BusinessKey, Scene) 为唯一键的事务日志，只追加不删除
type TransactionRecord struct {
	ID          int64
	BusinessKey string
	Scene       string
	GoodsType   GoodsType
	TransactionStates
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTriedRecord 首次 Try 写入的记录
func NewTriedRecord(bizKey, scene string, goodsType GoodsType, now time.Time) *TransactionRecord {
	return &TransactionRecord{
		BusinessKey: bizKey,
		Scene:       scene,
		GoodsType:   goodsType,
		TransactionStates: TransactionStates{
			Try:     TryStateTried,
			Confirm: ConfirmStateNone,
			Cancel:  CancelStateNone,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewFencingRecord 空回滚时写入的记录，阻止之后迟到的 Try (防悬挂)
func NewFencingRecord(bizKey, scene string, goodsType GoodsType, now time.Time) *TransactionRecord {
	return &TransactionRecord{
		BusinessKey: bizKey,
		Scene:       scene,
		GoodsType:   goodsType,
		TransactionStates: TransactionStates{
			Try:     TryStateNone,
			Confirm: ConfirmStateNone,
			Cancel:  CancelStateCancelled,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *TransactionRecord) Status() Status {
	switch {
	case r.Cancel == CancelStateCancelled:
		return StatusCancelled
	case r.Confirm == ConfirmStateConfirmed:
		return StatusConfirmed
	case r.Try == TryStateTried:
		return StatusTried
	}
	return StatusInit
}

// ClassifyTry 对已存在的记录判定 Try 结果
func (r *TransactionRecord) ClassifyTry() (TrySuccessType, error) {
	if r.Try == TryStateTried {
		return AlreadyTried, nil
	}
	if r.Cancel == CancelStateCancelled {
		return "", errors.Wrapf(ErrTryFenced, "bizKey=%s scene=%s", r.BusinessKey, r.Scene)
	}
	return "", errors.Errorf("transaction %s/%s has neither try nor cancel state", r.Scene, r.BusinessKey)
}

// PlanConfirm 判定 Confirm 结果。next 为 nil 表示无需写入。
func (r *TransactionRecord) PlanConfirm() (ConfirmSuccessType, *TransactionStates, error) {
	if r.Try != TryStateTried {
		return "", nil, errors.Wrapf(ErrConfirmWithoutTry, "bizKey=%s scene=%s", r.BusinessKey, r.Scene)
	}
	if r.Confirm == ConfirmStateConfirmed {
		return AlreadyConfirmed, nil, nil
	}
	if r.Cancel == CancelStateCancelled {
		return "", nil, errors.Wrapf(ErrConfirmAfterCancel, "bizKey=%s scene=%s", r.BusinessKey, r.Scene)
	}
	next := r.TransactionStates
	next.Confirm = ConfirmStateConfirmed
	return ConfirmSuccess, &next, nil
}

// PlanCancel 判定 Cancel 结果。next 为 nil 表示无需写入。
// Cancel 在确认之后仍然允许，此时保留 CONFIRMED 标记并追加 CANCELLED。
func (r *TransactionRecord) PlanCancel() (CancelSuccessType, *TransactionStates) {
	if r.Cancel == CancelStateCancelled {
		return AlreadyCancelled, nil
	}
	next := r.TransactionStates
	next.Cancel = CancelStateCancelled
	switch {
	case r.Confirm == ConfirmStateConfirmed:
		return CancelAfterConfirm, &next
	case r.Try == TryStateTried:
		return CancelAfterTry, &next
	}
	return EmptyCancel, &next
}
