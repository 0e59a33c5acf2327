package application

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"stockhub/internal/service/inventory/domain"
)

const defaultLogAttempts = 3

// TransactionLog 持久化的 TCC 状态机。
// 每次写入都是条件写，丢失竞争时重新读取并重新判定，最多 maxAttempts 次。
type TransactionLog struct {
	repo        domain.TransactionRepository
	now         func() time.Time
	maxAttempts int
}

func NewTransactionLog(repo domain.TransactionRepository) *TransactionLog {
	return &TransactionLog{
		repo:        repo,
		now:         func() time.Time { return time.Now().UTC() },
		maxAttempts: defaultLogAttempts,
	}
}

// Try 首次调用写入 TRIED 记录；已 Try 过返回 ALREADY_TRIED；
// 只有空回滚记录时返回 ErrTryFenced。
func (l *TransactionLog) Try(ctx context.Context, bizKey, scene string, goodsType domain.GoodsType) (domain.TrySuccessType, error) {
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		record, err := l.repo.Find(ctx, bizKey, scene)
		if errors.Is(err, domain.ErrTransactionNotFound) {
			created, err := l.repo.Create(ctx, domain.NewTriedRecord(bizKey, scene, goodsType, l.now()))
			if err != nil {
				return "", errors.Wrapf(err, "create try record %s/%s", scene, bizKey)
			}
			if created {
				return domain.TrySuccess, nil
			}
			continue
		}
		if err != nil {
			return "", errors.Wrapf(err, "load transaction %s/%s", scene, bizKey)
		}
		return record.ClassifyTry()
	}
	return "", errors.Wrapf(domain.ErrTransactionContended, "try %s/%s", scene, bizKey)
}

// Confirm 没有 TRIED 记录或者已经取消时属于协议违规
func (l *TransactionLog) Confirm(ctx context.Context, bizKey, scene string) (domain.ConfirmSuccessType, error) {
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		record, err := l.repo.Find(ctx, bizKey, scene)
		if errors.Is(err, domain.ErrTransactionNotFound) {
			return "", errors.Wrapf(domain.ErrConfirmWithoutTry, "bizKey=%s scene=%s", bizKey, scene)
		}
		if err != nil {
			return "", errors.Wrapf(err, "load transaction %s/%s", scene, bizKey)
		}

		outcome, next, err := record.PlanConfirm()
		if err != nil || next == nil {
			return outcome, err
		}
		swapped, err := l.repo.CompareAndSwapStates(ctx, record.ID, record.TransactionStates, *next)
		if err != nil {
			return "", errors.Wrapf(err, "confirm transaction %s/%s", scene, bizKey)
		}
		if swapped {
			return outcome, nil
		}
	}
	return "", errors.Wrapf(domain.ErrTransactionContended, "confirm %s/%s", scene, bizKey)
}

// Cancel 总能成功：没有记录时写入空回滚记录，用来拦截之后迟到的 Try。
func (l *TransactionLog) Cancel(ctx context.Context, bizKey, scene string, goodsType domain.GoodsType) (domain.CancelSuccessType, error) {
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		record, err := l.repo.Find(ctx, bizKey, scene)
		if errors.Is(err, domain.ErrTransactionNotFound) {
			created, err := l.repo.Create(ctx, domain.NewFencingRecord(bizKey, scene, goodsType, l.now()))
			if err != nil {
				return "", errors.Wrapf(err, "create fencing record %s/%s", scene, bizKey)
			}
			if created {
				return domain.EmptyCancel, nil
			}
			continue
		}
		if err != nil {
			return "", errors.Wrapf(err, "load transaction %s/%s", scene, bizKey)
		}

		outcome, next := record.PlanCancel()
		if next == nil {
			return outcome, nil
		}
		swapped, err := l.repo.CompareAndSwapStates(ctx, record.ID, record.TransactionStates, *next)
		if err != nil {
			return "", errors.Wrapf(err, "cancel transaction %s/%s", scene, bizKey)
		}
		if swapped {
			return outcome, nil
		}
	}
	return "", errors.Wrapf(domain.ErrTransactionContended, "cancel %s/%s", scene, bizKey)
}

// Status 查询业务键当前所处的状态，不存在时为 INIT
func (l *TransactionLog) Status(ctx context.Context, bizKey, scene string) (domain.Status, error) {
	record, err := l.repo.Find(ctx, bizKey, scene)
	if errors.Is(err, domain.ErrTransactionNotFound) {
		return domain.StatusInit, nil
	}
	if err != nil {
		return "", err
	}
	return record.Status(), nil
}
