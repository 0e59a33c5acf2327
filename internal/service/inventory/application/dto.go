package application

import (
	"strings"

	"github.com/pkg/errors"

	"stockhub/internal/service/inventory/domain"
)

// DecreaseRequest 三个 TCC 阶段共用的请求，同一笔业务使用相同的 BizKey
type DecreaseRequest struct {
	BizKey    string           `json:"bizKey"`
	GoodsID   string           `json:"goodsId"`
	GoodsType domain.GoodsType `json:"goodsType"`
	Quantity  int64            `json:"quantity"`
}

// Validate 校验并规范化请求
func (r *DecreaseRequest) Validate() error {
	r.BizKey = strings.TrimSpace(r.BizKey)
	r.GoodsID = strings.TrimSpace(r.GoodsID)
	r.GoodsType = domain.GoodsType(strings.ToUpper(strings.TrimSpace(string(r.GoodsType))))
	switch {
	case r.BizKey == "":
		return errors.Wrap(domain.ErrInvalidRequest, "bizKey is required")
	case r.GoodsID == "":
		return errors.Wrap(domain.ErrInvalidRequest, "goodsId is required")
	case r.Quantity <= 0:
		return errors.Wrapf(domain.ErrInvalidRequest, "quantity must be positive, got %d", r.Quantity)
	}
	return nil
}

// ResultCode 阶段调用的结果码。SUCCESS 以外都是调用方可预期的业务失败。
type ResultCode string

const (
	CodeSuccess           ResultCode = "SUCCESS"
	CodeLocked            ResultCode = "LOCKED"
	CodeBusy              ResultCode = "BUSY"
	CodeInsufficientStock ResultCode = "INSUFFICIENT_STOCK"
	CodeTryFenced         ResultCode = "TRY_FENCED"
	CodeGoodsNotFound     ResultCode = "GOODS_NOT_FOUND"
	CodeRuleRejected      ResultCode = "RULE_REJECTED"
)

// Retryable 竞争类失败，稍后用同一个 BizKey 重试即可
func (c ResultCode) Retryable() bool {
	return c == CodeLocked || c == CodeBusy
}

// DecreaseResult 阶段调用结果。Outcome 为对应阶段的成功类型，例如 EMPTY_CANCEL。
type DecreaseResult struct {
	Success bool       `json:"success"`
	Code    ResultCode `json:"code"`
	Outcome string     `json:"outcome,omitempty"`
	Message string     `json:"message,omitempty"`
}

func succeeded(outcome string) *DecreaseResult {
	return &DecreaseResult{Success: true, Code: CodeSuccess, Outcome: outcome}
}

func failed(code ResultCode, message string) *DecreaseResult {
	return &DecreaseResult{Success: false, Code: code, Message: message}
}

// InventoryView 库存查询结果
type InventoryView struct {
	GoodsID   string           `json:"goodsId"`
	GoodsType domain.GoodsType `json:"goodsType"`
	Available int64            `json:"available"`
	Frozen    int64            `json:"frozen"`
	Sold      int64            `json:"sold"`
	Version   int64            `json:"version"`
}

func toInventoryView(s *domain.InventoryState) *InventoryView {
	return &InventoryView{
		GoodsID:   s.GoodsID,
		GoodsType: s.GoodsType,
		Available: s.Available,
		Frozen:    s.Frozen,
		Sold:      s.Sold,
		Version:   s.Version,
	}
}
