package interfaces

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"stockhub/internal/pkg/logger"
	"stockhub/internal/service/inventory/application"
	"stockhub/internal/service/inventory/domain"
)

// TCCService 三个 TCC 阶段，由 application.Coordinator 实现
type TCCService interface {
	TryDecreaseInventory(ctx context.Context, req *application.DecreaseRequest) (*application.DecreaseResult, error)
	ConfirmDecreaseInventory(ctx context.Context, req *application.DecreaseRequest) (*application.DecreaseResult, error)
	CancelDecreaseInventory(ctx context.Context, req *application.DecreaseRequest) (*application.DecreaseResult, error)
}

// InventoryQuery 由 application.InventoryService 实现
type InventoryQuery interface {
	GetInventory(ctx context.Context, goodsType domain.GoodsType, goodsID string) (*application.InventoryView, error)
}

type phaseCall func(ctx context.Context, req *application.DecreaseRequest) (*application.DecreaseResult, error)

// InventoryHandler 库存服务的 HTTP 入口
type InventoryHandler struct {
	tcc      TCCService
	query    InventoryQuery
	metrics  http.Handler
	draining func() bool
}

// NewInventoryHandler 创建 HTTP 处理器。metricsHandler 为 nil 时不暴露 /metrics。
func NewInventoryHandler(tcc TCCService, query InventoryQuery, metricsHandler http.Handler, draining func() bool) *InventoryHandler {
	if draining == nil {
		draining = func() bool { return false }
	}
	return &InventoryHandler{tcc: tcc, query: query, metrics: metricsHandler, draining: draining}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *InventoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.healthz)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
	mux.HandleFunc("POST /inventory/tcc/try", h.phase(h.tcc.TryDecreaseInventory))
	mux.HandleFunc("POST /inventory/tcc/confirm", h.phase(h.tcc.ConfirmDecreaseInventory))
	mux.HandleFunc("POST /inventory/tcc/cancel", h.phase(h.tcc.CancelDecreaseInventory))
	mux.HandleFunc("GET /inventory/{goodsType}/{goodsId}", h.getInventory)
}

func (h *InventoryHandler) healthz(w http.ResponseWriter, _ *http.Request) {
	if h.draining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *InventoryHandler) phase(call phaseCall) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		var req application.DecreaseRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(ctx, w, errors.Wrap(domain.ErrInvalidRequest, err.Error()))
			return
		}

		result, err := call(ctx, &req)
		if err != nil {
			writeError(ctx, w, err)
			return
		}
		writeJSON(w, resultStatus(result), result)
	}
}

func (h *InventoryHandler) getInventory(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	goodsType, err := domain.ParseGoodsType(r.PathValue("goodsType"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	view, err := h.query.GetInventory(ctx, goodsType, r.PathValue("goodsId"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// resultStatus 竞争类失败返回 409，调用方可以重试；其余业务失败返回 422
func resultStatus(result *application.DecreaseResult) int {
	switch {
	case result.Success:
		return http.StatusOK
	case result.Code.Retryable():
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}

type errorBody struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrUnsupportedGoodsType):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, domain.ErrConfirmWithoutTry), errors.Is(err, domain.ErrConfirmAfterCancel):
		return http.StatusPreconditionFailed, "PROTOCOL_VIOLATION"
	case errors.Is(err, domain.ErrGoodsNotFound):
		return http.StatusNotFound, "GOODS_NOT_FOUND"
	case errors.Is(err, domain.ErrInventoryInconsistent):
		return http.StatusInternalServerError, "INCONSISTENT"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	event := logger.Ctx(ctx).Warn()
	if status >= http.StatusInternalServerError {
		event = logger.Ctx(ctx).Error()
	}
	event.Err(err).Int("status", status).Msg("request failed")
	writeJSON(w, status, errorBody{Success: false, Code: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
