package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"stockhub/internal/pkg/mq"
	"stockhub/internal/service/inventory/application"
	"stockhub/internal/service/inventory/domain"
	"stockhub/internal/service/inventory/infrastructure/memory"
)

type fixture struct {
	coord  *application.Coordinator
	query  *application.InventoryService
	locker *memory.Locker
	mux    *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	locker := memory.NewLocker()
	backends := application.Backends{
		BlindBox:   application.NewBlindBoxBackend(store.Inventory(domain.GoodsTypeBlindBox), 3, nil),
		Collection: application.NewCollectionBackend(store.Inventory(domain.GoodsTypeCollection), 3, nil),
	}
	coord := application.NewCoordinator(
		domain.SceneNormalBuyGoods, time.Second,
		application.NewTransactionLog(store.Transactions()),
		backends, store, locker, nil, nil, nil,
		noop.NewTracerProvider().Tracer("test"),
	)
	query := application.NewInventoryService(backends)
	require.NoError(t, query.Seed(context.Background(), []application.SeedGoods{
		{GoodsType: domain.GoodsTypeBlindBox, GoodsID: "bb-1", Available: 10},
	}))

	mux := http.NewServeMux()
	NewInventoryHandler(coord, query, http.NotFoundHandler(), nil).RegisterRoutes(mux)
	return &fixture{coord: coord, query: query, locker: locker, mux: mux}
}

func (f *fixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload)))
	return rec
}

func decreaseBody(bizKey string, qty int64) map[string]any {
	return map[string]any{"bizKey": bizKey, "goodsId": "bb-1", "goodsType": "BLIND_BOX", "quantity": qty}
}

func TestHTTP_TryConfirmAndQuery(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/inventory/tcc/try", decreaseBody("biz-1", 3))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result application.DecreaseResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, string(domain.TrySuccess), result.Outcome)

	rec = f.post(t, "/inventory/tcc/confirm", decreaseBody("biz-1", 3))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inventory/blind_box/bb-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var view application.InventoryView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, int64(7), view.Available)
	assert.Equal(t, int64(0), view.Frozen)
	assert.Equal(t, int64(3), view.Sold)
}

func TestHTTP_StatusMapping(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/inventory/tcc/try", decreaseBody("biz-big", 11))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), string(application.CodeInsufficientStock))

	rec = f.post(t, "/inventory/tcc/confirm", decreaseBody("biz-never-tried", 1))
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = f.post(t, "/inventory/tcc/try", map[string]any{"bizKey": "biz-2", "goodsId": "bb-1", "goodsType": "TICKET", "quantity": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.post(t, "/inventory/tcc/try", decreaseBody("biz-3", 0))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inventory/tcc/try", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inventory/COLLECTION/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTP_EmptyCancelFencesTry(t *testing.T) {
	f := newFixture(t)

	rec := f.post(t, "/inventory/tcc/cancel", decreaseBody("biz-late", 1))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(domain.EmptyCancel))

	rec = f.post(t, "/inventory/tcc/try", decreaseBody("biz-late", 1))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), string(application.CodeTryFenced))
}

func TestResultStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, resultStatus(&application.DecreaseResult{Code: application.CodeLocked}))
	assert.Equal(t, http.StatusConflict, resultStatus(&application.DecreaseResult{Code: application.CodeBusy}))
	assert.Equal(t, http.StatusUnprocessableEntity, resultStatus(&application.DecreaseResult{Code: application.CodeRuleRejected}))
	assert.Equal(t, http.StatusOK, resultStatus(&application.DecreaseResult{Success: true, Code: application.CodeSuccess}))

	status, code := errorStatus(&domain.InconsistencyError{Phase: domain.PhaseConfirm})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INCONSISTENT", code)
}

func TestHealthz_Draining(t *testing.T) {
	f := newFixture(t)
	draining := false
	mux := http.NewServeMux()
	NewInventoryHandler(f.coord, f.query, nil, func() bool { return draining }).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	draining = true
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// fakeReader 从 channel 读取消息并记录提交
type fakeReader struct {
	msgs      chan kafka.Message
	closed    chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	committed []kafka.Message
}

func newFakeReader() *fakeReader {
	return &fakeReader{msgs: make(chan kafka.Message, 16), closed: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-r.closed:
		return kafka.Message{}, context.Canceled
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func (r *fakeReader) Config() kafka.ReaderConfig {
	return kafka.ReaderConfig{Topic: "inventory-tcc-commands"}
}

func (r *fakeReader) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) snapshot() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

type recordingReplies struct {
	mu      sync.Mutex
	replies []*domain.InventoryReply
}

func (p *recordingReplies) PublishReply(_ context.Context, reply *domain.InventoryReply) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, reply)
	return nil
}

func (p *recordingReplies) snapshot() []*domain.InventoryReply {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*domain.InventoryReply(nil), p.replies...)
}

func commandMessage(t *testing.T, cmd domain.InventoryCommand) kafka.Message {
	t.Helper()
	value, err := json.Marshal(cmd)
	require.NoError(t, err)
	return kafka.Message{Topic: "inventory-tcc-commands", Key: []byte(cmd.BizKey), Value: value}
}

func TestCommandConsumer(t *testing.T) {
	f := newFixture(t)
	reader := newFakeReader()
	dlt := &recordingWriter{}
	replies := &recordingReplies{}
	consumer := NewCommandConsumer(reader, f.coord, memory.NewGuard(), time.Hour, replies,
		mq.NewFailureHandler(dlt, "inventory-tcc-commands-dlt", 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- consumer.Start(ctx) }()

	try := domain.InventoryCommand{CommandID: "c-1", Phase: domain.PhaseTry, BizKey: "biz-k", GoodsID: "bb-1", GoodsType: domain.GoodsTypeBlindBox, Quantity: 2}
	reader.msgs <- commandMessage(t, try)
	reader.msgs <- commandMessage(t, try)
	reader.msgs <- commandMessage(t, domain.InventoryCommand{CommandID: "c-2", Phase: domain.PhaseConfirm, BizKey: "biz-unknown", GoodsID: "bb-1", GoodsType: domain.GoodsTypeBlindBox, Quantity: 1})
	reader.msgs <- kafka.Message{Topic: "inventory-tcc-commands", Value: []byte("not json")}

	require.Eventually(t, func() bool { return reader.commits() == 4 }, 2*time.Second, 10*time.Millisecond)

	got := replies.snapshot()
	require.Len(t, got, 2, "duplicate command must not produce a second reply")
	assert.True(t, got[0].Success)
	assert.Equal(t, string(domain.TrySuccess), got[0].Outcome)
	assert.False(t, got[1].Success)
	assert.Equal(t, "PROTOCOL_VIOLATION", got[1].Code)

	dead := dlt.snapshot()
	require.Len(t, dead, 1)
	assert.Equal(t, "inventory-tcc-commands-dlt", dead[0].Topic)
	assert.Equal(t, "inventory-tcc-commands", mq.HeaderValue(dead[0].Headers, mq.HeaderOriginalTopic))

	view, err := f.query.GetInventory(context.Background(), domain.GoodsTypeBlindBox, "bb-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), view.Frozen)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	consumer.Stop(stopCtx)
	require.NoError(t, <-errCh)
}

func TestCommandConsumer_LockedTryIsRetried(t *testing.T) {
	for name, commandID := range map[string]string{"without command id": "", "with command id": "c-9"} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			reader := newFakeReader()
			replies := &recordingReplies{}
			consumer := NewCommandConsumer(reader, f.coord, memory.NewGuard(), time.Hour, replies, nil)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			errCh := make(chan error, 1)
			go func() { errCh <- consumer.Start(ctx) }()

			token, ok, err := f.locker.Acquire(ctx, "biz-x", domain.SceneNormalBuyGoods, time.Minute)
			require.NoError(t, err)
			require.True(t, ok)

			try := domain.InventoryCommand{CommandID: commandID, Phase: domain.PhaseTry, BizKey: "biz-x", GoodsID: "bb-1", GoodsType: domain.GoodsTypeBlindBox, Quantity: 4}
			reader.msgs <- commandMessage(t, try)
			require.Eventually(t, func() bool { return reader.commits() == 1 }, 2*time.Second, 10*time.Millisecond)

			got := replies.snapshot()
			require.Len(t, got, 1)
			assert.False(t, got[0].Success)
			assert.Equal(t, string(application.CodeLocked), got[0].Code)

			require.NoError(t, f.locker.Release(ctx, "biz-x", domain.SceneNormalBuyGoods, token))
			reader.msgs <- commandMessage(t, try)
			require.Eventually(t, func() bool { return reader.commits() == 2 }, 2*time.Second, 10*time.Millisecond)

			got = replies.snapshot()
			require.Len(t, got, 2, "redelivered command must run again after a locked reply")
			assert.True(t, got[1].Success)
			assert.Equal(t, string(domain.TrySuccess), got[1].Outcome)

			view, err := f.query.GetInventory(ctx, domain.GoodsTypeBlindBox, "bb-1")
			require.NoError(t, err)
			assert.Equal(t, int64(4), view.Frozen)
			assert.Equal(t, int64(6), view.Available)

			cancel()
			require.NoError(t, <-errCh)
		})
	}
}

func TestDltConsumer_CommitsEverything(t *testing.T) {
	reader := newFakeReader()
	consumer := NewDltConsumer(reader)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- consumer.Start(ctx) }()

	reader.msgs <- kafka.Message{Key: []byte("k"), Value: []byte("v"), Headers: []kafka.Header{{Key: mq.HeaderExceptionMessage, Value: []byte("boom")}}}
	require.Eventually(t, func() bool { return reader.commits() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
}
