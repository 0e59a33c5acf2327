// Package metrics 定义库存 TCC 服务暴露给 Prometheus 的指标。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "stockhub"
	subsystem = "inventory_tcc"
)

// TCCMetrics 聚合了 TCC 各阶段的计数器和直方图。
// 所有方法都允许 nil 接收者，未启用指标时可以直接传 nil。
type TCCMetrics struct {
	phaseTotal      *prometheus.CounterVec
	phaseLatency    *prometheus.HistogramVec
	casConflicts    *prometheus.CounterVec
	lockContention  *prometheus.CounterVec
	inconsistencies *prometheus.CounterVec
}

// NewTCCMetrics 创建指标并注册到 reg。
func NewTCCMetrics(reg prometheus.Registerer) *TCCMetrics {
	m := &TCCMetrics{
		phaseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "phase_total",
			Help:      "TCC phase invocations by phase and result code.",
		}, []string{"phase", "code"}),
		phaseLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "phase_duration_seconds",
			Help:      "TCC phase latency including lock acquisition.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		casConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cas_conflicts_total",
			Help:      "Inventory version compare-and-swap conflicts.",
		}, []string{"goods_type"}),
		lockContention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lock_contention_total",
			Help:      "Phase calls rejected because the business key lock was held.",
		}, []string{"phase"}),
		inconsistencies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "inconsistencies_total",
			Help:      "Confirm/cancel calls whose inventory mutation disagreed with the transaction log.",
		}, []string{"phase"}),
	}
	reg.MustRegister(m.phaseTotal, m.phaseLatency, m.casConflicts, m.lockContention, m.inconsistencies)
	return m
}

// ObservePhase 记录一次阶段调用的结果码和耗时。
func (m *TCCMetrics) ObservePhase(phase, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.phaseTotal.WithLabelValues(phase, code).Inc()
	m.phaseLatency.WithLabelValues(phase).Observe(elapsed.Seconds())
}

func (m *TCCMetrics) CASConflict(goodsType string) {
	if m == nil {
		return
	}
	m.casConflicts.WithLabelValues(goodsType).Inc()
}

func (m *TCCMetrics) LockContended(phase string) {
	if m == nil {
		return
	}
	m.lockContention.WithLabelValues(phase).Inc()
}

func (m *TCCMetrics) Inconsistency(phase string) {
	if m == nil {
		return
	}
	m.inconsistencies.WithLabelValues(phase).Inc()
}

// Handler 返回 /metrics 的 HTTP handler。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
