// Package metrics 提供结算引擎的 Prometheus 指标
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry

	// 创建的支付/转账数
	PaymentsCreated *prometheus.CounterVec
	// 结算结果：completed, canceled, failed
	Settlements *prometheus.CounterVec
	// 结算耗时
	SettlementDuration prometheus.Histogram
	// 跨行提交尝试：success, failure
	InterbankAttempts *prometheus.CounterVec
	// 队列分发：按消息类型与结果
	Dispatched *prometheus.CounterVec
	// 最近一次巡检发现的停在处理中的本行结算
	StuckPayments prometheus.Gauge
	// HTTP 请求
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New 创建并注册指标，每个实例使用独立的 Registry
func New(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := func(c prometheus.Collector) { reg.MustRegister(c) }

	m := &Metrics{
		registry: reg,
		PaymentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bank",
			Subsystem: serviceName,
			Name:      "payments_created_total",
			Help:      "Money movement records created, by kind and initial status",
		}, []string{"kind", "status"}),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bank",
			Subsystem: serviceName,
			Name:      "settlements_total",
			Help:      "Settlement outcomes",
		}, []string{"route", "outcome"}),
		SettlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bank",
			Subsystem: serviceName,
			Name:      "settlement_duration_seconds",
			Help:      "Settlement duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		InterbankAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bank",
			Subsystem: serviceName,
			Name:      "interbank_commit_attempts_total",
			Help:      "Commit attempts sent to partner banks",
		}, []string{"result"}),
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bank",
			Subsystem: serviceName,
			Name:      "dispatch_total",
			Help:      "Queue envelopes dispatched, by kind and result",
		}, []string{"kind", "result"}),
		StuckPayments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bank",
			Subsystem: serviceName,
			Name:      "stuck_processing_payments",
			Help:      "Local settlements left in PROCESSING past the recovery threshold",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bank",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bank",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	factory(collectors.NewGoCollector())
	factory(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range []prometheus.Collector{
		m.PaymentsCreated, m.Settlements, m.SettlementDuration,
		m.InterbankAttempts, m.Dispatched, m.StuckPayments, m.HTTPRequests, m.HTTPDuration,
	} {
		factory(c)
	}
	return m
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveSettlement 记录一次结算结果与耗时
func (m *Metrics) ObserveSettlement(route, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(route, outcome).Inc()
	m.SettlementDuration.Observe(time.Since(started).Seconds())
}

// IncPaymentCreated 记录一条新建记录
func (m *Metrics) IncPaymentCreated(kind, status string) {
	if m == nil {
		return
	}
	m.PaymentsCreated.WithLabelValues(kind, status).Inc()
}

// IncInterbankAttempt 记录一次跨行提交尝试
func (m *Metrics) IncInterbankAttempt(result string) {
	if m == nil {
		return
	}
	m.InterbankAttempts.WithLabelValues(result).Inc()
}

// IncDispatched 记录一次消息分发
func (m *Metrics) IncDispatched(kind, result string) {
	if m == nil {
		return
	}
	m.Dispatched.WithLabelValues(kind, result).Inc()
}

// SetStuckPayments 记录巡检发现的卡住记录数
func (m *Metrics) SetStuckPayments(n int) {
	if m == nil {
		return
	}
	m.StuckPayments.Set(float64(n))
}
