// Package metrics 提供 GTNet 消息处理相关的 Prometheus 指标
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gtnet"

// Metrics 指标集合，方法对 nil 接收者安全
type Metrics struct {
	registry *prometheus.Registry

	// 入站消息计数，按消息码和处理结果
	MessagesTotal *prometheus.CounterVec
	// 入站消息处理耗时
	MessageDuration *prometheus.HistogramVec
	// 自动应答结果计数：matched, deferred, no_rule
	AutoResponseTotal *prometheus.CounterVec
	// 规则表达式求值失败计数
	RuleEvalErrorsTotal prometheus.Counter
	// outbox 中继发布计数：published, failed
	OutboxPublishedTotal *prometheus.CounterVec
	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
}

// New 创建指标实例并注册到独立的 Registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound GTNet messages by code and outcome",
		}, []string{"code", "outcome"}),
		MessageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_duration_seconds",
			Help:      "Inbound GTNet message processing duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"code"}),
		AutoResponseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_response_total",
			Help:      "Auto-response resolution results",
		}, []string{"result"}),
		RuleEvalErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_eval_errors_total",
			Help:      "Auto-response condition evaluation failures",
		}),
		OutboxPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Exchange-sync outbox relay results",
		}, []string{"status"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by path and status",
		}, []string{"path", "status"}),
	}
	m.registry.MustRegister(
		m.MessagesTotal,
		m.MessageDuration,
		m.AutoResponseTotal,
		m.RuleEvalErrorsTotal,
		m.OutboxPublishedTotal,
		m.HTTPRequestsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveMessage 记录一次入站消息处理
func (m *Metrics) ObserveMessage(code, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(code, outcome).Inc()
	m.MessageDuration.WithLabelValues(code).Observe(d.Seconds())
}

// ObserveAutoResponse 记录自动应答结果
func (m *Metrics) ObserveAutoResponse(result string) {
	if m == nil {
		return
	}
	m.AutoResponseTotal.WithLabelValues(result).Inc()
}

// IncRuleEvalError 记录规则求值失败
func (m *Metrics) IncRuleEvalError() {
	if m == nil {
		return
	}
	m.RuleEvalErrorsTotal.Inc()
}

// ObserveOutbox 记录 outbox 发布结果
func (m *Metrics) ObserveOutbox(status string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.OutboxPublishedTotal.WithLabelValues(status).Add(float64(n))
}

// ObserveHTTP 记录 HTTP 请求
func (m *Metrics) ObserveHTTP(path, status string) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(path, status).Inc()
}
