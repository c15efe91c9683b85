// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/types"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时实现 llm.Observer
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 生成后端指标
	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec

	// 对话指标
	conversationsCreated prometheus.Counter
	turnsTotal           *prometheus.CounterVec
	interruptsTotal      prometheus.Counter
	runsTotal            *prometheus.CounterVec
	runDuration          *prometheus.HistogramVec

	// 记录存储指标
	storeWritesTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 在默认注册表上创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWith 在 reg 上创建指标收集器
func NewCollectorWith(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 生成后端指标
	c.generationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Total number of generation calls",
		},
		[]string{"backend", "participant", "status"},
	)
	c.generationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Generation call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"backend"},
	)

	// 对话指标
	c.conversationsCreated = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_created_total",
			Help:      "Total number of conversations created",
		},
	)
	c.turnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of appended turns",
		},
		[]string{"state"},
	)
	c.interruptsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Total number of runs suspended for external input",
		},
	)
	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of Start/Continue calls by outcome",
		},
		[]string{"operation", "status", "reason"},
	)
	c.runDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Start/Continue duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"operation"},
	)

	c.storeWritesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_writes_total",
			Help:      "Total number of transcript store writes",
		},
		[]string{"status"},
	)

	return c
}

// =============================================================================
// 🎯 记录方法
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveGeneration 实现 llm.Observer
func (c *Collector) ObserveGeneration(backend, participant string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = string(types.GetErrorCode(err))
		if status == "" {
			status = "error"
		}
	}
	c.generationsTotal.WithLabelValues(backend, participant, status).Inc()
	c.generationDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordRun 记录一次 Start/Continue 调用的结果
func (c *Collector) RecordRun(operation string, conv *conversation.Conversation, duration time.Duration, err error) {
	status := string(conv.Status())
	if err != nil && !conv.Status().Terminal() {
		// 协议错误（BUSY、NOT_SUSPENDED 等）不改变状态
		status = "rejected"
	}
	c.runsTotal.WithLabelValues(operation, status, string(conv.Reason())).Inc()
	c.runDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordStoreWrite 记录一次记录存储写入
func (c *Collector) RecordStoreWrite(err error) {
	if err != nil {
		c.storeWritesTotal.WithLabelValues("error").Inc()
		return
	}
	c.storeWritesTotal.WithLabelValues("success").Inc()
}

// Attach 订阅对话事件，返回取消订阅函数
func (c *Collector) Attach(conv *conversation.Conversation) func() {
	c.conversationsCreated.Inc()
	offMsg := conv.On(conversation.EventMessage, func(_ context.Context, ev conversation.Event) {
		c.turnsTotal.WithLabelValues(string(ev.Turn.State)).Inc()
	})
	offInt := conv.On(conversation.EventInterrupt, func(context.Context, conversation.Event) {
		c.interruptsTotal.Inc()
	})
	return func() {
		offMsg()
		offInt()
	}
}

// Hook 返回可注册到 conversation.Manager.OnCreate 的钩子
func (c *Collector) Hook() func(*conversation.Conversation) {
	return func(conv *conversation.Conversation) { c.Attach(conv) }
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
