// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。本服务唯一的指标实现：转接域指标
// （创建/分配/完成计数与等待、处理时延）都经由它记录。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 转接指标
	handoffsCreated   *prometheus.CounterVec
	handoffsAssigned  prometheus.Counter
	handoffsCompleted prometheus.Counter
	handoffsTimedOut  prometheus.Counter
	handoffWaitTime   prometheus.Histogram
	handoffResolution prometheus.Histogram
	handoffConflicts  prometheus.Counter

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 队列指标
	queueEnqueued    *prometheus.CounterVec
	queueAcked       prometheus.Counter
	queueDeadLetters prometheus.Counter
	queueRetries     prometheus.Counter
	queueDepth       *prometheus.GaugeVec

	// 通知指标
	notifyDelivered prometheus.Counter
	notifyFailed    *prometheus.CounterVec
	connectionsLive prometheus.Gauge

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 转接指标
	c.handoffsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_created_total",
			Help:      "Total number of handoff requests created",
		},
		[]string{"priority"},
	)

	c.handoffsAssigned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_assigned_total",
			Help:      "Total number of handoffs assigned to an advisor",
		},
	)

	c.handoffsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_completed_total",
			Help:      "Total number of handoffs completed",
		},
	)

	c.handoffsTimedOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_timed_out_total",
			Help:      "Total number of pending handoffs expired by the timeout sweep",
		},
	)

	c.handoffWaitTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handoff_wait_seconds",
			Help:      "Time between handoff creation and advisor assignment",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	c.handoffResolution = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handoff_resolution_seconds",
			Help:      "Time between handoff creation and completion",
			Buckets:   []float64{30, 60, 300, 600, 1800, 3600, 7200},
		},
	)

	c.handoffConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoff_assignment_conflicts_total",
			Help:      "Total number of assignment attempts that lost the conditional write",
		},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 队列指标
	c.queueEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_messages_enqueued_total",
			Help:      "Total number of messages enqueued",
		},
		[]string{"type"},
	)

	c.queueAcked = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_messages_acked_total",
			Help:      "Total number of messages acknowledged after successful delivery",
		},
	)

	c.queueDeadLetters = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dead_letters_total",
			Help:      "Total number of messages moved to the dead-letter queue",
		},
	)

	c.queueRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_delivery_retries_total",
			Help:      "Total number of delivery retry attempts",
		},
	)

	c.queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of messages in a queue",
		},
		[]string{"queue"},
	)

	// 通知指标
	c.notifyDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_delivered_total",
			Help:      "Total number of notifications delivered to live connections",
		},
	)

	c.notifyFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Total number of per-connection notification failures",
		},
		[]string{"reason"}, // reason: gone, error, no_recipient
	)

	c.connectionsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_live",
			Help:      "Number of live registered connections",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🤝 转接指标记录
// =============================================================================

// RecordHandoffCreated 记录转接创建
func (c *Collector) RecordHandoffCreated(priority string) {
	c.handoffsCreated.WithLabelValues(priority).Inc()
}

// RecordHandoffAssigned 记录转接分配及等待时长（now - createdAt）
func (c *Collector) RecordHandoffAssigned(waitTime time.Duration) {
	c.handoffsAssigned.Inc()
	c.handoffWaitTime.Observe(waitTime.Seconds())
}

// RecordHandoffCompleted 记录转接完成及处理时长（now - createdAt）
func (c *Collector) RecordHandoffCompleted(resolutionTime time.Duration) {
	c.handoffsCompleted.Inc()
	c.handoffResolution.Observe(resolutionTime.Seconds())
}

// RecordHandoffTimeout 记录超时清扫淘汰的 pending 转接
func (c *Collector) RecordHandoffTimeout() {
	c.handoffsTimedOut.Inc()
}

// RecordAssignmentConflict 记录分配竞争失败
func (c *Collector) RecordAssignmentConflict() {
	c.handoffConflicts.Inc()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 📬 队列指标记录
// =============================================================================

// RecordEnqueue 记录消息入队
func (c *Collector) RecordEnqueue(messageType string) {
	c.queueEnqueued.WithLabelValues(messageType).Inc()
}

// RecordAck 记录消息确认
func (c *Collector) RecordAck() {
	c.queueAcked.Inc()
}

// RecordDeadLetter 记录死信
func (c *Collector) RecordDeadLetter() {
	c.queueDeadLetters.Inc()
}

// RecordDeliveryRetry 记录一次投递重试
func (c *Collector) RecordDeliveryRetry() {
	c.queueRetries.Inc()
}

// SetQueueDepth 更新队列深度
func (c *Collector) SetQueueDepth(queue string, depth int64) {
	c.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// =============================================================================
// 🔔 通知指标记录
// =============================================================================

// RecordNotifyDelivered 记录一次成功的连接级投递
func (c *Collector) RecordNotifyDelivered() {
	c.notifyDelivered.Inc()
}

// RecordNotifyFailed 记录一次连接级投递失败
func (c *Collector) RecordNotifyFailed(reason string) {
	c.notifyFailed.WithLabelValues(reason).Inc()
}

// SetLiveConnections 更新在线连接数
func (c *Collector) SetLiveConnections(n int) {
	c.connectionsLive.Set(float64(n))
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
