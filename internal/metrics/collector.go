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

// Collector 指标收集器。所有方法对 nil 接收者安全，未启用指标时组件可以直接传 nil。
type Collector struct {
	// 作业指标
	jobTransitions *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobsEnqueued   *prometheus.CounterVec

	// 工作流指标
	workflowTransitions *prometheus.CounterVec

	// 分布式锁指标
	lockAcquisitions *prometheus.CounterVec
	lockRetries      *prometheus.CounterVec
	lockWait         *prometheus.HistogramVec

	// 执行队列指标
	deliveries *prometheus.CounterVec

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为空时注册到默认 Registry。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 作业指标
	c.jobTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Total number of job proxy status transitions",
		},
		[]string{"job_type", "status"},
	)

	c.jobDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job body duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"job_type", "outcome"},
	)

	c.jobsEnqueued = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs handed to the execution queue",
		},
		[]string{"queue"},
	)

	// 工作流指标
	c.workflowTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_transitions_total",
			Help:      "Total number of durable workflow state transitions",
		},
		[]string{"workflow_type", "state"},
	)

	// 分布式锁指标
	c.lockAcquisitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquisitions_total",
			Help:      "Lock acquisition outcomes: acquired or exhausted",
		},
		[]string{"scope", "result"},
	)

	c.lockRetries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_retries_total",
			Help:      "Total number of contended lock attempts that were retried",
		},
		[]string{"scope"},
	)

	c.lockWait = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a lock",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.3, 1, 3, 10, 30},
		},
		[]string{"scope"},
	)

	// 执行队列指标
	c.deliveries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_deliveries_total",
			Help:      "Queue delivery outcomes: ack, nack or dead",
		},
		[]string{"queue", "result"},
	)

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

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 作业与工作流
// =============================================================================

// RecordJobTransition 记录一次 proxy 状态转换
func (c *Collector) RecordJobTransition(jobType, status string) {
	if c == nil {
		return
	}
	c.jobTransitions.WithLabelValues(jobType, status).Inc()
}

// RecordJobDuration 记录作业主体耗时，outcome 为 succeeded 或 failed
func (c *Collector) RecordJobDuration(jobType, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.jobDuration.WithLabelValues(jobType, outcome).Observe(duration.Seconds())
}

// RecordEnqueue 记录一次派发
func (c *Collector) RecordEnqueue(queue string) {
	if c == nil {
		return
	}
	c.jobsEnqueued.WithLabelValues(queue).Inc()
}

// RecordWorkflowTransition 记录工作流持久状态变化
func (c *Collector) RecordWorkflowTransition(workflowType, state string) {
	if c == nil {
		return
	}
	c.workflowTransitions.WithLabelValues(workflowType, state).Inc()
}

// =============================================================================
// 🔒 分布式锁
// =============================================================================

// RecordLockAcquired 记录成功拿到锁及等待时间
func (c *Collector) RecordLockAcquired(scope string, wait time.Duration) {
	if c == nil {
		return
	}
	c.lockAcquisitions.WithLabelValues(scope, "acquired").Inc()
	c.lockWait.WithLabelValues(scope).Observe(wait.Seconds())
}

// RecordLockRetry 记录一次锁竞争重试
func (c *Collector) RecordLockRetry(scope string) {
	if c == nil {
		return
	}
	c.lockRetries.WithLabelValues(scope).Inc()
}

// RecordLockExhausted 记录重试预算耗尽
func (c *Collector) RecordLockExhausted(scope string, wait time.Duration) {
	if c == nil {
		return
	}
	c.lockAcquisitions.WithLabelValues(scope, "exhausted").Inc()
	c.lockWait.WithLabelValues(scope).Observe(wait.Seconds())
}

// =============================================================================
// 📬 执行队列
// =============================================================================

// RecordDelivery 记录投递结果：ack、nack 或 dead
func (c *Collector) RecordDelivery(queue, result string) {
	if c == nil {
		return
	}
	c.deliveries.WithLabelValues(queue, result).Inc()
}

// =============================================================================
// 🌐 HTTP 与数据库
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
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
