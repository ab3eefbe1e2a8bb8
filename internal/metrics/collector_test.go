package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector("herd_test", prometheus.NewRegistry(), zap.NewNop())
}

func TestNewCollector(t *testing.T) {
	collector := newTestCollector(t)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.jobTransitions)
	assert.NotNil(t, collector.lockAcquisitions)
	assert.NotNil(t, collector.deliveries)
}

func TestNewCollector_SeparateRegistries(t *testing.T) {
	// 同名 namespace 注册到不同 Registry 不冲突
	assert.NotPanics(t, func() {
		NewCollector("herd", prometheus.NewRegistry(), nil)
		NewCollector("herd", prometheus.NewRegistry(), nil)
	})
}

func TestCollector_RecordJobTransition(t *testing.T) {
	collector := newTestCollector(t)

	collector.RecordJobTransition("FetchA", "in_process")
	collector.RecordJobTransition("FetchA", "in_process")
	collector.RecordJobTransition("FetchA", "completed")

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.jobTransitions.WithLabelValues("FetchA", "in_process")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.jobTransitions.WithLabelValues("FetchA", "completed")))
}

func TestCollector_RecordJobDuration(t *testing.T) {
	collector := newTestCollector(t)

	collector.RecordJobDuration("FetchA", "succeeded", 120*time.Millisecond)
	collector.RecordJobDuration("FetchA", "failed", 2*time.Second)

	assert.Equal(t, 2, testutil.CollectAndCount(collector.jobDuration))
}

func TestCollector_RecordEnqueueAndWorkflow(t *testing.T) {
	collector := newTestCollector(t)

	collector.RecordEnqueue("herd")
	collector.RecordWorkflowTransition("Diamond", "completed")

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.jobsEnqueued.WithLabelValues("herd")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.workflowTransitions.WithLabelValues("Diamond", "completed")))
}

func TestCollector_RecordLock(t *testing.T) {
	collector := newTestCollector(t)

	collector.RecordLockRetry("next")
	collector.RecordLockRetry("next")
	collector.RecordLockAcquired("next", 600*time.Millisecond)
	collector.RecordLockExhausted("finish", 9*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.lockRetries.WithLabelValues("next")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.lockAcquisitions.WithLabelValues("next", "acquired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.lockAcquisitions.WithLabelValues("finish", "exhausted")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.lockWait))
}

func TestCollector_RecordDelivery(t *testing.T) {
	collector := newTestCollector(t)

	collector.RecordDelivery("herd", "ack")
	collector.RecordDelivery("herd", "dead")

	assert.Equal(t, 2, testutil.CollectAndCount(collector.deliveries))
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := newTestCollector(t)

	collector.RecordHTTPRequest("GET", "/metrics", 200, 5*time.Millisecond)
	collector.RecordHTTPRequest("GET", "/healthz", 503, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/healthz", "5xx")))
}

func TestCollector_RecordDBConnections(t *testing.T) {
	collector := newTestCollector(t)

	collector.RecordDBConnections("postgres", 10, 5)

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("postgres")))
}

func TestCollector_NilSafe(t *testing.T) {
	var collector *Collector

	assert.NotPanics(t, func() {
		collector.RecordJobTransition("A", "done")
		collector.RecordJobDuration("A", "succeeded", time.Second)
		collector.RecordEnqueue("herd")
		collector.RecordWorkflowTransition("W", "failed")
		collector.RecordLockAcquired("next", 0)
		collector.RecordLockRetry("next")
		collector.RecordLockExhausted("next", 0)
		collector.RecordDelivery("herd", "nack")
		collector.RecordHTTPRequest("GET", "/", 200, 0)
		collector.RecordDBConnections("db", 1, 1)
	})
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
		{100, "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.code))
	}
}
