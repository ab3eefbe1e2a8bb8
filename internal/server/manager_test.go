package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/herd/config"
	"github.com/BaSui01/herd/internal/metrics"
)

// =============================================================================
// 🧪 Manager
// =============================================================================

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.MetricsConfig{Addr: ":7000", ShutdownTimeout: time.Second})
	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, DefaultConfig().ReadTimeout, cfg.ReadTimeout)

	assert.Equal(t, ":9091", ConfigFrom(config.MetricsConfig{}).Addr)
}

func TestManager_Lifecycle(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	m := NewManager(handler, cfg, zap.NewNop())

	require.NoError(t, m.Start())
	assert.ErrorContains(t, m.Start(), "already started")
	assert.True(t, m.IsRunning())

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
	assert.ErrorContains(t, m.Start(), "closed")

	select {
	case err := <-m.Errors():
		t.Fatalf("unexpected server error: %v", err)
	default:
	}
}

func TestManager_Run(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	m := NewManager(http.NotFoundHandler(), cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + m.Addr() + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNotFound
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, m.IsRunning())
}

func TestManager_RunListenError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "256.0.0.1:bad"
	m := NewManager(http.NotFoundHandler(), cfg, zap.NewNop())
	assert.Error(t, m.Run(context.Background()))
}

// =============================================================================
// 🧪 Ops
// =============================================================================

func newOps(t *testing.T) (*Ops, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("herd", reg, zap.NewNop())
	return NewOps(reg, collector, zap.NewNop()), reg
}

func TestOps_HealthzHealthy(t *testing.T) {
	ops, reg := newOps(t)
	ops.AddCheck("database", func(context.Context) error { return nil })
	ops.AddCheck("redis", func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	ops.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]string{"database": "ok", "redis": "ok"}, resp.Checks)

	count, err := testutil.GatherAndCount(reg, "herd_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestOps_HealthzUnavailable(t *testing.T) {
	ops, _ := newOps(t)
	ops.AddCheck("database", func(context.Context) error { return nil })
	ops.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	ops.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unavailable", resp.Status)
	assert.Equal(t, "connection refused", resp.Checks["redis"])
}

func TestOps_Stats(t *testing.T) {
	ops, _ := newOps(t)
	ops.AddStats("queue", func(context.Context) (any, error) {
		return map[string]int{"ready": 3}, nil
	})
	ops.AddStats("redis", func(context.Context) (any, error) {
		return nil, errors.New("closed")
	})

	rec := httptest.NewRecorder()
	ops.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var out map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, float64(3), out["queue"]["ready"])
	assert.Equal(t, "closed", out["redis"]["error"])
}

func TestOps_Metrics(t *testing.T) {
	ops, _ := newOps(t)

	rec := httptest.NewRecorder()
	ops.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec = httptest.NewRecorder()
	ops.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "herd_http_requests_total")
}
