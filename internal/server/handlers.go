package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/herd/internal/metrics"
)

// =============================================================================
// 🏥 运维路由
// =============================================================================

// Check 是一项健康检查，返回 nil 表示健康
type Check func(ctx context.Context) error

// StatsFunc 返回 /stats 中某一项的内容
type StatsFunc func(ctx context.Context) (any, error)

// Ops 组装 /metrics、/healthz 与 /stats
type Ops struct {
	gatherer  prometheus.Gatherer
	collector *metrics.Collector
	logger    *zap.Logger
	timeout   time.Duration

	mu     sync.RWMutex
	checks map[string]Check
	stats  map[string]StatsFunc
}

// NewOps 创建运维路由。gatherer 为空时使用默认 Registry。
func NewOps(gatherer prometheus.Gatherer, collector *metrics.Collector, logger *zap.Logger) *Ops {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ops{
		gatherer:  gatherer,
		collector: collector,
		logger:    logger.With(zap.String("component", "ops")),
		timeout:   3 * time.Second,
		checks:    make(map[string]Check),
		stats:     make(map[string]StatsFunc),
	}
}

// AddCheck 注册健康检查
func (o *Ops) AddCheck(name string, check Check) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.checks[name] = check
}

// AddStats 注册统计项
func (o *Ops) AddStats(name string, fn StatsFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats[name] = fn
}

// Handler 返回挂好全部路由的 http.Handler
func (o *Ops) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", o.instrument("/healthz", o.healthz))
	mux.HandleFunc("/stats", o.instrument("/stats", o.statsHandler))
	return mux
}

// HealthResponse /healthz 的响应体
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (o *Ops) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), o.timeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Checks: make(map[string]string)}
	for _, name := range o.checkNames() {
		o.mu.RLock()
		check := o.checks[name]
		o.mu.RUnlock()

		if err := check(ctx); err != nil {
			resp.Status = "unavailable"
			resp.Checks[name] = err.Error()
			o.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (o *Ops) statsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), o.timeout)
	defer cancel()

	o.mu.RLock()
	fns := make(map[string]StatsFunc, len(o.stats))
	for k, v := range o.stats {
		fns[k] = v
	}
	o.mu.RUnlock()

	out := make(map[string]any, len(fns))
	for name, fn := range fns {
		v, err := fn(ctx)
		if err != nil {
			out[name] = map[string]string{"error": err.Error()}
			continue
		}
		out[name] = v
	}
	writeJSON(w, http.StatusOK, out)
}

func (o *Ops) checkNames() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.checks))
	for name := range o.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// instrument 记录请求计数与耗时
func (o *Ops) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		o.collector.RecordHTTPRequest(r.Method, path, rec.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
