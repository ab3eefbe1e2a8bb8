package herd_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/herd"
	"github.com/BaSui01/herd/config"
	"github.com/BaSui01/herd/testutil"
	"github.com/BaSui01/herd/testutil/fixtures"
	"github.com/BaSui01/herd/worker"
	"github.com/BaSui01/herd/workflow"
)

func newEngine(t *testing.T) *herd.Engine {
	t.Helper()
	_, rc := testutil.NewRedis(t)

	cfg := config.DefaultConfig()
	cfg.Herd.DispatchDelay = 0
	cfg.Herd.PollingInterval = 5 * time.Millisecond
	cfg.Herd.LockRetries = 400
	cfg.Queue.PollRate = 500
	cfg.Queue.RetryBackoff = 10 * time.Millisecond
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = filepath.Join(t.TempDir(), "herd.db")
	cfg.Database.MaxOpenConns = 1
	cfg.Database.MaxIdleConns = 1
	cfg.Metrics.Enabled = true

	handlers := worker.NewHandlers()
	for _, jobType := range fixtures.DiamondJobTypes {
		handlers.MustRegister(jobType, worker.HandlerFunc(func(context.Context, *worker.JobContext) error {
			return nil
		}))
	}

	engine, err := herd.New(cfg,
		herd.WithLogger(testutil.Logger(t)),
		herd.WithRegistry(fixtures.Registry()),
		herd.WithHandlers(handlers),
		herd.WithPrometheus(prometheus.NewRegistry()),
		herd.WithRedisClient(rc),
		herd.WithAutoMigrate(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func TestEngine_RunsDiamond(t *testing.T) {
	engine := newEngine(t)
	ctx := testutil.TestContext(t)

	wf, err := engine.Client().CreateWorkflow(ctx, fixtures.Diamond, "s3://bucket")
	require.NoError(t, err)
	require.NoError(t, engine.Client().StartWorkflow(ctx, wf.ID))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- engine.Pool().Run(runCtx) }()

	testutil.AssertEventuallyTrue(t, func() bool {
		loaded, err := engine.Client().FindWorkflow(ctx, wf.ID)
		return err == nil && loaded.State == workflow.StateCompleted
	}, 10*time.Second)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
	assert.GreaterOrEqual(t, engine.Pool().Stats().Completed, int64(len(fixtures.DiamondJobTypes)))
}

func TestEngine_Ops(t *testing.T) {
	engine := newEngine(t)
	handler := engine.Ops().Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Contains(t, stats, "queues")
	assert.Contains(t, stats, "pool")
	assert.Contains(t, stats, "database")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "herd_http_requests_total")
}

func TestNew_BadDatabase(t *testing.T) {
	_, rc := testutil.NewRedis(t)
	cfg := config.DefaultConfig()
	cfg.Database.Driver = "oracle"

	_, err := herd.New(cfg, herd.WithRedisClient(rc), herd.WithPrometheus(prometheus.NewRegistry()))
	assert.Error(t, err)
}

func TestNew_DefinitionFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ship.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"1\"\nname: Ship\njobs:\n  - {type: Pack}\n  - {type: Send, after: [Pack]}\n"), 0o600))

	registry := workflow.NewRegistry(nil)
	_, rc := testutil.NewRedis(t)
	cfg := config.DefaultConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = filepath.Join(t.TempDir(), "herd.db")

	engine, err := herd.New(cfg,
		herd.WithRegistry(registry),
		herd.WithRedisClient(rc),
		herd.WithPrometheus(prometheus.NewRegistry()),
		herd.WithDefinitionFiles(path),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	assert.Contains(t, engine.Registry().Names(), "Ship")

	_, err = herd.New(cfg, herd.WithDefinitionFiles(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)
}
