// Package herd wires the orchestrator from a single configuration: the Redis
// connection shared by the graph store, the lock and the execution queue, the
// relational durable store, the client façade and the worker.
//
// Usage:
//
//	import "github.com/BaSui01/herd"
//
//	engine, err := herd.New(cfg,
//		herd.WithRegistry(registry),
//		herd.WithHandlers(handlers),
//	)
//	defer engine.Close()
//
//	wf, err := engine.Client().CreateWorkflow(ctx, "Diamond")
//	err = engine.Client().StartWorkflow(ctx, wf.ID)
//	err = engine.Pool().Run(ctx)
package herd

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/herd/client"
	"github.com/BaSui01/herd/config"
	"github.com/BaSui01/herd/internal/cache"
	"github.com/BaSui01/herd/internal/database"
	"github.com/BaSui01/herd/internal/metrics"
	"github.com/BaSui01/herd/internal/server"
	"github.com/BaSui01/herd/lock"
	"github.com/BaSui01/herd/persistence"
	"github.com/BaSui01/herd/queue"
	"github.com/BaSui01/herd/worker"
	"github.com/BaSui01/herd/workflow"
	"github.com/BaSui01/herd/workflow/dsl"
)

// Option configures an [Engine].
type Option func(*options)

type options struct {
	logger      *zap.Logger
	registry    *workflow.Registry
	handlers    *worker.Handlers
	registerer  prometheus.Registerer
	gatherer    prometheus.Gatherer
	redisClient redis.UniversalClient
	db          *gorm.DB
	autoMigrate bool
	definitions []string
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegistry sets the workflow definitions the engine can build.
func WithRegistry(registry *workflow.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithHandlers sets the job bodies the worker can run.
func WithHandlers(handlers *worker.Handlers) Option {
	return func(o *options) { o.handlers = handlers }
}

// WithPrometheus registers engine metrics on reg and serves them from it.
func WithPrometheus(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registerer = reg
		o.gatherer = reg
	}
}

// WithRedisClient reuses an existing Redis client instead of dialing
// cfg.Redis. The engine closes it on Close.
func WithRedisClient(c redis.UniversalClient) Option {
	return func(o *options) { o.redisClient = c }
}

// WithDB reuses an existing gorm connection instead of opening cfg.Database.
func WithDB(db *gorm.DB) Option {
	return func(o *options) { o.db = db }
}

// WithAutoMigrate creates the durable tables with gorm on startup. Production
// deployments run `herd migrate up` instead.
func WithAutoMigrate() Option {
	return func(o *options) { o.autoMigrate = true }
}

// WithDefinitionFiles registers the YAML workflow definitions in the given
// files on top of the registry.
func WithDefinitionFiles(paths ...string) Option {
	return func(o *options) { o.definitions = append(o.definitions, paths...) }
}

// Engine owns every long-lived component of one herd process.
type Engine struct {
	config *config.Config
	logger *zap.Logger

	redis   *cache.Manager
	db      *database.PoolManager
	graph   persistence.GraphStore
	durable *persistence.DurableStore
	queue   *queue.RedisQueue
	mutex   *lock.Mutex
	metrics *metrics.Collector

	registry    *workflow.Registry
	handlers    *worker.Handlers
	client      *client.Client
	coordinator *worker.Coordinator
	worker      *worker.Worker
	pool        *worker.Pool

	gatherer prometheus.Gatherer
}

// New connects to Redis and the database and assembles the engine. Components
// built before a failure are closed again.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.registry == nil {
		o.registry = workflow.NewRegistry(o.logger)
	}
	if o.handlers == nil {
		o.handlers = worker.NewHandlers()
	}
	if o.registerer == nil {
		o.registerer = prometheus.DefaultRegisterer
		o.gatherer = prometheus.DefaultGatherer
	}

	parser := dsl.NewParser()
	for _, path := range o.definitions {
		name, err := parser.RegisterFile(o.registry, path)
		if err != nil {
			return nil, fmt.Errorf("load definition %s: %w", path, err)
		}
		o.logger.Info("workflow definition loaded", zap.String("definition", name), zap.String("path", path))
	}

	e := &Engine{
		config:   cfg,
		logger:   o.logger.With(zap.String("component", "engine")),
		registry: o.registry,
		handlers: o.handlers,
		gatherer: o.gatherer,
	}
	if err := e.init(o); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) init(o *options) error {
	cfg := e.config

	if cfg.Metrics.Enabled {
		namespace := cfg.Metrics.Namespace
		if namespace == "" {
			namespace = cfg.Herd.Namespace
		}
		e.metrics = metrics.NewCollector(namespace, o.registerer, o.logger)
	}

	// Redis：图存储、锁、队列共用
	if o.redisClient != nil {
		e.redis = cache.NewManagerWithClient(o.redisClient, cache.ConfigFrom(cfg.Redis), o.logger)
	} else {
		m, err := cache.NewManager(cache.ConfigFrom(cfg.Redis), o.logger)
		if err != nil {
			return err
		}
		e.redis = m
	}

	// 持久化存储
	db := o.db
	if db == nil {
		opened, err := database.Open(cfg.Database, o.logger)
		if err != nil {
			return err
		}
		db = opened
	}
	pool, err := database.NewPoolManager(db, database.PoolConfigFrom(cfg.Database), o.logger)
	if err != nil {
		return err
	}
	e.db = pool
	e.durable = persistence.NewDurableStore(pool, o.logger)
	if o.autoMigrate {
		if err := e.durable.AutoMigrate(context.Background()); err != nil {
			return err
		}
	}

	graph, err := persistence.NewGraphStore(persistence.StoreConfig{
		Type:      persistence.StoreTypeRedis,
		Namespace: cfg.Herd.Namespace,
		TTL:       cfg.Herd.TTL,
	}, e.redis.Client(), o.logger)
	if err != nil {
		return err
	}
	e.graph = graph

	e.queue = queue.NewRedisQueue(e.redis.Client(), queue.ConfigFrom(cfg), e.metrics, o.logger)
	e.mutex = lock.NewMutex(
		lock.NewRedisLocker(e.redis.Client(), cfg.Herd.Namespace),
		lock.ConfigFrom(cfg.Herd), e.metrics, o.logger,
	)

	e.client, err = client.New(cfg.Herd, client.Deps{
		Graph:    e.graph,
		Durable:  e.durable,
		Queue:    e.queue,
		Registry: e.registry,
		Mutex:    e.mutex,
		Metrics:  e.metrics,
	}, o.logger)
	if err != nil {
		return err
	}

	e.coordinator = worker.NewCoordinator(e.client, e.mutex, o.logger)
	e.worker = worker.New(e.client, e.coordinator, e.handlers, e.metrics, o.logger)
	e.pool = worker.NewPool(e.worker, e.queue, worker.PoolConfigFrom(cfg), o.logger)

	e.logger.Info("engine assembled",
		zap.String("namespace", cfg.Herd.Namespace),
		zap.Strings("queues", cfg.QueueNames()),
		zap.Strings("handlers", e.handlers.Types()),
	)
	return nil
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config { return e.config }

// Client returns the client façade.
func (e *Engine) Client() *client.Client { return e.client }

// Registry returns the workflow definitions.
func (e *Engine) Registry() *workflow.Registry { return e.registry }

// Handlers returns the job bodies.
func (e *Engine) Handlers() *worker.Handlers { return e.handlers }

// Worker returns the single-delivery executor.
func (e *Engine) Worker() *worker.Worker { return e.worker }

// Pool returns the queue consumer loop.
func (e *Engine) Pool() *worker.Pool { return e.pool }

// Queue returns the Redis execution queue.
func (e *Engine) Queue() *queue.RedisQueue { return e.queue }

// DurableStore returns the relational store.
func (e *Engine) DurableStore() *persistence.DurableStore { return e.durable }

// Ops returns the /metrics, /healthz and /stats routes for this engine.
func (e *Engine) Ops() *server.Ops {
	ops := server.NewOps(e.gatherer, e.metrics, e.logger)

	ops.AddCheck("redis", e.redis.Ping)
	ops.AddCheck("database", e.durable.Ping)

	ops.AddStats("redis", func(ctx context.Context) (any, error) {
		return e.redis.GetStats(ctx)
	})
	ops.AddStats("database", func(context.Context) (any, error) {
		stats := e.db.Stats()
		e.metrics.RecordDBConnections(e.config.Database.Driver, stats.OpenConnections, stats.Idle)
		return e.db.GetStats(), nil
	})
	ops.AddStats("queues", func(ctx context.Context) (any, error) {
		out := make(map[string]queue.Stats)
		for _, name := range e.config.QueueNames() {
			s, err := e.queue.Stats(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("queue %s: %w", name, err)
			}
			out[name] = s
		}
		return out, nil
	})
	ops.AddStats("pool", func(context.Context) (any, error) {
		return e.pool.Stats(), nil
	})
	return ops
}

// Close releases the stores and connections. It is safe to call on a
// partially built engine.
func (e *Engine) Close() error {
	var errs []error
	if e.graph != nil {
		errs = append(errs, e.graph.Close())
	}
	if e.durable != nil {
		errs = append(errs, e.durable.Close())
	} else if e.db != nil {
		errs = append(errs, e.db.Close())
	}
	if e.redis != nil {
		errs = append(errs, e.redis.Close())
	}
	return errors.Join(errs...)
}
