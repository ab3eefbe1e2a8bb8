// =============================================================================
// Herd 主入口
// =============================================================================
// worker 进程入口，包含队列消费、健康检查、Prometheus 指标
//
// 使用方法:
//
//	herd worker                       # 启动 worker
//	herd worker --config config.yaml  # 指定配置文件
//	herd version                      # 显示版本信息
//	herd health                       # 健康检查
//	herd migrate up                   # 运行数据库迁移
//	herd migrate down                 # 回滚最后一次迁移
//	herd migrate status               # 查看迁移状态
// =============================================================================

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/herd"
	"github.com/BaSui01/herd/config"
	"github.com/BaSui01/herd/internal/server"
	"github.com/BaSui01/herd/internal/telemetry"
	"github.com/BaSui01/herd/internal/tlsutil"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "worker":
		runWorker(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🛠️ worker 命令
// =============================================================================

func runWorker(args []string) {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	definitions := fs.String("definitions", "", "Glob of YAML workflow definitions to register")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	var files []string
	if *definitions != "" {
		if files, err = filepath.Glob(*definitions); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid definitions pattern: %v\n", err)
			os.Exit(1)
		}
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting herd worker",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.Strings("queues", cfg.QueueNames()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	// 独立进程不注册作业实现（嵌入 herd 的程序用 herd.WithHandlers 注册），
	// 只推进嵌套工作流节点；其余投递被 nack 重投，超出投递次数后进入死信。
	engine, err := herd.New(cfg, herd.WithLogger(logger), herd.WithDefinitionFiles(files...))
	if err != nil {
		logger.Fatal("Failed to assemble engine", zap.Error(err))
	}
	defer engine.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Pool().Run(gctx) })
	if cfg.Metrics.Enabled {
		ops := server.NewManager(engine.Ops().Handler(), server.ConfigFrom(cfg.Metrics), logger)
		g.Go(func() error { return ops.Run(gctx) })
	}
	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", zap.Error(err))
	}

	if providers != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	logger.Info("Herd worker stopped")
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:9091", "Ops server address")
	fs.Parse(args)

	if err := checkHealth(tlsutil.SecureHTTPClient(5*time.Second), *addr); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func checkHealth(client *http.Client, addr string) error {
	resp, err := client.Get(addr + "/healthz")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New("status " + resp.Status)
	}
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("herd %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`herd - distributed workflow orchestrator

Usage:
  herd <command> [options]

Commands:
  worker    Consume the execution queues and run jobs
  migrate   Database migration commands
  version   Show version information
  health    Check a running worker through its ops server
  help      Show this help message

Options for 'worker':
  --config <path>        Path to configuration file (YAML)
  --definitions <glob>   YAML workflow definitions to register

Migration subcommands:
  migrate up        Apply all pending migrations
  migrate down      Rollback the last migration
  migrate steps <n> Apply (n>0) or roll back (n<0) n migrations
  migrate status    Show migration status
  migrate version   Show current migration version
  migrate force <v> Force set migration version

Examples:
  herd worker --config /etc/herd/config.yaml
  herd migrate up
  herd migrate status
  herd health --addr http://localhost:9091
  herd version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
