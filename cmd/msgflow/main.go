package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/msgflow/internal/application/dispatch"
	"github.com/aescanero/msgflow/internal/application/orchestrator"
	"github.com/aescanero/msgflow/internal/application/registry"
	"github.com/aescanero/msgflow/internal/application/workers"
	"github.com/aescanero/msgflow/internal/config"
	"github.com/aescanero/msgflow/pkg/adapters/events/memory"
	redisevents "github.com/aescanero/msgflow/pkg/adapters/events/redis"
	"github.com/aescanero/msgflow/pkg/adapters/metrics/prometheus"
	memorystorage "github.com/aescanero/msgflow/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/msgflow/pkg/adapters/storage/redis"
	"github.com/aescanero/msgflow/pkg/api/grpc"
	"github.com/aescanero/msgflow/pkg/api/http"
	"github.com/aescanero/msgflow/pkg/api/websocket"
	"github.com/aescanero/msgflow/pkg/flowdef"
	"github.com/aescanero/msgflow/pkg/ports"

	prom "github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting message flow engine",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventBus := memory.NewInMemoryEventBus(logger)
	metricsCollector := prometheus.NewCollector(prom.DefaultRegisterer)

	// Run storage and event history live in Redis when enabled
	var runStorage ports.RunStorage = memorystorage.NewInMemoryRunStorage()
	var eventHistory http.EventHistory
	var redisClient *goredis.Client
	if cfg.Redis.Enabled {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

		runStorage = redisstorage.NewRunStorage(redisClient, cfg.Storage.RunTTL, logger)

		mirror := redisevents.NewStreamMirror(redisClient, cfg.Redis.StreamMaxLen, cfg.Redis.EventTimeout, logger)
		mirror.Attach(eventBus)
		eventHistory = mirror
	}

	// Initialize application components
	flowRegistry := registry.New(eventBus, metricsCollector, logger)

	engine := orchestrator.NewOrchestrator(
		dispatch.NewTable(),
		flowRegistry,
		eventBus,
		metricsCollector,
		runStorage,
		logger,
		orchestrator.Config{
			DependencyTimeout: cfg.Engine.DependencyTimeout,
			ResponseDelay:     cfg.Engine.ResponseDelay,
		},
	)

	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		cfg.Workers.QueueSize,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
	)

	// Start worker pool
	if err := workerPool.Start(); err != nil {
		logger.Fatal("failed to start worker pool", zap.Error(err))
	}

	manager := orchestrator.NewManager(
		engine,
		flowRegistry,
		workerPool,
		runStorage,
		eventBus,
		orchestrator.NewValidator(),
		logger,
		cfg.Timeouts.FlowExecutionTimeout,
	)

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:     cfg.HTTPPort,
		Manager:  manager,
		Registry: flowRegistry,
		Health:   workerPool.Health(),
		Events:   eventHistory,
		Logger:   logger,
	})

	// Add WebSocket handler to HTTP server
	httpServer.SetupWebSocket(websocket.NewHandler(eventBus, logger))

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Health: workerPool.Health(),
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("failed to create gRPC server", zap.Error(err))
	}

	if cfg.BootstrapFlowFile != "" {
		if err := submitBootstrapFlow(ctx, manager, cfg.BootstrapFlowFile, logger); err != nil {
			logger.Error("bootstrap flow not submitted", zap.Error(err))
		}
	}

	// Start servers
	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(grpcServer.Start)

	logger.Info("message flow engine started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize),
		zap.Bool("redis", cfg.Redis.Enabled))

	// Wait for a signal or a server failure
	<-gctx.Done()
	if cause := context.Cause(gctx); cause != nil && !errors.Is(cause, context.Canceled) {
		logger.Error("server failed", zap.Error(cause))
	} else {
		logger.Info("received shutdown signal")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("flow manager shutdown error", zap.Error(err))
	}

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("message flow engine shut down complete")
}

// submitBootstrapFlow loads a definition file and queues it
func submitBootstrapFlow(ctx context.Context, manager *orchestrator.Manager, path string, logger *zap.Logger) error {
	def, err := flowdef.Load(path)
	if err != nil {
		return err
	}

	sessionID, err := manager.SubmitFlow(ctx, def.Steps, def.FlowContext())
	if err != nil {
		return fmt.Errorf("failed to submit %s: %w", path, err)
	}

	logger.Info("bootstrap flow submitted",
		zap.String("path", path),
		zap.String("session_id", sessionID))
	return nil
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
