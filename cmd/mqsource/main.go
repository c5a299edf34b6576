package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mqsource/internal/metrics"
	"mqsource/internal/pool"
	"mqsource/internal/source"
	"mqsource/internal/source/connector"
	"mqsource/internal/source/consumer"
	"mqsource/internal/source/retry"
	"mqsource/internal/source/transport/amqp"
	"mqsource/internal/source/transport/couchbase"
	"mqsource/internal/tracing"
)

const version = "1.0.0"

type Config struct {
	Backend         string        `env:"BACKEND" envDefault:"memory"`
	AppName         string        `env:"APP_NAME" envDefault:"mqsource"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	PoolSize        int           `env:"POOL_SIZE" envDefault:"16"`
	SeedCount       int           `env:"SEED_COUNT" envDefault:"0"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Source    source.Config
	Retry     retry.Config
	AMQP      amqp.Config
	Couchbase couchbase.Config
	Metrics   metrics.ServerConfig
	Tracing   tracing.Config
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse environment variables: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("mqsource stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		log.Printf("invalid log level %q, defaulting to info: %v", level, err)
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	return config.Build(zap.AddCaller())
}

func run(cfg Config, logger *zap.Logger) error {
	if cfg.PoolSize < cfg.Source.WorkerCount {
		return fmt.Errorf("pool size %d is smaller than worker count %d", cfg.PoolSize, cfg.Source.WorkerCount)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := metrics.NewRegistry()
	registry.SetSystemInfo(version, cfg.Backend)

	tracer, tracingCleanup, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingCleanup(shutdownCtx); err != nil {
			logger.Error("failed to cleanup tracing", zap.Error(err))
		}
	}()

	b, err := newBackend(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create %s backend: %w", cfg.Backend, err)
	}

	queue := cfg.Source.QueueName
	factory := consumer.NewTracedFactory(consumer.NewMetricsFactory(b.factory, registry), tracer)

	workers, err := pool.New(cfg.PoolSize, logger)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}

	conn, err := connector.New(cfg.AppName, cfg.Source, factory, workers, logger)
	if err != nil {
		return fmt.Errorf("failed to create connector: %w", err)
	}
	src := connector.NewTracedSource(
		connector.NewMetricsSource(conn, registry, queue, cfg.Source.WorkerCount),
		tracer,
		queue,
	)

	retryHandler, err := retry.NewHandler(cfg.Retry, src, logger,
		retry.WithObserver(registry.RecordRecovery),
		retry.WithGiveUp(func(err error) {
			logger.Error("giving up on source", zap.Error(err))
			cancel()
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create retry handler: %w", err)
	}
	conn.SetRetryHandler(consumer.NewMetricsRetryHandler(retryHandler, registry, queue))

	metricsServer := metrics.NewServer(cfg.Metrics, registry, conn.Ready, logger)
	go func() {
		if err := metricsServer.Start(ctx); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("metrics server started",
		zap.String("endpoint", fmt.Sprintf("http://localhost:%d/metrics", cfg.Metrics.Port)),
		zap.String("ready", fmt.Sprintf("http://localhost:%d/ready", cfg.Metrics.Port)),
	)

	if cfg.SeedCount > 0 {
		if err := b.send(ctx, cfg.Source.DestinationName, seedMessages(cfg.SeedCount)...); err != nil {
			return fmt.Errorf("failed to seed queue %s: %w", cfg.Source.DestinationName, err)
		}
		logger.Info("seeded queue", zap.Int("count", cfg.SeedCount))
	}

	listener := consumer.NewTracedListener(
		consumer.NewMetricsListener(newEventLogger(logger), registry, queue),
		tracer,
		queue,
	)

	err = src.Connect(ctx, listener)
	switch {
	case err == nil:
	case errors.Is(err, source.ErrConnectionUnavailable):
		logger.Warn("source unavailable at startup, retrying", zap.Error(err))
		retryHandler.OnError(err)
	default:
		retryHandler.Close()
		return fmt.Errorf("failed to connect source: %w", err)
	}

	waitForSignals(ctx, logger, src)

	// stop recoveries before tearing the group down so none restarts it
	retryHandler.Close()
	src.Disconnect()

	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.ShutdownTimeout):
		logger.Warn("workers did not stop in time")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop metrics server", zap.Error(err))
	}

	return nil
}

// waitForSignals blocks until SIGINT, SIGTERM or ctx is done. SIGUSR1
// pauses the source and SIGUSR2 resumes it.
func waitForSignals(ctx context.Context, logger *zap.Logger, src source.Source) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-sig:
			switch s {
			case syscall.SIGUSR1:
				logger.Info("pausing source")
				src.Pause()
			case syscall.SIGUSR2:
				logger.Info("resuming source")
				src.Resume()
			default:
				logger.Info("shutting down", zap.String("signal", s.String()))
				return
			}
		}
	}
}
