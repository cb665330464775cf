package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/kursadbilgin/otp-dispatch/internal/bootstrap"
	"github.com/kursadbilgin/otp-dispatch/internal/config"
	"github.com/kursadbilgin/otp-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/otp-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/otp-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/otp-dispatch/internal/observability"
	"github.com/kursadbilgin/otp-dispatch/internal/queue"
	"github.com/kursadbilgin/otp-dispatch/internal/repository"
	"github.com/kursadbilgin/otp-dispatch/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(observability.LoggerOptions{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "otp-worker",
	})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if !cfg.AsyncEnabled() {
		logger.Fatal("RABBITMQ_URL is required for the worker")
	}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	metrics := observability.NewMetrics()

	inbox, err := infraredis.NewInbox(rdb, cfg.InboxMaxItems)
	if err != nil {
		logger.Fatal("inbox initialization failed", zap.Error(err))
	}

	registry, err := bootstrap.NewProviderRegistry(cfg, inbox, logger)
	if err != nil {
		logger.Fatal("provider registry initialization failed", zap.Error(err))
	}

	limits, err := cfg.RateLimits()
	if err != nil {
		logger.Fatal("invalid provider rate limits", zap.Error(err))
	}
	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, limits)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	dispatcher, err := service.NewDispatcher(
		repository.NewGormNotificationRepo(db),
		repository.NewGormAttemptRepo(db),
		registry,
		rateLimiter,
		logger,
	)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetInbox(inbox)
	dispatcher.SetMetrics(metrics)

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL, "otp-worker")
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)
	consumer.SetMetrics(metrics)
	worker, err := service.NewQueueWorker(dispatcher, consumer, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("queue worker initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("otp-dispatch worker started", zap.Int("concurrency", cfg.WorkerConcurrency))
		return worker.Start(gctx)
	})

	if cfg.WorkerMetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.WorkerMetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
	}
	logger.Info("otp-dispatch worker stopped")
}
