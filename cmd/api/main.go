package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/otp-dispatch/internal/bootstrap"
	"github.com/kursadbilgin/otp-dispatch/internal/config"
	"github.com/kursadbilgin/otp-dispatch/internal/handler"
	"github.com/kursadbilgin/otp-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/otp-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/otp-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/otp-dispatch/internal/observability"
	"github.com/kursadbilgin/otp-dispatch/internal/queue"
	"github.com/kursadbilgin/otp-dispatch/internal/repository"
	"github.com/kursadbilgin/otp-dispatch/internal/service"
	"github.com/kursadbilgin/otp-dispatch/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	lockMaxWait     = 2 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(observability.LoggerOptions{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "otp-api",
	})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

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

	locker, err := infraredis.NewKeyLocker(rdb, lockMaxWait)
	if err != nil {
		logger.Fatal("key locker initialization failed", zap.Error(err))
	}

	otpManager, err := service.NewOTPManager(
		repository.NewGormOTPRepo(db),
		dispatcher,
		locker,
		service.OTPOptions{
			CodeLength:        cfg.OTPCodeLength,
			MaxAttempts:       cfg.OTPMaxAttempts,
			DefaultExpiration: cfg.OTPExpiration(),
			LockTTL:           cfg.OTPLockTTL(),
		},
		logger,
	)
	if err != nil {
		logger.Fatal("otp manager initialization failed", zap.Error(err))
	}
	otpManager.SetMetrics(metrics)

	checks := []handler.ReadinessCheck{handler.PostgresCheck(sqlDB), handler.RedisCheck(rdb)}
	var publisher queue.Publisher
	if cfg.AsyncEnabled() {
		rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL, "otp-api")
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		defer rabbit.Close()
		publisher = queue.NewRabbitMQPublisher(rabbit)
		checks = append(checks, handler.RabbitMQCheck(rabbit))
	}

	app := fiber.New(fiber.Config{
		AppName:      "otp-dispatch",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(handler.CorrelationID())
	app.Use(metrics.HTTPMiddleware(transport.StatusCode))

	handler.RegisterHealthRoutes(app, checks...)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterOTPRoutes(app, otpManager); err != nil {
		logger.Fatal("otp routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterNotificationRoutes(app, dispatcher, publisher); err != nil {
		logger.Fatal("notification routes registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if interval := cfg.RetryScanInterval(); interval > 0 {
		scanner, err := service.NewRetryScanner(dispatcher, interval, logger)
		if err != nil {
			logger.Fatal("retry scanner initialization failed", zap.Error(err))
		}
		g.Go(func() error { return scanner.Start(gctx) })
	}

	cleanupJob, err := service.NewCleanupJob(otpManager, cfg.OTPCleanupSchedule, logger)
	if err != nil {
		logger.Fatal("cleanup job initialization failed", zap.Error(err))
	}
	g.Go(func() error { return cleanupJob.Start(gctx) })

	g.Go(func() error {
		logger.Info("otp-dispatch api started", zap.Int("port", cfg.APIPort), zap.Bool("async", cfg.AsyncEnabled()))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("api stopped with error", zap.Error(err))
	}
	logger.Info("otp-dispatch api stopped")
}
