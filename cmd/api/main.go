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

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/sms-dispatch/internal/config"
	"github.com/kursadbilgin/sms-dispatch/internal/handler"
	"github.com/kursadbilgin/sms-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/sms-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/sms-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/sms-dispatch/internal/observability"
	"github.com/kursadbilgin/sms-dispatch/internal/provider"
	"github.com/kursadbilgin/sms-dispatch/internal/queue"
	"github.com/kursadbilgin/sms-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/sms-dispatch/internal/repository"
	"github.com/kursadbilgin/sms-dispatch/internal/secret"
	"github.com/kursadbilgin/sms-dispatch/internal/service"
	"github.com/kursadbilgin/sms-dispatch/internal/tenantctx"
	"github.com/kursadbilgin/sms-dispatch/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 15 * time.Second
	lockExpiry      = 2 * time.Minute

	logMaxSizeMB  = 100
	logMaxBackups = 5
	logMaxAgeDays = 28
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	var logOpts []observability.LoggerOption
	if cfg.LogFile != "" {
		logOpts = append(logOpts, observability.WithRotatingFile(cfg.LogFile, logMaxSizeMB, logMaxBackups, logMaxAgeDays))
	}
	logger, err := observability.NewLogger(cfg.LogLevel, logOpts...)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Error("sms-dispatch api stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.DefaultPoolOptions())
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	defer postgresql.Close(db) //nolint:errcheck

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		defer rdb.Close()
	} else {
		logger.Warn("REDIS_URL not set; memoization, rate limiting and scan locking are disabled")
	}

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	publisher := queue.NewRabbitMQPublisher(broker)
	defer publisher.Close() //nolint:errcheck

	cipher, err := secret.NewCipher(cfg.SecretMasterKey, cfg.SecretKeyVersion)
	if err != nil {
		return fmt.Errorf("secret cipher initialization failed: %w", err)
	}
	secrets, err := secret.NewStore(repository.NewGormSecretRepo(db), cipher, logger)
	if err != nil {
		return err
	}
	secrets.SetMetrics(metrics)

	breakers := provider.NewBreakerSet(provider.BreakerConfig{
		ConsecutiveFailures: uint32(cfg.BreakerConsecutiveFailures),
		OpenTimeout:         cfg.BreakerOpenTimeout,
	}, logger)
	clients, err := provider.NewFactory(secrets, provider.FactoryConfig{
		DefaultBaseURL: cfg.ProviderBaseURL,
		Timeout:        cfg.ProviderTimeout,
		Breakers:       breakers,
	}, logger)
	if err != nil {
		return err
	}
	clients.SetMetrics(metrics)
	secrets.OnRotate(clients.InvalidateRef)

	build, err := tenantctx.NewBuilder(tenantctx.BuilderConfig{
		OpenDB:  tenantctx.SharedDB(db),
		Redis:   rdb,
		MemoTTL: cfg.MemoTTL,
	})
	if err != nil {
		return err
	}
	contexts, err := tenantctx.NewCache(build, logger)
	if err != nil {
		return err
	}

	limiter, err := newRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return err
	}

	dispatcher, err := service.NewDispatchService(contexts, clients, limiter, cfg.ProviderTimeout, logger)
	if err != nil {
		return err
	}
	dispatcher.SetMetrics(metrics)

	policy, err := cfg.OrderingPolicy()
	if err != nil {
		return err
	}
	reports, err := service.NewDeliveryReportProcessor(contexts, policy, logger)
	if err != nil {
		return err
	}
	reports.SetMetrics(metrics)

	trigger, err := service.NewSyncTrigger(publisher, logger)
	if err != nil {
		return err
	}
	trigger.SetMetrics(metrics)

	var locker service.Locker
	if rdb != nil {
		redisLocker, err := infraredis.NewLocker(rdb, lockExpiry)
		if err != nil {
			return err
		}
		locker = redisLocker
	}
	monitor, err := service.NewPendingMonitor(
		repository.NewGormMessageRepo(db),
		locker,
		cfg.PendingScanInterval,
		cfg.PendingStaleAfter,
		logger,
	)
	if err != nil {
		return err
	}
	monitor.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:      "sms-dispatch",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Use(handler.RequestContext(tenantctx.NewHostAllowlist(cfg.Hosts()...)))

	handler.RegisterHealthRoutes(app, handler.HealthDeps{SQL: sqlDB, Redis: rdb, Broker: broker}, metrics)
	if err := handler.RegisterMessageRoutes(app, dispatcher, contexts); err != nil {
		return err
	}
	if err := handler.RegisterWebhookRoutes(app, reports, handler.WebhookConfig{
		SigningSecret: cfg.WebhookSigningSecret,
		MaxSkew:       cfg.WebhookMaxSkew,
	}, logger); err != nil {
		return err
	}
	if err := handler.RegisterSyncRoutes(app, trigger); err != nil {
		return err
	}
	if err := handler.RegisterAdminRoutes(app, secrets, contexts, logger); err != nil {
		return err
	}
	if cfg.WebhookSigningSecret == "" {
		logger.Warn("WEBHOOK_SIGNING_SECRET not set; delivery callbacks are accepted unsigned")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("sms-dispatch api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return monitor.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newRateLimiter(rdb *redis.Client, perSec int) (ratelimit.RateLimiter, error) {
	if rdb == nil {
		return ratelimit.Unlimited{}, nil
	}
	limiter, err := infraredis.NewRedisRateLimiter(rdb, perSec)
	if err != nil {
		return nil, fmt.Errorf("rate limiter initialization failed: %w", err)
	}
	return limiter, nil
}
