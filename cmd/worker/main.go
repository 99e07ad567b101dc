package main

import (
	"context"
	"log"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tiendapos/invoicing/internal/config"
	"github.com/tiendapos/invoicing/internal/handler"
	"github.com/tiendapos/invoicing/internal/infra/postgresql"
	"github.com/tiendapos/invoicing/internal/infra/postgresql/migrations"
	infraredis "github.com/tiendapos/invoicing/internal/infra/redis"
	"github.com/tiendapos/invoicing/internal/observability"
	"github.com/tiendapos/invoicing/internal/queue"
	"github.com/tiendapos/invoicing/internal/repository"
	"github.com/tiendapos/invoicing/internal/service"
	"github.com/tiendapos/invoicing/internal/sfe"
)

const brokerConnectTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "invoicing-worker")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.MaxAttempts, cfg.RetryBaseDelay())
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer broker.Close()

	connectCtx, cancelConnect := context.WithTimeout(ctx, brokerConnectTimeout)
	if err := broker.Connect(connectCtx); err != nil {
		logger.Fatal("broker unreachable", zap.Error(err))
	}
	cancelConnect()

	publisher := queue.NewRabbitMQPublisher(broker)
	defer publisher.Close()
	consumer := queue.NewRabbitMQConsumer(broker, logger)
	defer consumer.Close()

	client := newInvoicingClient(cfg, logger)

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.SFERateLimitPSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}
	guard, err := infraredis.NewRedisAttemptGuard(rdb, 0)
	if err != nil {
		logger.Fatal("attempt guard initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	worker, err := service.NewWorkerService(
		repository.NewGormInvoiceRepo(db),
		repository.NewGormAttemptRepo(db),
		consumer,
		publisher,
		client,
		rateLimiter,
		guard,
		cfg.WorkerConcurrency,
		cfg.MaxAttempts,
		logger,
	)
	if err != nil {
		logger.Fatal("worker initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/livez", handler.LivezHandler())
	app.Get("/readyz", handler.ReadyzHandler(sqlDB, rdb))
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return worker.Start(groupCtx)
	})

	g.Go(func() error {
		logger.Info("worker admin listening", zap.Int("port", cfg.WorkerPort))
		return app.Listen(":" + strconv.Itoa(cfg.WorkerPort))
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down worker")
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("worker terminated", zap.Error(err))
	}
	logger.Info("worker stopped")
}

func newInvoicingClient(cfg *config.Config, logger *zap.Logger) sfe.Client {
	if cfg.SFEEndpointURL == "" {
		logger.Warn("no invoicing endpoint configured, using simulator")
		return sfe.NewSimulator(0.8, 0.1)
	}

	client, err := sfe.NewRestClient(cfg.SFEEndpointURL, cfg.SFETimeout())
	if err != nil {
		logger.Fatal("invoicing client initialization failed", zap.Error(err))
	}
	return client
}
