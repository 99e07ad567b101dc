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
	"github.com/tiendapos/invoicing/internal/transport"
)

const brokerConnectTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "invoicing-api")
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

	// A dead broker must not keep the API from starting; invoices pile up
	// as UNSENT and the recovery scanner drains them once it returns.
	connectCtx, cancelConnect := context.WithTimeout(ctx, brokerConnectTimeout)
	if err := broker.Connect(connectCtx); err != nil {
		logger.Warn("broker unreachable at startup, continuing degraded", zap.Error(err))
	}
	cancelConnect()

	publisher := queue.NewRabbitMQPublisher(broker)
	defer publisher.Close()

	invoiceRepo := repository.NewGormInvoiceRepo(db)
	metrics := observability.NewMetrics()

	invoiceService, err := service.NewInvoiceService(invoiceRepo, publisher, cfg.PublishTimeout(), logger)
	if err != nil {
		logger.Fatal("invoice service initialization failed", zap.Error(err))
	}
	invoiceService.SetMetrics(metrics)

	scanner, err := service.NewRecoveryScanner(
		invoiceRepo,
		publisher,
		cfg.RecoveryScanInterval(),
		cfg.RecoveryMinAge(),
		logger,
	)
	if err != nil {
		logger.Fatal("recovery scanner initialization failed", zap.Error(err))
	}
	scanner.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(metrics.HTTPMiddleware())

	if err := handler.RegisterInvoiceRoutes(app, invoiceService); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scanner.Start(groupCtx)
	})

	g.Go(func() error {
		logger.Info("api listening", zap.Int("port", cfg.APIPort))
		return app.Listen(":" + strconv.Itoa(cfg.APIPort))
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down api")
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("api terminated", zap.Error(err))
	}
	logger.Info("api stopped")
}
