package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/notifier-engine/internal/config"
	"github.com/kursadbilgin/notifier-engine/internal/handler"
	"github.com/kursadbilgin/notifier-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/notifier-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/notifier-engine/internal/infra/redis"
	"github.com/kursadbilgin/notifier-engine/internal/observability"
	"github.com/kursadbilgin/notifier-engine/internal/plugin"
	"github.com/kursadbilgin/notifier-engine/internal/provider"
	"github.com/kursadbilgin/notifier-engine/internal/queue"
	"github.com/kursadbilgin/notifier-engine/internal/repository"
	"github.com/kursadbilgin/notifier-engine/internal/service"
	"github.com/kursadbilgin/notifier-engine/internal/transport"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "api")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.DefaultPoolConfig())
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

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	publisher := queue.NewRabbitMQPublisher(rabbit)

	plugins := plugin.NewRegistry()
	if err := plugin.RegisterBuiltinPredicates(plugins); err != nil {
		logger.Fatal("predicate registration failed", zap.Error(err))
	}
	if err := provider.RegisterSinks(plugins, provider.NewWebhookClient(cfg.WebhookTimeout()), publisher, rabbit); err != nil {
		logger.Fatal("sink registration failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	requests := repository.NewGormRequestRepo(db)
	rules := repository.NewGormRuleRepo(db)
	recipients := repository.NewGormRecipientRepo(db)

	matcher, err := service.NewRuleMatcher(requests, rules, plugins, cfg.MatchStaleAfter(), logger)
	if err != nil {
		logger.Fatal("rule matcher initialization failed", zap.Error(err))
	}
	matcher.SetMetrics(metrics)

	dispatcher, err := service.NewDispatcher(requests, publisher, cfg.DispatchConcurrency, logger)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)

	intake, err := service.NewIntakeService(
		requests,
		rules,
		recipients,
		repository.NewGormRecipientErrorRepo(db),
		repository.NewGormOutboxRepo(db),
		matcher,
		dispatcher,
		logger,
	)
	if err != nil {
		logger.Fatal("intake service initialization failed", zap.Error(err))
	}
	intake.SetMetrics(metrics)

	ruleService, err := service.NewRuleService(rules, recipients, plugins, logger)
	if err != nil {
		logger.Fatal("rule service initialization failed", zap.Error(err))
	}

	registry, err := service.NewRecipientRegistry(recipients, plugins, logger)
	if err != nil {
		logger.Fatal("recipient registry initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "notifier-engine",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, sqlDB, rdb, rabbit)
	if err := handler.RegisterRequestRoutes(app, intake); err != nil {
		logger.Fatal("request routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterRuleRoutes(app, ruleService); err != nil {
		logger.Fatal("rule routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterRecipientRoutes(app, registry); err != nil {
		logger.Fatal("recipient routes registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()
	logger.Info("notifier api started", zap.Int("port", cfg.APIPort))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-listenErr:
		if err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	logger.Info("notifier api stopped")
}
