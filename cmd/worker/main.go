package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
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
	"golang.org/x/sync/errgroup"
)

// runner is implemented by every long-running worker and sweep.
type runner interface {
	Start(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "worker")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker stopped with error", zap.Error(err))
	}
	logger.Info("notifier worker stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.DefaultPoolConfig())
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer rabbit.Close()

	publisher := queue.NewRabbitMQPublisher(rabbit)

	plugins := plugin.NewRegistry()
	if err := plugin.RegisterBuiltinPredicates(plugins); err != nil {
		return fmt.Errorf("predicate registration failed: %w", err)
	}
	if err := provider.RegisterSinks(plugins, provider.NewWebhookClient(cfg.WebhookTimeout()), publisher, rabbit); err != nil {
		return fmt.Errorf("sink registration failed: %w", err)
	}

	metrics := observability.NewMetrics()

	requests := repository.NewGormRequestRepo(db)
	rules := repository.NewGormRuleRepo(db)
	recipients := repository.NewGormRecipientRepo(db)
	outbox := repository.NewGormOutboxRepo(db)

	matcher, err := service.NewRuleMatcher(requests, rules, plugins, cfg.MatchStaleAfter(), logger)
	if err != nil {
		return err
	}
	matcher.SetMetrics(metrics)

	dispatcher, err := service.NewDispatcher(requests, publisher, cfg.DispatchConcurrency, logger)
	if err != nil {
		return err
	}
	dispatcher.SetMetrics(metrics)

	intake, err := service.NewIntakeService(requests, rules, recipients, repository.NewGormRecipientErrorRepo(db),
		outbox, matcher, dispatcher, logger)
	if err != nil {
		return err
	}
	intake.SetMetrics(metrics)

	intakeWorker, err := service.NewIntakeWorker(intake,
		queue.NewRabbitMQConsumer(rabbit, cfg.Prefetch, logger.Named("intake")), logger.Named("intake"))
	if err != nil {
		return err
	}

	deliveryWorker, err := service.NewDeliveryWorker(requests, recipients,
		queue.NewRabbitMQConsumer(rabbit, cfg.Prefetch, logger.Named("delivery")),
		plugins, rateLimiter, cfg.WorkerConcurrency, logger.Named("delivery"))
	if err != nil {
		return err
	}
	deliveryWorker.SetMetrics(metrics)

	outcomeWorker, err := service.NewOutcomeWorker(requests,
		queue.NewRabbitMQConsumer(rabbit, cfg.MaxBulkSize, logger.Named("outcome")),
		cfg.MaxBulkSize, cfg.OutcomeFlushInterval(), logger.Named("outcome"))
	if err != nil {
		return err
	}
	outcomeWorker.SetMetrics(metrics)

	matchingSweep, err := service.NewMatchingSweep(requests, matcher, dispatcher,
		cfg.MatchInterval(), cfg.MaxBulkSize, logger.Named("matching"))
	if err != nil {
		return err
	}

	dispatchSweep, err := service.NewDispatchSweep(requests, dispatcher,
		cfg.DispatchInterval(), cfg.DispatchGrace(), cfg.MaxBulkSize, logger.Named("dispatch"))
	if err != nil {
		return err
	}

	completion, err := service.NewCompletionDetector(requests, cfg.CompletionInterval(), cfg.MaxBulkSize,
		logger.Named("completion"))
	if err != nil {
		return err
	}
	completion.SetMetrics(metrics)
	completion.SetAckTimeout(cfg.AckTimeout())

	relay, err := service.NewOutboxRelay(outbox, publisher, cfg.OutboxInterval(), cfg.MaxBulkSize,
		logger.Named("outbox"))
	if err != nil {
		return err
	}
	relay.SetMetrics(metrics)

	retention, err := service.NewRetentionSweeper(requests, outbox, cfg.RetentionInterval(), cfg.RetentionTTL(),
		cfg.MaxBulkSize, logger.Named("retention"))
	if err != nil {
		return err
	}
	retention.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb, rabbit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	runners := []runner{
		intakeWorker,
		deliveryWorker,
		outcomeWorker,
		matchingSweep,
		dispatchSweep,
		completion,
		relay,
		retention,
	}
	for _, r := range runners {
		g.Go(func() error {
			return r.Start(gctx)
		})
	}

	g.Go(func() error {
		return app.Listen(fmt.Sprintf(":%d", cfg.MetricsPort))
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.Shutdown()
	})

	logger.Info("notifier worker started",
		zap.Int("metricsPort", cfg.MetricsPort),
		zap.Int("concurrency", cfg.WorkerConcurrency),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
