package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/settle/internal/config"
	"github.com/example/settle/internal/database"
	"github.com/example/settle/internal/idempotency"
	"github.com/example/settle/internal/metrics"
	"github.com/example/settle/internal/queue"
	"github.com/example/settle/internal/repository"
	"github.com/example/settle/internal/services"
)

const taskQueuePrefix = "settle:tasks"

// runtime is the fully wired service graph shared by every command.
type runtime struct {
	cfg         *config.Config
	logger      *zap.Logger
	store       repository.Store
	redis       *redis.Client
	pool        *queue.Pool
	idempotency idempotency.Store
	metrics     *metrics.Metrics
	payments    *services.PaymentService
	refunds     *services.RefundService
	withdrawals *services.WithdrawalService
	notifier    *services.WebhookNotifier
	apiKeys     *services.APIKeyService
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func setup(ctx context.Context) (*runtime, error) {
	cfg := config.Load()

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	db, err := database.Connect(cfg.DatabaseURL, cfg.Development())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	store := repository.NewStore(db)

	rt := &runtime{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		metrics: metrics.New(),
	}

	var q queue.Queue
	if cfg.RedisURL != "" {
		client, err := database.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		rt.redis = client
		q = queue.NewRedisQueue(client, taskQueuePrefix, 0)
		rt.idempotency = idempotency.NewRedisStore(client)
		logger.Info("using redis for tasks and idempotency")
	} else {
		q = queue.NewMemoryQueue()
		rt.idempotency = idempotency.NewMemoryStore()
		logger.Warn("REDIS_URL not set, tasks and idempotency are process-local")
	}

	rt.pool = queue.NewPool(q, cfg.WorkerConcurrency, logger)
	rt.pool.SetObserver(rt.metrics.Task)

	alerts := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat, logger)
	settlement := services.NewLencoService(services.LencoConfig{
		BaseURL: cfg.LencoBaseURL,
		APIKey:  cfg.LencoAPIKey,
	}, logger)

	rt.notifier = services.NewWebhookNotifier(store, rt.pool, services.NewFastHTTPSender(), cfg.WebhookTimeout, logger).
		WithAlerts(alerts).
		WithMetrics(rt.metrics)
	rt.payments = services.NewPaymentService(store, services.NewCardSimulator(cfg.CardLatency), settlement, rt.notifier, rt.pool, logger).
		WithAlerts(alerts).
		WithMetrics(rt.metrics)
	rt.refunds = services.NewRefundService(store, rt.notifier, logger).WithMetrics(rt.metrics)
	rt.withdrawals = services.NewWithdrawalService(store, logger).WithMetrics(rt.metrics)
	rt.apiKeys = services.NewAPIKeyService(store, cfg.JWTSecret, cfg.TokenExpires, logger)

	services.RegisterTasks(rt.pool, rt.payments, rt.notifier)
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	_ = rt.logger.Sync()
}
