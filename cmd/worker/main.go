package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/emirsalihagic/miniERP-sub001/internal/config"
	"github.com/emirsalihagic/miniERP-sub001/internal/document"
	"github.com/emirsalihagic/miniERP-sub001/internal/events"
	"github.com/emirsalihagic/miniERP-sub001/internal/lock"
	"github.com/emirsalihagic/miniERP-sub001/internal/obs"
	"github.com/emirsalihagic/miniERP-sub001/internal/queue"
	"github.com/emirsalihagic/miniERP-sub001/internal/resilience"
)

const dlqGaugeInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Str("component", "worker").Logger()
	if cfg.MetricsEnabled {
		obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
		resilience.MustRegisterMetrics(cfg.MetricsNamespace, nil)
		queue.MustRegisterMetrics(cfg.MetricsNamespace, nil)
	}
	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "minierp-worker",
			Endpoint:      cfg.TracingEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	dlqStore := queue.NewStore(pool)
	syncBreaker := resilience.NewBreaker(cfg.CircuitSyncMinRequests, cfg.CircuitSyncFailureRate, cfg.CircuitSyncOpenFor).
		WithTarget(document.SyncTaskKind).
		WithLogger(logger)
	documentService := &document.Service{
		Store: document.NewPgStore(pool),
		Queue: queue.Enqueuer{
			R:           redisClient,
			Prefix:      cfg.QueueRedisPrefix,
			DedupTTL:    cfg.QueueDedupTTL,
			MaxAttempts: cfg.QueueMaxAttempts,
		},
		Events: &events.Bus{
			Store:     events.PgStore{Pool: pool},
			Notifiers: []events.Notifier{events.LogNotifier{Logger: logger}},
		},
		Locker:  lock.Locker{R: redisClient, Prefix: cfg.QueueRedisPrefix, RetryBackoff: cfg.LockRetryBackoff},
		Breaker: syncBreaker,
		LockTTL: cfg.LockTTL,
		Logger:  logger.With().Str("task", document.SyncTaskKind).Logger(),
	}

	syncWorker := queue.Worker{
		R:                 redisClient,
		Prefix:            cfg.QueueRedisPrefix,
		Kind:              document.SyncTaskKind,
		Concurrency:       cfg.QueueConcurrencySync,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		SoftDeadline:      cfg.WorkerJobSoftDeadline,
		RetryBase:         cfg.QueueBackoffBase,
		RetryJitter:       cfg.QueueBackoffJitter,
		Store:             dlqStore,
		Logger:            &logger,
		Handler:           document.SyncTaskHandler(documentService),
	}

	go refreshDLQGauge(ctx, dlqStore, logger)
	go sweepSyncOutbox(ctx, documentService, cfg.SyncOutboxInterval, cfg.SyncOutboxGrace, logger)

	logger.Info().Int("concurrency", cfg.QueueConcurrencySync).Msg("worker starting")
	if err := syncWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}

func refreshDLQGauge(ctx context.Context, store queue.Store, logger zerolog.Logger) {
	ticker := time.NewTicker(dlqGaugeInterval)
	defer ticker.Stop()
	for {
		if err := queue.SyncDLQGauge(ctx, store); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("refresh dlq gauge")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sweepSyncOutbox re-enqueues sync retries whose post-commit enqueue never
// happened.
func sweepSyncOutbox(ctx context.Context, svc *document.Service, every, grace time.Duration, logger zerolog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := svc.SweepSyncOutbox(ctx, grace, 0); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("sweep sync outbox")
		}
	}
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "minierp-worker"
	poolConfig.MaxConns = cfg.DBMaxConns
	poolConfig.MinConns = cfg.DBMinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}
