package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/emirsalihagic/miniERP-sub001/internal/cache"
	"github.com/emirsalihagic/miniERP-sub001/internal/catalog"
	"github.com/emirsalihagic/miniERP-sub001/internal/common"
	"github.com/emirsalihagic/miniERP-sub001/internal/config"
	"github.com/emirsalihagic/miniERP-sub001/internal/db"
	"github.com/emirsalihagic/miniERP-sub001/internal/document"
	"github.com/emirsalihagic/miniERP-sub001/internal/events"
	"github.com/emirsalihagic/miniERP-sub001/internal/health"
	apimw "github.com/emirsalihagic/miniERP-sub001/internal/http/middleware"
	"github.com/emirsalihagic/miniERP-sub001/internal/lock"
	"github.com/emirsalihagic/miniERP-sub001/internal/obs"
	"github.com/emirsalihagic/miniERP-sub001/internal/pricing"
	"github.com/emirsalihagic/miniERP-sub001/internal/queue"
	"github.com/emirsalihagic/miniERP-sub001/internal/ratelimit"
	"github.com/emirsalihagic/miniERP-sub001/internal/resilience"
	"github.com/emirsalihagic/miniERP-sub001/internal/security"
	"github.com/emirsalihagic/miniERP-sub001/internal/tenant"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Str("component", "api").Logger()

	if cfg.MetricsEnabled {
		obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
		resilience.MustRegisterMetrics(cfg.MetricsNamespace, nil)
		queue.MustRegisterMetrics(cfg.MetricsNamespace, nil)
	}

	tracingEnabled := cfg.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "minierp-api",
			Endpoint:      cfg.TracingEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
			logger.Fatal().Err(err).Msg("migrate on start")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger, "minierp-api")
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	bus := &events.Bus{
		Store:     events.PgStore{Pool: pool},
		Notifiers: []events.Notifier{events.LogNotifier{Logger: logger.With().Str("component", "events").Logger()}},
	}

	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Queries:      catalog.PgQueries{Pool: pool},
		Cache:        cache.New(redisClient, cfg.ProductCacheTTL),
		DefaultLimit: cfg.DefaultPageSize,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise catalog service")
	}
	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: catalogService})

	ruleCache := cache.New(redisClient, cfg.PriceRuleCacheTTL)
	ruleStore := pricing.PgStore{Pool: pool}
	resolver := pricing.NewResolver(pricing.CachedSource{Source: ruleStore, Cache: ruleCache, Logger: logger})
	pricingService := &pricing.Service{Store: ruleStore, Cache: ruleCache, Events: bus, Logger: logger}
	pricingHandler := &pricing.Handler{Svc: pricingService, Resolver: resolver}

	taskQueue := queue.Enqueuer{
		R:           redisClient,
		Prefix:      cfg.QueueRedisPrefix,
		DedupTTL:    cfg.QueueDedupTTL,
		MaxAttempts: cfg.QueueMaxAttempts,
	}
	syncBreaker := resilience.NewBreaker(cfg.CircuitSyncMinRequests, cfg.CircuitSyncFailureRate, cfg.CircuitSyncOpenFor).
		WithTarget(document.SyncTaskKind).
		WithLogger(logger)
	documentService := &document.Service{
		Store:    document.NewPgStore(pool),
		Resolver: resolver,
		Products: catalogService,
		Events:   bus,
		Queue:    taskQueue,
		Locker:   lock.Locker{R: redisClient, Prefix: cfg.QueueRedisPrefix, RetryBackoff: cfg.LockRetryBackoff},
		Breaker:  syncBreaker,
		LockTTL:  cfg.LockTTL,
		Logger:   logger.With().Str("component", "document").Logger(),
	}
	documentHandler := &document.Handler{Svc: documentService, DefaultLimit: cfg.DefaultPageSize}

	queueAdmin := &queue.AdminHandler{
		Store:             queue.NewStore(pool),
		Queue:             taskQueue,
		PageSize:          cfg.DefaultPageSize,
		Logger:            logger,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
	}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	limiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: cfg.QueueRedisPrefix + ":rl"},
		Config:  ratelimit.Config{Key: ratelimit.TenantKey, Window: cfg.RateLimitWindow, Max: cfg.RateLimitMax},
	}

	tenantResolver := tenant.NewResolver(cfg.TenantHeader, cfg.TenantRootDomain, cfg.TenantDefault, tenant.PgLookup{Pool: pool})
	tenantResolver.Logger = logger

	var httpMetrics *obs.HTTPMetrics
	if cfg.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBuckets), nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(tenantResolver.Middleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger, Quiet: []string{"/health/live", "/health/ready", "/metrics"}}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key", cfg.TenantHeader},
		ExposedHeaders:   []string{"ETag", "Location", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(security.APIHeaders(365 * 24 * time.Hour))
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.PprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.PprofUser, cfg.PprofPass))
	}

	healthHandler := health.Handler{Probes: []health.Probe{
		health.PingProbe("db", pool, cfg.HealthDBTimeout),
		health.RedisProbe(redisClient, cfg.HealthRedisTimeout),
	}}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(apimw.RequireTenant)
		v.Use(limiter.Middleware)
		v.Use(writesOnly(idem.Middleware))

		v.Get("/products", catalogHandler.Products)
		v.Get("/products/{productId}", catalogHandler.ProductDetail)

		v.Get("/prices/resolve", pricingHandler.Resolve)
		v.Post("/price-rules", pricingHandler.CreateRule)
		v.Get("/products/{productId}/price-rules", pricingHandler.ListRules)
		v.Post("/price-rules/{ruleId}/close", pricingHandler.CloseRule)

		v.Route("/orders", documentHandler.Routes(document.KindOrder))
		v.Route("/invoices", documentHandler.Routes(document.KindInvoice))

		v.Route("/admin/queue", func(a chi.Router) {
			a.Get("/dlq", queueAdmin.ListDLQ)
			a.Post("/dlq/replay", queueAdmin.ReplayDLQ)
			a.Delete("/dlq/{id}", queueAdmin.DiscardDLQ)
			a.Get("/stats", queueAdmin.Stats)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		logger.Info().Msg("shutdown requested, draining")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	health.SetReady(true)
	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

// writesOnly applies mw to non-GET requests.
func writesOnly(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			wrapped.ServeHTTP(w, r)
		})
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger, appName string) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = appName
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
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
