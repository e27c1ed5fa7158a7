// Package app wires together all dependencies and runs the braidarr server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/CodingButter/braidarr/internal/auth"
	"github.com/CodingButter/braidarr/internal/config"
	"github.com/CodingButter/braidarr/internal/event"
	handler "github.com/CodingButter/braidarr/internal/handler/http"
	"github.com/CodingButter/braidarr/internal/repository/postgres"
	"github.com/CodingButter/braidarr/internal/service"
	"github.com/CodingButter/braidarr/migrations"
	"github.com/CodingButter/braidarr/pkg/database"
	"github.com/CodingButter/braidarr/pkg/health"
	"github.com/CodingButter/braidarr/pkg/httputil"
	pkgkafka "github.com/CodingButter/braidarr/pkg/kafka"
	"github.com/CodingButter/braidarr/pkg/tracing"
)

// tokenSweepInterval is how often expired refresh token records are purged.
const tokenSweepInterval = time.Hour

// App owns the dependency graph and the server lifecycle.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redisClient    *redis.Client
	producer       *pkgkafka.Producer
	tokenRepo      *postgres.RefreshTokenRepository
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Development deployments get the underlying error text on 500 bodies.
	httputil.Development = cfg.Environment == "development"

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "braidarr",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTelEndpoint,
		SampleRate:     cfg.OTelSampling,
		Enabled:        cfg.OTelEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: cfg.DBMaxConnLifetime,
		MaxConnIdleTime: cfg.DBMaxConnIdleTime,
	}

	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Redis is only needed when rate limit counters must be shared across
	// instances.
	var redisClient *redis.Client
	if cfg.RateLimitRedisEnabled {
		redisClient, err = database.NewRedisClient(ctx, database.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to redis", slog.String("addr", cfg.RedisAddr()))
	}

	// Security events are optional; without a producer the event layer is a
	// no-op.
	var producer *pkgkafka.Producer
	if cfg.SecurityEventsEnabled {
		producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	tokens, err := auth.NewTokenService(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.JWTAccessExpiry, cfg.JWTRefreshExpiry)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init token service: %w", err)
	}
	hasher := auth.NewPasswordHasher(auth.Argon2Params{
		MemoryKiB:   cfg.ArgonMemoryKiB,
		Iterations:  cfg.ArgonIterations,
		Parallelism: cfg.ArgonParallelism,
	}, cfg.HashMaxConcurrency, logger)

	userRepo := postgres.NewUserRepository(pool)
	tokenRepo := postgres.NewRefreshTokenRepository(pool)
	keyRepo := postgres.NewAPIKeyRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)

	eventProducer := event.NewProducer(producer, logger)
	authService := service.NewAuthService(userRepo, tokenRepo, auditRepo, hasher, tokens, eventProducer, logger)
	keyService := service.NewAPIKeyService(keyRepo, userRepo, auditRepo, hasher, eventProducer, logger)

	authGuard := handler.NewAuthGuard(tokens, userRepo, logger)
	keyGuard := handler.NewAPIKeyGuard(keyService, logger)
	csrfGuard, err := handler.NewCsrfGuard(cfg.CSRFCookieSecure, cfg.CSRFCookieSameSite, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init csrf guard: %w", err)
	}
	rateLimiter := handler.NewRateLimiter(handler.RateLimitConfig{
		GlobalLimit:   cfg.GlobalRateLimit,
		GlobalWindow:  cfg.GlobalRateWindow,
		AuthLimit:     cfg.AuthRateLimit,
		AuthWindow:    cfg.AuthRateWindow,
		RefreshLimit:  cfg.RefreshRateLimit,
		RefreshWindow: cfg.RefreshRateWindow,
	}, redisClient)

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if redisClient != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	if producer != nil {
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
	}

	router := handler.NewRouter(handler.RouterDeps{
		AuthService:   authService,
		APIKeyService: keyService,
		AuthGuard:     authGuard,
		APIKeyGuard:   keyGuard,
		CsrfGuard:     csrfGuard,
		RateLimiter:   rateLimiter,
		Health:        healthHandler,
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redisClient:    redisClient,
		producer:       producer,
		tokenRepo:      tokenRepo,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go a.sweepExpiredTokens(ctx)

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// sweepExpiredTokens periodically purges refresh token records past expiry.
// Expired tokens are already unusable; this only bounds table growth.
func (a *App) sweepExpiredTokens(ctx context.Context) {
	ticker := time.NewTicker(tokenSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			deleted, err := a.tokenRepo.DeleteExpired(sweepCtx)
			cancel()
			if err != nil {
				a.logger.Error("expired token sweep failed", slog.String("error", err.Error()))
				continue
			}
			if deleted > 0 {
				a.logger.Info("expired refresh tokens purged", slog.Int64("count", deleted))
			}
		}
	}
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer and redis client
// 4. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
