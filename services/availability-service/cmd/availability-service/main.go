package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/openhours/libs/db"
	"github.com/md-rashed-zaman/openhours/libs/httpx"
	"github.com/md-rashed-zaman/openhours/libs/kafkax"
	otelx "github.com/md-rashed-zaman/openhours/libs/otel"
	"github.com/md-rashed-zaman/openhours/libs/runtime"
	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/cache"
	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/events"
	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/handlers"
	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/service"
	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/storage"
)

const (
	maxBodyBytes   = 1 << 20
	requestTimeout = 15 * time.Second
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.ServiceName)

	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		if err := checkGrpcHealth(context.Background(), "127.0.0.1:"+cfg.GRPCPort, cfg.ServiceName); err != nil {
			logger.Error("healthcheck failed", "err", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.ServiceName))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	checks := []runtime.ReadyCheck{}

	repo, outbox, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage setup failed", "err", err)
		os.Exit(1)
	}
	defer closeRepo()
	checks = append(checks, runtime.ReadyCheck{Name: "db", Check: repo.Ping})

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()
	}
	resultCache, cacheCheck, err := openCache(cfg, rdb, logger)
	if err != nil {
		logger.Error("cache setup failed", "err", err)
		os.Exit(1)
	}
	if cacheCheck != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "cache", Check: cacheCheck})
	}

	if cfg.KafkaBrokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
		if outbox != nil {
			publisher := events.NewPublisher(outbox, logger, events.PublisherConfig{
				Brokers:   cfg.KafkaBrokers,
				Topic:     cfg.KafkaTopic,
				PollEvery: 2 * time.Second,
				BatchSize: 50,
			})
			go publisher.Run(ctx)
		}
		if cfg.Invalidate {
			invalidator := events.NewInvalidator(resultCache, logger, events.InvalidatorConfig{
				Brokers: cfg.KafkaBrokers,
				GroupID: cfg.KafkaGroupID,
				Topic:   cfg.KafkaTopic,
			})
			go invalidator.Run(ctx)
		}
	}

	svc := service.New(repo, resultCache, logger, service.WithDefaultTTL(cfg.CacheDefaultTTL))

	if _, err := startGrpcServer(ctx, logger, ":"+cfg.GRPCPort, cfg.ServiceName); err != nil {
		logger.Error("grpc server setup failed", "err", err)
		os.Exit(1)
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.New(svc, logger).Register(mux)

	middlewares := []httpx.Middleware{
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	}
	if cfg.RateLimit > 0 {
		var limiter httpx.Limiter = httpx.NewMemoryLimiter(cfg.RateLimit, cfg.RateLimitWindow)
		if rdb != nil {
			limiter = httpx.NewRedisLimiter(rdb, cfg.RateLimit, cfg.RateLimitWindow, cfg.ServiceName+":rl")
		}
		middlewares = append(middlewares, httpx.WithRateLimit(limiter, logger))
	}
	middlewares = append(middlewares, httpx.WithBodyLimit(maxBodyBytes), httpx.WithTimeout(requestTimeout))
	handler := httpx.Chain(mux, middlewares...)
	handler = otelhttp.NewHandler(handler, "availability")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// openRepository prefers Postgres when DATABASE_URL is set. Only Postgres
// carries the outbox, so SQLite deployments publish no change events.
func openRepository(ctx context.Context, cfg Config, logger *slog.Logger) (storage.Repository, *storage.Outbox, func(), error) {
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultOptions())
		if err != nil {
			return nil, nil, nil, err
		}
		pg := storage.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		logger.Info("storage ready", "backend", "postgres")
		return pg, pg.Outbox(), pool.Close, nil
	}

	lite, err := storage.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("storage ready", "backend", "sqlite", "path", cfg.SQLitePath)
	return lite, nil, func() { _ = lite.Close() }, nil
}

// openCache uses Redis when configured so replicas share results, otherwise
// an in-process LRU.
func openCache(cfg Config, rdb *redis.Client, logger *slog.Logger) (cache.Cache, func(context.Context) error, error) {
	if rdb != nil {
		rc := cache.NewRedis(rdb, cfg.ServiceName, cfg.CacheDefaultTTL, logger)
		return rc, rc.Ping, nil
	}

	mc, err := cache.NewMemory(cfg.CacheCapacity, cache.WithDefaultTTL(cfg.CacheDefaultTTL))
	if err != nil {
		return nil, nil, err
	}
	return mc, nil, nil
}
