package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"iss-tracker-gateway/internal/cache"
	"iss-tracker-gateway/internal/config"
	"iss-tracker-gateway/internal/expiration"
	"iss-tracker-gateway/internal/fetch"
	"iss-tracker-gateway/internal/handlers"
	"iss-tracker-gateway/internal/httpserver"
	"iss-tracker-gateway/internal/metrics"
	"iss-tracker-gateway/internal/worker"
	"iss-tracker-gateway/pkg/logging/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("gateway exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("public_origin", cfg.PublicOrigin),
		zap.String("upstream_url", cfg.UpstreamURL),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.String("worker_location", cfg.Location()),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.CacheBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		defer redisClient.Close()

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
	}

	// ----- Cache storage + eviction index -----
	storage, err := cache.NewStorage(cache.Config{
		Backend: cfg.CacheBackend,
		Prefix:  cfg.CachePrefix,
		DataDir: cfg.DataDir,
	}, redisClient)
	if err != nil {
		return err
	}

	var index expiration.Index
	switch cfg.CacheBackend {
	case "redis":
		index = expiration.NewRedisIndex(redisClient, cfg.CachePrefix)
	case "disk":
		badgerIndex, err := expiration.OpenBadgerIndex(filepath.Join(cfg.DataDir, "expiration"), logger)
		if err != nil {
			return err
		}
		defer badgerIndex.Close()
		index = badgerIndex
	default:
		index = expiration.NewMemoryIndex()
	}
	expirer := expiration.NewExpirer(index, logger)

	// ----- Network -----
	network, err := fetch.NewClient(fetch.Config{
		Rewrites:   map[string]string{cfg.PublicOrigin: cfg.UpstreamURL},
		Timeout:    cfg.FetchTimeout,
		MaxRetries: cfg.FetchMaxRetries,
	}, logger)
	if err != nil {
		return err
	}
	defer network.Close()

	// ----- Worker registration -----
	deps := worker.Deps{
		Storage: storage,
		Fetcher: network,
		Expirer: expirer,
		Logger:  logger,
	}
	registration := worker.NewRegistration(logger)
	load := func() (worker.Config, error) { return config.LoadWorker(cfg) }

	if err := register(context.Background(), registration, load, deps); err != nil {
		// The gateway still proxies without a worker; a later update retries.
		logger.Error("initial worker registration failed", zap.Error(err))
	}

	// ----- Handlers -----
	gateway, err := handlers.NewGatewayHandler(registration, network, cfg.PublicOrigin, cfg.UpgradeHosts)
	if err != nil {
		return err
	}
	admin := handlers.NewAdminHandler(registration, load, deps, cfg.AdminToken)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, httpserver.Options{
		RequestTimeout: cfg.RequestTimeout,
		MaxBodyBytes:   int64(cfg.MaxBodyBytes),
	}, gateway, admin)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting gateway",
		zap.String("addr", srv.Addr),
		zap.String("cache_backend", cfg.CacheBackend),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	// Let pending evictions finish before the index closes.
	expirer.Wait()

	logger.Info("server shutdown complete")
	return nil
}

func register(ctx context.Context, reg *worker.Registration, load func() (worker.Config, error), deps worker.Deps) error {
	wcfg, err := load()
	if err != nil {
		return err
	}
	w, err := worker.New(wcfg, deps)
	if err != nil {
		return err
	}
	_, err = reg.Register(ctx, w)
	return err
}
