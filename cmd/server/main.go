package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/david/grant-aggregator/internal/api"
	"github.com/david/grant-aggregator/internal/cache"
	"github.com/david/grant-aggregator/internal/config"
	"github.com/david/grant-aggregator/internal/db"
	"github.com/david/grant-aggregator/internal/ingest"
	"github.com/david/grant-aggregator/internal/logging"
	"github.com/david/grant-aggregator/internal/metrics"
	"github.com/david/grant-aggregator/internal/search"
	"github.com/david/grant-aggregator/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger is not configured yet
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, "grant-aggregator", cfg.OTLPEndpoint, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()
	metrics.Register(prometheus.DefaultRegisterer)

	descs, err := ingest.LoadSources(cfg.SourcesFile)
	if err != nil {
		return err
	}
	registry, err := ingest.NewRegistry(descs)
	if err != nil {
		return err
	}
	logger.Info("sources loaded", zap.Int("count", registry.Len()))

	transportOpts := ingest.HTTPTransportOptions{Logger: logger}
	transports := map[string]ingest.Transport{
		ingest.TransportHTTP:  ingest.NewHTTPTransport(transportOpts),
		ingest.TransportColly: ingest.NewCollyTransport(transportOpts),
	}

	tiered, closeCache := buildCache(ctx, cfg, logger)
	defer closeCache()

	engineOpts := []search.Option{search.WithConfig(cfg.SearchConfig())}
	var healthStore search.HealthStore
	var runs api.RunStore
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := db.ApplyMigrations(ctx, pool, logger); err != nil {
			return err
		}
		store := db.NewStore(pool)
		if states, err := store.LoadHealth(ctx); err != nil {
			logger.Warn("could not restore source health", zap.Error(err))
		} else {
			registry.RestoreHealth(states)
		}
		engineOpts = append(engineOpts, search.WithRunRecorder(store))
		healthStore = store
		runs = store
	} else {
		logger.Info("DATABASE_URL not set; search runs will not be persisted")
	}

	engine, err := search.NewEngine(registry, ingest.DefaultAdapterFactory(), transports, tiered, logger, engineOpts...)
	if err != nil {
		return err
	}

	prober := search.NewProber(registry, transports, healthStore, cfg.ProbeInterval, logger)
	go prober.Run(ctx)

	srv, err := api.NewServer(engine, api.Options{
		AdminSecret: cfg.AdminSecret,
		CORSOrigins: cfg.CORSOrigins,
		Runs:        runs,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		errCh <- srv.Start(cfg.Port)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

// buildCache returns the in-process LRU, backed by Redis when REDIS_URL is
// set and reachable.
func buildCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (*cache.Tiered, func()) {
	local := cache.NewLRU(cfg.CacheCapacity)
	if cfg.RedisURL == "" {
		return cache.NewTiered(local, nil, logger), func() {}
	}
	remote, err := cache.NewRedisBackendFromURL(ctx, cfg.RedisURL)
	if err != nil {
		logger.Warn("redis unavailable, using in-process cache only", zap.Error(err))
		return cache.NewTiered(local, nil, logger), func() {}
	}
	logger.Info("redis cache enabled")
	return cache.NewTiered(local, remote, logger), func() { _ = remote.Close() }
}
