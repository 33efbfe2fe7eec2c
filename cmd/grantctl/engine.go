package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/david/grant-aggregator/internal/cache"
	"github.com/david/grant-aggregator/internal/config"
	"github.com/david/grant-aggregator/internal/db"
	"github.com/david/grant-aggregator/internal/ingest"
	"github.com/david/grant-aggregator/internal/search"
)

type localEngine struct {
	engine     *search.Engine
	registry   *ingest.Registry
	transports map[string]ingest.Transport
	closers    []func()
}

func (l *localEngine) Close() {
	for i := len(l.closers) - 1; i >= 0; i-- {
		l.closers[i]()
	}
}

// newLocalEngine builds an in-process engine from the source catalog. With
// record set and DATABASE_URL configured, runs are written to the audit log.
func newLocalEngine(ctx context.Context, cfg config.Config, logger *zap.Logger, record bool) (*localEngine, error) {
	descs, err := ingest.LoadSources(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}
	registry, err := ingest.NewRegistry(descs)
	if err != nil {
		return nil, err
	}
	opts := ingest.HTTPTransportOptions{Logger: logger}
	l := &localEngine{
		registry: registry,
		transports: map[string]ingest.Transport{
			ingest.TransportHTTP:  ingest.NewHTTPTransport(opts),
			ingest.TransportColly: ingest.NewCollyTransport(opts),
		},
	}

	var remote cache.Backend
	if cfg.RedisURL != "" {
		if rb, err := cache.NewRedisBackendFromURL(ctx, cfg.RedisURL); err != nil {
			logger.Warn("redis unavailable", zap.Error(err))
		} else {
			remote = rb
			l.closers = append(l.closers, func() { _ = rb.Close() })
		}
	}
	tiered := cache.NewTiered(cache.NewLRU(cfg.CacheCapacity), remote, logger)

	engineOpts := []search.Option{search.WithConfig(cfg.SearchConfig())}
	if record && cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			l.Close()
			return nil, err
		}
		l.closers = append(l.closers, pool.Close)
		engineOpts = append(engineOpts, search.WithRunRecorder(db.NewStore(pool)))
	}

	l.engine, err = search.NewEngine(registry, ingest.DefaultAdapterFactory(), l.transports, tiered, logger, engineOpts...)
	if err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}
