package search

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/david/grant-aggregator/internal/ingest"
)

// HealthStore persists registry health between restarts.
type HealthStore interface {
	SaveHealth(ctx context.Context, sources []ingest.SourceDescriptor) error
}

// Prober periodically sends a one-record query to every enabled source,
// blocked ones included, so health recovers without user traffic.
type Prober struct {
	registry    *ingest.Registry
	transports  map[string]ingest.Transport
	store       HealthStore
	interval    time.Duration
	maxParallel int
	logger      *zap.Logger
}

// NewProber creates a prober. store may be nil.
func NewProber(registry *ingest.Registry, transports map[string]ingest.Transport, store HealthStore, interval time.Duration, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		registry:    registry,
		transports:  transports,
		store:       store,
		interval:    interval,
		maxParallel: 4,
		logger:      logger,
	}
}

// Run probes immediately and then on every tick until ctx is done.
// A non-positive interval disables probing.
func (p *Prober) Run(ctx context.Context) {
	if p.interval <= 0 {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.ProbeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce checks every enabled source once and returns the number of
// sources that answered.
func (p *Prober) ProbeOnce(ctx context.Context) int {
	sources := p.registry.Enabled()
	ok := make([]bool, len(sources))

	var g errgroup.Group
	g.SetLimit(p.maxParallel)
	for i, src := range sources {
		g.Go(func() error {
			ok[i] = p.probe(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	healthy := 0
	for _, v := range ok {
		if v {
			healthy++
		}
	}
	p.logger.Info("probe cycle finished", zap.Int("sources", len(sources)), zap.Int("healthy", healthy))

	if p.store != nil && ctx.Err() == nil {
		if err := p.store.SaveHealth(ctx, p.registry.Snapshot()); err != nil {
			p.logger.Warn("failed to persist source health", zap.Error(err))
		}
	}
	return healthy
}

func (p *Prober) probe(ctx context.Context, src ingest.SourceDescriptor) bool {
	t, err := lookupTransport(p.transports, src)
	if err != nil {
		p.logger.Warn("probe skipped", zap.String("source", src.ID), zap.Error(err))
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, src.Timeout*time.Duration(max(src.Retries, 0)+1))
	defer cancel()

	started := time.Now()
	_, err = ingest.FetchWithRetry(probeCtx, t, src, ingest.QueryParams{Page: 1, Limit: 1})
	if ctx.Err() != nil {
		return false
	}
	p.registry.RecordResult(src.ID, err, time.Since(started))
	if err != nil {
		p.logger.Debug("probe failed", zap.String("source", src.ID), zap.Error(err))
		return false
	}
	return true
}
