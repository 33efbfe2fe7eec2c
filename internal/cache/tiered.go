package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/david/grant-aggregator/internal/metrics"
)

// Backend is a shared second-level store, Redis in production.
type Backend interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry, ttl time.Duration) error
	Clear(ctx context.Context) error
}

// Tiered checks the local LRU first and then the optional backend,
// promoting backend hits into the LRU for at most the time they have left.
// Backend failures are logged and treated as misses.
type Tiered struct {
	local   *LRU
	remote  Backend
	logger  *zap.Logger
	promote time.Duration
}

// NewTiered builds the cache. remote may be nil.
func NewTiered(local *LRU, remote Backend, logger *zap.Logger) *Tiered {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tiered{local: local, remote: remote, logger: logger, promote: time.Minute}
}

func (t *Tiered) Get(ctx context.Context, key string) (Entry, bool) {
	if e, ok := t.local.Get(key); ok {
		metrics.CacheHitsTotal.Inc()
		return e, true
	}
	if t.remote != nil {
		e, ok, err := t.remote.Get(ctx, key)
		if err != nil {
			t.logger.Warn("cache backend get failed", zap.Error(err))
		} else if ok {
			if ttl, fresh := t.promoteTTL(e); fresh {
				metrics.CacheHitsTotal.Inc()
				t.local.Set(key, e, ttl)
				return e, true
			}
		}
	}
	metrics.CacheMissesTotal.Inc()
	return Entry{}, false
}

// promoteTTL bounds the local lifetime of a backend hit by its expiry.
func (t *Tiered) promoteTTL(e Entry) (time.Duration, bool) {
	if e.ExpiresAt.IsZero() {
		return t.promote, true
	}
	left := e.ExpiresAt.Sub(t.local.clock())
	if left <= 0 {
		return 0, false
	}
	return min(t.promote, left), true
}

func (t *Tiered) Set(ctx context.Context, key string, e Entry, ttl time.Duration) {
	if ttl > 0 {
		e.ExpiresAt = t.local.clock().Add(ttl)
	}
	t.local.Set(key, e, ttl)
	if t.remote != nil {
		if err := t.remote.Set(ctx, key, e, ttl); err != nil {
			t.logger.Warn("cache backend set failed", zap.Error(err))
		}
	}
}

// Clear empties both tiers. The local tier is always cleared; the backend
// error, if any, is returned.
func (t *Tiered) Clear(ctx context.Context) error {
	t.local.Clear()
	if t.remote == nil {
		return nil
	}
	return t.remote.Clear(ctx)
}

func (t *Tiered) Len() int {
	return t.local.Len()
}
