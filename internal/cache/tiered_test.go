package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memBackend struct {
	mu      sync.Mutex
	data    map[string]Entry
	failAll bool
}

func newMemBackend() *memBackend { return &memBackend{data: map[string]Entry{}} }

func (m *memBackend) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return Entry{}, false, errors.New("backend down")
	}
	e, ok := m.data[key]
	return e, ok, nil
}

func (m *memBackend) Set(_ context.Context, key string, e Entry, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errors.New("backend down")
	}
	m.data[key] = e
	return nil
}

func (m *memBackend) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errors.New("backend down")
	}
	m.data = map[string]Entry{}
	return nil
}

func TestTieredPromotesBackendHits(t *testing.T) {
	ctx := context.Background()
	remote := newMemBackend()
	remote.data["k"] = entryWith("from-redis")

	c := NewTiered(NewLRU(8), remote, zap.NewNop())
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "from-redis", got.Grants[0].Title)
	assert.Equal(t, 1, c.Len())
}

func TestTieredPromotionNeverOutlivesExpiry(t *testing.T) {
	ctx := context.Background()
	remote := newMemBackend()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	writerLRU := NewLRU(8)
	writerLRU.SetClock(clock)
	NewTiered(writerLRU, remote, nil).Set(ctx, "k", entryWith("a"), 10*time.Second)

	readerLRU := NewLRU(8)
	readerLRU.SetClock(clock)
	reader := NewTiered(readerLRU, remote, nil)

	now = now.Add(5 * time.Second)
	_, ok := reader.Get(ctx, "k")
	require.True(t, ok)

	// The backend drops the key once its TTL runs out.
	now = now.Add(6 * time.Second)
	delete(remote.data, "k")
	_, ok = reader.Get(ctx, "k")
	assert.False(t, ok, "promoted copy served after expiry")
}

func TestTieredIgnoresExpiredBackendEntry(t *testing.T) {
	ctx := context.Background()
	remote := newMemBackend()
	e := entryWith("stale")
	e.ExpiresAt = time.Now().Add(-time.Second)
	remote.data["k"] = e

	c := NewTiered(NewLRU(8), remote, nil)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestTieredWritesThrough(t *testing.T) {
	ctx := context.Background()
	remote := newMemBackend()
	c := NewTiered(NewLRU(8), remote, nil)

	c.Set(ctx, "k", entryWith("a"), time.Minute)
	_, ok := remote.data["k"]
	assert.True(t, ok)

	require.NoError(t, c.Clear(ctx))
	assert.Zero(t, c.Len())
	assert.Empty(t, remote.data)
}

func TestTieredSurvivesBackendFailure(t *testing.T) {
	ctx := context.Background()
	remote := newMemBackend()
	remote.failAll = true
	c := NewTiered(NewLRU(8), remote, zap.NewNop())

	c.Set(ctx, "k", entryWith("a"), time.Minute)
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "a", got.Grants[0].Title)

	_, ok = c.Get(ctx, "other")
	assert.False(t, ok)
	assert.Error(t, c.Clear(ctx))
	assert.Zero(t, c.Len())
}

func TestTieredWithoutBackend(t *testing.T) {
	ctx := context.Background()
	c := NewTiered(NewLRU(8), nil, nil)
	c.Set(ctx, "k", entryWith("a"), time.Minute)
	_, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.NoError(t, c.Clear(ctx))
}

func TestRedisBackendIntegration(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := NewRedisBackendFromURL(ctx, url)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Set(ctx, "itest", entryWith("a"), time.Minute))
	got, ok, err := r.Get(ctx, "itest")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", got.Grants[0].Title)

	require.NoError(t, r.Clear(ctx))
	_, ok, err = r.Get(ctx, "itest")
	require.NoError(t, err)
	assert.False(t, ok)
}
