package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/david/grant-aggregator/internal/ingest"
)

type memHealthStore struct {
	mu    sync.Mutex
	saved [][]ingest.SourceDescriptor
}

func (s *memHealthStore) SaveHealth(_ context.Context, sources []ingest.SourceDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, sources)
	return nil
}

func TestProberRecordsHealth(t *testing.T) {
	disabled := source("c", ingest.PriorityBaja, "Murcia")
	disabled.Enabled = false
	reg, err := ingest.NewRegistry([]ingest.SourceDescriptor{
		source("a", ingest.PriorityMaxima, ingest.NationalRegion),
		source("b", ingest.PriorityAlta, "Aragón"),
		disabled,
	})
	require.NoError(t, err)

	ft := newFakeTransport()
	ft.bodies["a"] = `[]`
	ft.errs["b"] = &ingest.StatusError{StatusCode: 404, URL: "https://b.example.org/api"}
	store := &memHealthStore{}

	p := NewProber(reg, map[string]ingest.Transport{fakeTransportName: ft}, store, time.Minute, zap.NewNop())
	healthy := p.ProbeOnce(context.Background())

	assert.Equal(t, 1, healthy)
	assert.Zero(t, ft.callsFor("c"))

	a, _ := reg.Get("a")
	b, _ := reg.Get("b")
	assert.Equal(t, ingest.HealthHealthy, a.Health.Status)
	assert.Equal(t, ingest.HealthDegraded, b.Health.Status)
	assert.Contains(t, b.Health.LastError, "404")

	require.Len(t, store.saved, 1)
	assert.Len(t, store.saved[0], 3)
}

func TestProberRecoversBlockedSource(t *testing.T) {
	reg, err := ingest.NewRegistry([]ingest.SourceDescriptor{source("a", ingest.PriorityMaxima, ingest.NationalRegion)})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		reg.RecordResult("a", errors.New("connection reset"), time.Millisecond)
	}
	require.Empty(t, reg.ListActive(0, true))

	ft := newFakeTransport()
	ft.bodies["a"] = `[]`
	p := NewProber(reg, map[string]ingest.Transport{fakeTransportName: ft}, nil, time.Minute, zap.NewNop())
	p.ProbeOnce(context.Background())

	assert.Len(t, reg.ListActive(0, true), 1)
}

func TestProberRunStopsWithContext(t *testing.T) {
	reg, err := ingest.NewRegistry([]ingest.SourceDescriptor{source("a", ingest.PriorityMaxima, ingest.NationalRegion)})
	require.NoError(t, err)
	ft := newFakeTransport()
	ft.bodies["a"] = `[]`
	p := NewProber(reg, map[string]ingest.Transport{fakeTransportName: ft}, nil, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return ft.callsFor("a") >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("prober did not stop")
	}
}

func TestProberDisabledInterval(t *testing.T) {
	reg, err := ingest.NewRegistry(nil)
	require.NoError(t, err)
	p := NewProber(reg, nil, nil, 0, zap.NewNop())
	p.Run(context.Background())
}
