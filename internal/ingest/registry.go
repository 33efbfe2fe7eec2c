package ingest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrUnknownSource = errors.New("unknown source")
	ErrDuplicateID   = errors.New("duplicate source id")
)

// NationalRegion marks sources with country-wide scope.
const NationalRegion = "Nacional"

// Priority is the source tier, MAXIMA being the most trusted.
type Priority string

const (
	PriorityMaxima Priority = "MAXIMA"
	PriorityAlta   Priority = "ALTA"
	PriorityMedia  Priority = "MEDIA"
	PriorityBaja   Priority = "BAJA"
)

func (p Priority) Rank() int {
	switch p {
	case PriorityMaxima:
		return 0
	case PriorityAlta:
		return 1
	case PriorityMedia:
		return 2
	case PriorityBaja:
		return 3
	}
	return 4
}

type HealthStatus string

const (
	HealthUnknown  HealthStatus = "unknown"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

func (s HealthStatus) Valid() bool {
	switch s {
	case HealthUnknown, HealthHealthy, HealthDegraded, HealthDown:
		return true
	}
	return false
}

// Health is the mutable state the orchestrator and prober keep per source.
type Health struct {
	Status              HealthStatus  `json:"status"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	BlockedUntil        time.Time     `json:"blocked_until,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
	LastLatency         time.Duration `json:"last_latency_ns"`
	LastCheckedAt       time.Time     `json:"last_checked_at,omitempty"`
	TotalRequests       int64         `json:"total_requests"`
	TotalFailures       int64         `json:"total_failures"`
}

// SourceDescriptor describes one grant-listing provider.
type SourceDescriptor struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	BaseURL        string         `json:"base_url"`
	Region         string         `json:"region"`
	Priority       Priority       `json:"priority"`
	Enabled        bool           `json:"enabled"`
	Timeout        time.Duration  `json:"timeout_ns"`
	Retries        int            `json:"retries"` // InheritRetries takes the registry default
	Adapter        string         `json:"adapter"`
	Transport      string         `json:"transport"`
	Schema         string         `json:"schema,omitempty"`
	RateLimitRPS   float64        `json:"rate_limit_rps,omitempty"`
	AcceptLanguage string         `json:"-"`
	APIKey         string         `json:"-"`
	DateLocales    []string       `json:"-"`
	Currency       string         `json:"currency,omitempty"`
	Selectors      SelectorConfig `json:"-"`
	Health         Health         `json:"health"`
}

func (d SourceDescriptor) IsNational() bool {
	return strings.EqualFold(strings.TrimSpace(d.Region), NationalRegion)
}

func (d SourceDescriptor) clone() SourceDescriptor {
	out := d
	out.DateLocales = append([]string(nil), d.DateLocales...)
	return out
}

// InheritRetries marks a source without its own retry count. Zero is an
// explicit "do not retry".
const InheritRetries = -1

// SourcePatch is a partial administrative update for one source.
type SourcePatch struct {
	Enabled *bool          `json:"enabled,omitempty"`
	Timeout *time.Duration `json:"timeout,omitempty" validate:"omitempty,min=1000000"`
	Retries *int           `json:"retries,omitempty" validate:"omitempty,min=0,max=10"`
}

// Registry is the catalog of sources shared by every search of one engine.
type Registry struct {
	mu             sync.RWMutex
	sources        []*SourceDescriptor
	byID           map[string]*SourceDescriptor
	defaultTimeout time.Duration
	defaultRetries int
	now            func() time.Time
}

// NewRegistry builds a registry keeping the registration order of descs.
func NewRegistry(descs []SourceDescriptor) (*Registry, error) {
	r := &Registry{
		byID:           make(map[string]*SourceDescriptor, len(descs)),
		defaultTimeout: 30 * time.Second,
		now:            time.Now,
	}
	for _, d := range descs {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			return nil, fmt.Errorf("source with empty id: %q", d.Name)
		}
		if _, exists := r.byID[id]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
		c := d.clone()
		c.ID = id
		if c.Health.Status == "" {
			c.Health.Status = HealthUnknown
		}
		r.sources = append(r.sources, &c)
		r.byID[id] = &c
	}
	return r, nil
}

// SetClock overrides the time source used for circuit breaker decisions.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// ApplyDefaults sets the fallbacks used for sources without explicit values.
func (r *Registry) ApplyDefaults(timeout time.Duration, retries int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if timeout > 0 {
		r.defaultTimeout = timeout
	}
	if retries >= 0 {
		r.defaultRetries = retries
	}
}

func (r *Registry) effectiveLocked(d *SourceDescriptor) SourceDescriptor {
	out := d.clone()
	if out.Timeout <= 0 {
		out.Timeout = r.defaultTimeout
	}
	if out.Retries < 0 {
		out.Retries = r.defaultRetries
	}
	return out
}

// ListActive returns enabled sources that are not blocked, ordered by
// priority tier and then registration order. maxCount <= 0 means no cap.
func (r *Registry) ListActive(maxCount int, includeRegional bool) []SourceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	active := make([]SourceDescriptor, 0, len(r.sources))
	for _, d := range r.sources {
		if !d.Enabled {
			continue
		}
		if !includeRegional && !d.IsNational() {
			continue
		}
		if isBlocked(d.Health, now) {
			continue
		}
		active = append(active, r.effectiveLocked(d))
	}

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority.Rank() < active[j].Priority.Rank()
	})

	if maxCount > 0 && len(active) > maxCount {
		active = active[:maxCount]
	}
	return active
}

// TemporarilyBlocked reports whether an enabled source is held back by the
// circuit breaker with a deadline, so a later search may select it again.
// Sources forced down by an operator do not count.
func (r *Registry) TemporarilyBlocked(includeRegional bool) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	for _, d := range r.sources {
		if !d.Enabled || (!includeRegional && !d.IsNational()) {
			continue
		}
		if !d.Health.BlockedUntil.IsZero() && isBlocked(d.Health, now) {
			return true
		}
	}
	return false
}

// Enabled returns every enabled source regardless of health, in registration order.
func (r *Registry) Enabled() []SourceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SourceDescriptor, 0, len(r.sources))
	for _, d := range r.sources {
		if d.Enabled {
			out = append(out, r.effectiveLocked(d))
		}
	}
	return out
}

func (r *Registry) Get(id string) (SourceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[strings.TrimSpace(id)]
	if !ok {
		return SourceDescriptor{}, false
	}
	return r.effectiveLocked(d), true
}

// Snapshot returns copies of all sources in registration order.
func (r *Registry) Snapshot() []SourceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SourceDescriptor, 0, len(r.sources))
	for _, d := range r.sources {
		out = append(out, r.effectiveLocked(d))
	}
	return out
}

// UpdateHealth forces the health status of a source. Setting it healthy
// clears the failure streak and any block.
func (r *Registry) UpdateHealth(id string, status HealthStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid health status %q", status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[strings.TrimSpace(id)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	d.Health.Status = status
	d.Health.LastCheckedAt = r.now()
	if status == HealthHealthy || status == HealthUnknown {
		d.Health.ConsecutiveFailures = 0
		d.Health.BlockedUntil = time.Time{}
		d.Health.LastError = ""
	}
	return nil
}

// RestoreHealth loads previously persisted health state for known sources.
func (r *Registry) RestoreHealth(states map[string]Health) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, h := range states {
		if d, ok := r.byID[id]; ok && h.Status.Valid() {
			d.Health = h
		}
	}
}

func (r *Registry) Configure(id string, patch SourcePatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[strings.TrimSpace(id)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	if patch.Enabled != nil {
		d.Enabled = *patch.Enabled
	}
	if patch.Timeout != nil {
		d.Timeout = *patch.Timeout
	}
	if patch.Retries != nil {
		d.Retries = *patch.Retries
	}
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}
