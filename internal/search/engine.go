package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/david/grant-aggregator/internal/cache"
	"github.com/david/grant-aggregator/internal/ingest"
	"github.com/david/grant-aggregator/internal/metrics"
	"github.com/david/grant-aggregator/internal/models"
	"github.com/david/grant-aggregator/internal/telemetry"
)

// RunRecorder persists an audit summary of each search.
type RunRecorder interface {
	RecordRun(ctx context.Context, run Run) error
}

const recordTimeout = 3 * time.Second

// Engine runs aggregated searches over the sources of a registry.
type Engine struct {
	registry   *ingest.Registry
	adapters   *ingest.AdapterFactory
	transports map[string]ingest.Transport
	cache      *cache.Tiered
	dedup      Deduplicator
	recorder   RunRecorder
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time

	mu  sync.RWMutex
	cfg Config
}

type Option func(*Engine)

func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

func WithDeduplicator(d Deduplicator) Option {
	return func(e *Engine) { e.dedup = d }
}

func WithRunRecorder(r RunRecorder) Option {
	return func(e *Engine) { e.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires the engine. transports is keyed by transport name
// (ingest.TransportHTTP, ingest.TransportColly); c may be nil to disable
// caching entirely.
func NewEngine(registry *ingest.Registry, adapters *ingest.AdapterFactory, transports map[string]ingest.Transport, c *cache.Tiered, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, errors.New("search: registry is required")
	}
	if adapters == nil {
		adapters = ingest.DefaultAdapterFactory()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		registry:   registry,
		adapters:   adapters,
		transports: transports,
		cache:      c,
		dedup:      NewKeyDeduplicator(),
		logger:     logger,
		tracer:     otel.Tracer(telemetry.TracerName),
		now:        time.Now,
		cfg:        DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	e.registry.ApplyDefaults(e.cfg.Timeout, e.cfg.Retries)
	return e, nil
}

func (e *Engine) Configuration() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// UpdateConfiguration validates and merges patch into the current
// configuration. Nothing is applied when any part of it is invalid.
func (e *Engine) UpdateConfiguration(patch ConfigPatch) error {
	if err := validate.Struct(patch); err != nil {
		return fmt.Errorf("invalid config patch: %w", err)
	}
	for id := range patch.Sources {
		if _, ok := e.registry.Get(id); !ok {
			return fmt.Errorf("%w: %s", ingest.ErrUnknownSource, id)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	next := patch.Apply(e.cfg)
	if err := next.Validate(); err != nil {
		return err
	}
	for id, sp := range patch.Sources {
		p := ingest.SourcePatch{Enabled: sp.Enabled, Retries: sp.Retries}
		if sp.TimeoutMS != nil {
			d := time.Duration(*sp.TimeoutMS) * time.Millisecond
			p.Timeout = &d
		}
		if err := e.registry.Configure(id, p); err != nil {
			return err
		}
	}
	e.cfg = next
	e.registry.ApplyDefaults(next.Timeout, next.Retries)
	e.logger.Info("search configuration updated",
		zap.Duration("timeout", next.Timeout),
		zap.Int("max_parallel", next.MaxParallelRequests),
		zap.Int("source_patches", len(patch.Sources)),
	)
	return nil
}

// Sources returns a snapshot of every registered source.
func (e *Engine) Sources() []ingest.SourceDescriptor {
	return e.registry.Snapshot()
}

func (e *Engine) UpdateHealth(id string, status ingest.HealthStatus) error {
	return e.registry.UpdateHealth(id, status)
}

func (e *Engine) ClearCache(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	if err := e.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	e.logger.Info("cache cleared")
	return nil
}

// DefaultOptions returns the options implied by the current configuration.
func (e *Engine) DefaultOptions() Options {
	cfg := e.Configuration()
	return Options{
		EnableAggregation:     Bool(cfg.EnableAggregation),
		EnableDeduplication:   Bool(cfg.EnableDeduplication),
		EnableRegionalSources: Bool(cfg.EnableRegionalSources),
		EnableCache:           Bool(cfg.EnableCache),
		MaxParallelRequests:   cfg.MaxParallelRequests,
		Timeout:               cfg.Timeout,
		SortBy:                SortRelevance,
		SortDirection:         SortDesc,
		Page:                  1,
		Limit:                 50,
	}
}

func (e *Engine) completeOptions(opts Options) (Options, error) {
	cfg := e.Configuration()
	if opts.EnableAggregation == nil {
		opts.EnableAggregation = Bool(cfg.EnableAggregation)
	}
	if opts.EnableDeduplication == nil {
		opts.EnableDeduplication = Bool(cfg.EnableDeduplication)
	}
	if opts.EnableRegionalSources == nil {
		opts.EnableRegionalSources = Bool(cfg.EnableRegionalSources)
	}
	if opts.EnableCache == nil {
		opts.EnableCache = Bool(cfg.EnableCache)
	}
	if opts.MaxParallelRequests == 0 {
		opts.MaxParallelRequests = cfg.MaxParallelRequests
	}
	if opts.Timeout == 0 {
		opts.Timeout = cfg.Timeout
	}
	if opts.SortBy == "" {
		opts.SortBy = SortRelevance
	}
	if opts.SortDirection == "" {
		opts.SortDirection = SortDesc
	}
	if opts.Page == 0 {
		opts.Page = 1
	}
	if opts.Limit == 0 {
		opts.Limit = 50
	}
	if err := validate.Struct(opts); err != nil {
		return opts, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if opts.Page*opts.Limit > maxProviderLimit {
		return opts, fmt.Errorf("%w: page %d with limit %d reaches past the first %d records",
			ErrInvalidOptions, opts.Page, opts.Limit, maxProviderLimit)
	}
	return opts, nil
}

// Search queries the active sources in parallel and returns the merged,
// deduplicated and ranked result.
//
// A failing source never fails the search; it shows up in
// Result.SourcesWithErrors. When every selected source fails, the result is
// returned together with an *AggregationError. An empty selection returns
// ErrNoSources (wrapped in an *AggregationError) and no result; it is
// retryable while the circuit breaker holds sources back.
func (e *Engine) Search(ctx context.Context, query string, filters Filters, opts Options) (*Result, error) {
	started := time.Now()
	opts, err := e.completeOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(filters); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	ctx, span := e.tracer.Start(ctx, "search.Search", trace.WithAttributes(
		attribute.String("search.query", query),
		attribute.Int("search.max_parallel", opts.MaxParallelRequests),
	))
	defer span.End()

	sources := e.selectSources(opts)
	if len(sources) == 0 {
		metrics.SearchesTotal.WithLabelValues("failed").Inc()
		span.SetStatus(codes.Error, ErrNoSources.Error())
		return nil, &AggregationError{
			Code:      CodeNoSources,
			Retryable: e.registry.TemporarilyBlocked(enabled(opts.EnableRegionalSources)),
			Err:       ErrNoSources,
		}
	}
	span.SetAttributes(attribute.Int("search.sources", len(sources)))

	params := ingest.QueryParams{
		Query:        strings.TrimSpace(query),
		Region:       filters.Region,
		Organization: filters.Organization,
		MinAmount:    filters.MinAmount,
		MaxAmount:    filters.MaxAmount,
		Page:         1,
		Limit:        opts.Page * opts.Limit,
	}
	responses := e.fetchAll(ctx, sources, params, queryTerms(query), filters, opts)

	// Merge in priority order, not completion order.
	var merged []models.Grant
	res := &Result{
		Query:        params.Query,
		Responses:    responses,
		TotalSources: len(sources),
		Page:         opts.Page,
		Limit:        opts.Limit,
	}
	var sourceErrs []error
	anyRetryable := false
	for _, r := range responses {
		res.SourcesUsed = append(res.SourcesUsed, r.SourceID)
		if r.Failed() {
			res.SourcesWithErrors = append(res.SourcesWithErrors, r.SourceID)
			sourceErrs = append(sourceErrs, r.Err)
			anyRetryable = anyRetryable || r.Err.Retryable
			continue
		}
		merged = append(merged, r.Grants...)
	}

	pre := len(merged)
	if enabled(opts.EnableDeduplication) {
		merged, res.DuplicatesRemoved = e.dedup.Dedupe(merged)
	}
	Sort(merged, opts.SortBy, opts.SortDirection)
	res.Statistics = Summarize(responses, pre, len(merged))
	res.TotalResults = len(merged)
	res.Grants, res.HasMore = paginate(merged, opts.Page, opts.Limit)
	res.Elapsed = time.Since(started)

	allFailed := len(sourceErrs) == len(responses)
	outcome := "ok"
	switch {
	case allFailed:
		outcome = "failed"
	case len(sourceErrs) > 0:
		outcome = "partial"
	}
	metrics.SearchesTotal.WithLabelValues(outcome).Inc()
	metrics.SearchDuration.Observe(res.Elapsed.Seconds())
	span.SetAttributes(
		attribute.Int("search.results", res.TotalResults),
		attribute.Int("search.duplicates_removed", res.DuplicatesRemoved),
		attribute.Int("search.errored_sources", len(sourceErrs)),
	)

	e.logger.Info("search completed",
		zap.String("query", params.Query),
		zap.Int("sources", len(sources)),
		zap.Int("errored", len(sourceErrs)),
		zap.Int("results", res.TotalResults),
		zap.Int("duplicates", res.DuplicatesRemoved),
		zap.Duration("elapsed", res.Elapsed),
	)
	e.recordRun(ctx, params.Query, filters, res, allFailed)

	if allFailed {
		span.SetStatus(codes.Error, CodeAllSourcesFailed)
		return res, &AggregationError{
			Code:      CodeAllSourcesFailed,
			Retryable: anyRetryable,
			Err:       errors.Join(sourceErrs...),
		}
	}
	return res, nil
}

// selectSources picks the active sources for one search. Without
// aggregation only the most trusted active source is queried.
func (e *Engine) selectSources(opts Options) []ingest.SourceDescriptor {
	limit := opts.MaxSources
	if limit <= 0 {
		limit = opts.MaxParallelRequests
	}
	if !enabled(opts.EnableAggregation) {
		limit = 1
	}
	return e.registry.ListActive(limit, enabled(opts.EnableRegionalSources))
}

// fetchAll runs one worker per source, at most MaxParallelRequests at a
// time. Responses keep the order of sources.
func (e *Engine) fetchAll(ctx context.Context, sources []ingest.SourceDescriptor, params ingest.QueryParams, terms []string, filters Filters, opts Options) []SourceResponse {
	responses := make([]SourceResponse, len(sources))
	sem := semaphore.NewWeighted(int64(opts.MaxParallelRequests))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(index int, src ingest.SourceDescriptor) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				responses[index] = failedResponse(src, classifyFetchError(src.ID, err), 0)
				return
			}
			defer sem.Release(1)
			responses[index] = e.fetchSource(ctx, src, params, terms, filters, opts)
		}(i, src)
	}
	wg.Wait()
	return responses
}

func (e *Engine) fetchSource(ctx context.Context, src ingest.SourceDescriptor, params ingest.QueryParams, terms []string, filters Filters, opts Options) SourceResponse {
	resp := SourceResponse{SourceID: src.ID, SourceName: src.Name, Priority: src.Priority}
	key := cache.Key(src.ID, params.Canonical())
	useCache := enabled(opts.EnableCache) && e.cache != nil

	if useCache {
		if entry, ok := e.cache.Get(ctx, key); ok {
			now := e.now()
			for i := range entry.Grants {
				entry.Grants[i].Status = entry.Grants[i].LifecycleAt(now)
			}
			resp.Cached = true
			resp.Grants = applyFilters(entry.Grants, terms, filters)
			resp.Count = len(resp.Grants)
			return resp
		}
	}

	timeout := src.Timeout
	if timeout <= 0 || (opts.Timeout > 0 && opts.Timeout < timeout) {
		timeout = opts.Timeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	fetchCtx, span := e.tracer.Start(fetchCtx, "search.fetchSource", trace.WithAttributes(
		attribute.String("source.id", src.ID),
		attribute.String("source.adapter", src.Adapter),
		attribute.String("source.transport", src.Transport),
	))
	defer span.End()

	startedAt := time.Now()
	grants, serr := e.load(fetchCtx, src, params)
	latency := time.Since(startedAt)
	if serr != nil {
		e.registry.RecordResult(src.ID, serr, latency)
		span.RecordError(serr)
		span.SetStatus(codes.Error, serr.Kind)
		e.logger.Warn("source failed",
			zap.String("source", src.ID),
			zap.String("kind", serr.Kind),
			zap.Bool("retryable", serr.Retryable),
			zap.Duration("latency", latency),
			zap.Error(serr.Err),
		)
		return failedResponse(src, serr, latency)
	}
	e.registry.RecordResult(src.ID, nil, latency)

	if useCache {
		ttl := e.Configuration().TTLPolicy().For(src.IsNational())
		e.cache.Set(ctx, key, cache.Entry{SourceID: src.ID, Grants: grants, StoredAt: e.now(), Latency: latency}, ttl)
	}

	resp.Latency = latency
	resp.Grants = applyFilters(grants, terms, filters)
	resp.Count = len(resp.Grants)
	span.SetAttributes(attribute.Int("source.records", len(grants)))
	return resp
}

// load fetches, validates, decodes and normalizes one source payload.
func (e *Engine) load(ctx context.Context, src ingest.SourceDescriptor, params ingest.QueryParams) ([]models.Grant, *SourceError) {
	transport, err := e.transportFor(src)
	if err != nil {
		return nil, &SourceError{SourceID: src.ID, Kind: KindTransport, Err: err}
	}
	body, err := transport.Fetch(ctx, src, params)
	if err != nil {
		return nil, classifyFetchError(src.ID, err)
	}
	if err := ingest.ValidatePayload(src.Schema, body); err != nil {
		return nil, &SourceError{SourceID: src.ID, Kind: KindSchema, Err: err}
	}
	adapter, err := e.adapters.Get(src.Adapter)
	if err != nil {
		return nil, &SourceError{SourceID: src.ID, Kind: KindDecode, Err: err}
	}
	raws, err := adapter.Decode(body, src)
	if err != nil {
		return nil, &SourceError{SourceID: src.ID, Kind: KindDecode, Err: err}
	}

	now := e.now()
	grants := make([]models.Grant, 0, len(raws))
	for i, raw := range raws {
		grants = append(grants, ingest.Normalize(raw, src, i, now))
	}
	return grants, nil
}

func (e *Engine) transportFor(src ingest.SourceDescriptor) (ingest.Transport, error) {
	return lookupTransport(e.transports, src)
}

func lookupTransport(transports map[string]ingest.Transport, src ingest.SourceDescriptor) (ingest.Transport, error) {
	name := src.Transport
	if name == "" {
		name = ingest.TransportHTTP
	}
	t, ok := transports[name]
	if !ok || t == nil {
		return nil, fmt.Errorf("unknown transport %q", name)
	}
	return t, nil
}

func (e *Engine) recordRun(ctx context.Context, query string, filters Filters, res *Result, failed bool) {
	if e.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	run := Run{
		Query:             query,
		Filters:           filters,
		TotalSources:      res.TotalSources,
		SourcesUsed:       res.SourcesUsed,
		SourcesWithErrors: res.SourcesWithErrors,
		TotalResults:      res.TotalResults,
		DuplicatesRemoved: res.DuplicatesRemoved,
		QualityScore:      res.Statistics.QualityScore,
		CacheHitRate:      res.Statistics.CacheHitRate,
		Elapsed:           res.Elapsed,
		Failed:            failed,
		CreatedAt:         e.now().UTC(),
	}
	if err := e.recorder.RecordRun(ctx, run); err != nil {
		e.logger.Warn("failed to record search run", zap.Error(err))
	}
}

func failedResponse(src ingest.SourceDescriptor, serr *SourceError, latency time.Duration) SourceResponse {
	return SourceResponse{
		SourceID:   src.ID,
		SourceName: src.Name,
		Priority:   src.Priority,
		Latency:    latency,
		Error:      serr.Error(),
		Retryable:  serr.Retryable,
		Err:        serr,
	}
}

func paginate(grants []models.Grant, page, limit int) ([]models.Grant, bool) {
	start := (page - 1) * limit
	if start > len(grants) {
		start = len(grants)
	}
	end := min(start+limit, len(grants))
	out := make([]models.Grant, end-start)
	copy(out, grants[start:end])
	return out, end < len(grants)
}
