package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/david/grant-aggregator/internal/ingest"
	"github.com/david/grant-aggregator/internal/search"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// SearchRun is one persisted audit row.
type SearchRun struct {
	ID                string          `json:"id"`
	Query             string          `json:"query"`
	Filters           search.Filters  `json:"filters"`
	TotalSources      int             `json:"total_sources"`
	SourcesUsed       []string        `json:"sources_used"`
	SourcesWithErrors []string        `json:"sources_with_errors"`
	TotalResults      int             `json:"total_results"`
	DuplicatesRemoved int             `json:"duplicates_removed"`
	QualityScore      float64         `json:"quality_score"`
	CacheHitRate      float64         `json:"cache_hit_rate"`
	ElapsedMS         int64           `json:"elapsed_ms"`
	Failed            bool            `json:"failed"`
	CreatedAt         time.Time       `json:"created_at"`
	RawFilters        json.RawMessage `json:"-"`
}

// RunFilter narrows RecentRuns.
type RunFilter struct {
	Query      string
	Source     string // runs that queried this source
	ErroredOn  string // runs where this source failed
	FailedOnly bool
	Since      time.Time
	MinQuality float64
	Limit      int
	Offset     int
}

const runCols = `id, query, filters, total_sources, sources_used, sources_with_errors,
	total_results, duplicates_removed, quality_score, cache_hit_rate, elapsed_ms, failed, created_at`

// RecordRun inserts the audit row of one search. It satisfies
// search.RunRecorder.
func (s *Store) RecordRun(ctx context.Context, run search.Run) error {
	filters, err := json.Marshal(run.Filters)
	if err != nil {
		return fmt.Errorf("encode filters: %w", err)
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO search_runs (`+runCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		uuid.NewString(), run.Query, filters, run.TotalSources,
		nonNil(run.SourcesUsed), nonNil(run.SourcesWithErrors),
		run.TotalResults, run.DuplicatesRemoved, run.QualityScore, run.CacheHitRate,
		run.Elapsed.Milliseconds(), run.Failed, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert search run: %w", err)
	}
	return nil
}

// RecentRuns lists audit rows, newest first.
func (s *Store) RecentRuns(ctx context.Context, f RunFilter) ([]SearchRun, error) {
	query, args := buildRunsQuery(f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	runs := []SearchRun{}
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	return runs, nil
}

func buildRunsQuery(f RunFilter) (string, []any) {
	where := "WHERE 1=1"
	var args []any
	argIdx := 1

	if q := strings.TrimSpace(f.Query); q != "" {
		where += fmt.Sprintf(" AND query ILIKE '%%' || $%d || '%%'", argIdx)
		args = append(args, q)
		argIdx++
	}
	if f.Source != "" {
		where += fmt.Sprintf(" AND $%d = ANY(sources_used)", argIdx)
		args = append(args, f.Source)
		argIdx++
	}
	if f.ErroredOn != "" {
		where += fmt.Sprintf(" AND $%d = ANY(sources_with_errors)", argIdx)
		args = append(args, f.ErroredOn)
		argIdx++
	}
	if f.FailedOnly {
		where += " AND failed = true"
	}
	if !f.Since.IsZero() {
		where += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, f.Since)
		argIdx++
	}
	if f.MinQuality > 0 {
		where += fmt.Sprintf(" AND quality_score >= $%d", argIdx)
		args = append(args, f.MinQuality)
		argIdx++
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	if limit > maxRunsLimit {
		limit = maxRunsLimit
	}
	offset := max(f.Offset, 0)

	query := fmt.Sprintf("SELECT %s FROM search_runs %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d",
		runCols, where, argIdx, argIdx+1)
	args = append(args, limit, offset)
	return query, args
}

func scanRun(scan func(dest ...any) error) (SearchRun, error) {
	var r SearchRun
	var filters []byte
	err := scan(
		&r.ID, &r.Query, &filters, &r.TotalSources, &r.SourcesUsed, &r.SourcesWithErrors,
		&r.TotalResults, &r.DuplicatesRemoved, &r.QualityScore, &r.CacheHitRate, &r.ElapsedMS, &r.Failed, &r.CreatedAt,
	)
	if err != nil {
		return r, err
	}
	if len(filters) > 0 {
		r.RawFilters = filters
		_ = json.Unmarshal(filters, &r.Filters)
	}
	return r, nil
}

// SourceFailureCount is how often a source failed within a window.
type SourceFailureCount struct {
	SourceID string `json:"source_id"`
	Failures int    `json:"failures"`
}

// SourceFailures counts failing runs per source since the given time.
func (s *Store) SourceFailures(ctx context.Context, since time.Time) ([]SourceFailureCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT src, COUNT(*) FROM search_runs, unnest(sources_with_errors) AS src
		WHERE created_at >= $1
		GROUP BY src
		ORDER BY COUNT(*) DESC, src`, since)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	out := []SourceFailureCount{}
	for rows.Next() {
		var c SourceFailureCount
		if err := rows.Scan(&c.SourceID, &c.Failures); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveHealth upserts the health of every source in one batch. It satisfies
// search.HealthStore.
func (s *Store) SaveHealth(ctx context.Context, sources []ingest.SourceDescriptor) error {
	if len(sources) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, src := range sources {
		h := src.Health
		batch.Queue(`
			INSERT INTO source_health (source_id, status, consecutive_failures, blocked_until, last_error,
				last_latency_ms, last_checked_at, total_requests, total_failures, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
			ON CONFLICT (source_id) DO UPDATE SET
				status = EXCLUDED.status,
				consecutive_failures = EXCLUDED.consecutive_failures,
				blocked_until = EXCLUDED.blocked_until,
				last_error = EXCLUDED.last_error,
				last_latency_ms = EXCLUDED.last_latency_ms,
				last_checked_at = EXCLUDED.last_checked_at,
				total_requests = EXCLUDED.total_requests,
				total_failures = EXCLUDED.total_failures,
				updated_at = NOW()`,
			src.ID, string(h.Status), h.ConsecutiveFailures, nullTime(h.BlockedUntil), h.LastError,
			h.LastLatency.Milliseconds(), nullTime(h.LastCheckedAt), h.TotalRequests, h.TotalFailures,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save source health: %w", err)
	}
	return nil
}

// LoadHealth returns the persisted health keyed by source id.
func (s *Store) LoadHealth(ctx context.Context) (map[string]ingest.Health, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source_id, status, consecutive_failures, blocked_until, last_error,
			last_latency_ms, last_checked_at, total_requests, total_failures
		FROM source_health`)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	out := make(map[string]ingest.Health)
	for rows.Next() {
		var id, status string
		var h ingest.Health
		var blockedUntil, lastChecked *time.Time
		var latencyMS int64
		if err := rows.Scan(&id, &status, &h.ConsecutiveFailures, &blockedUntil, &h.LastError,
			&latencyMS, &lastChecked, &h.TotalRequests, &h.TotalFailures); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		h.Status = ingest.HealthStatus(status)
		h.LastLatency = time.Duration(latencyMS) * time.Millisecond
		if blockedUntil != nil {
			h.BlockedUntil = *blockedUntil
		}
		if lastChecked != nil {
			h.LastCheckedAt = *lastChecked
		}
		out[id] = h
	}
	return out, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
