package search

import (
	"time"

	"github.com/david/grant-aggregator/internal/ingest"
	"github.com/david/grant-aggregator/internal/models"
)

type SortField string

const (
	SortRelevance    SortField = "relevance"
	SortAmount       SortField = "amount"
	SortTitle        SortField = "title"
	SortOrganization SortField = "organization"
	SortOpeningDate  SortField = "openingDate"
)

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// maxProviderLimit caps how many records one source is asked for.
const maxProviderLimit = 500

// Filters narrow the merged result. Region, organization and the amount
// range are also sent upstream; every filter is enforced again locally
// because most providers ignore some of them.
type Filters struct {
	Region       string           `json:"region,omitempty"`
	Organization string           `json:"organization,omitempty"`
	MinAmount    float64          `json:"min_amount,omitempty" validate:"gte=0"`
	MaxAmount    float64          `json:"max_amount,omitempty" validate:"gte=0"`
	Status       models.Lifecycle `json:"status,omitempty" validate:"omitempty,oneof=open closed upcoming"`
	Category     string           `json:"category,omitempty"`
	Sector       string           `json:"sector,omitempty"`
}

// Options tune one search. Nil toggles, zero numeric fields and empty sort
// settings take the engine configuration, so the zero value is a valid
// default search. Page*Limit may not exceed the per-source ceiling of 500
// records.
type Options struct {
	EnableAggregation     *bool         `json:"enable_aggregation,omitempty"`
	EnableDeduplication   *bool         `json:"enable_deduplication,omitempty"`
	EnableRegionalSources *bool         `json:"enable_regional_sources,omitempty"`
	EnableCache           *bool         `json:"enable_cache,omitempty"`
	MaxParallelRequests   int           `json:"max_parallel_requests" validate:"min=1,max=50"`
	Timeout               time.Duration `json:"timeout" validate:"gt=0"`
	MaxSources            int           `json:"max_sources" validate:"gte=0"`
	SortBy                SortField     `json:"sort_by" validate:"oneof=relevance amount title organization openingDate"`
	SortDirection         SortDirection `json:"sort_direction" validate:"oneof=asc desc"`
	Page                  int           `json:"page" validate:"min=1"`
	Limit                 int           `json:"limit" validate:"min=1,max=500"`
}

// Bool returns a pointer to v, for the Options toggles.
func Bool(v bool) *bool { return &v }

func enabled(p *bool) bool { return p != nil && *p }

// SourceResponse is what one source contributed to a search.
type SourceResponse struct {
	SourceID   string          `json:"source_id"`
	SourceName string          `json:"source_name"`
	Priority   ingest.Priority `json:"priority"`
	Count      int             `json:"count"`
	Latency    time.Duration   `json:"latency_ns"`
	Cached     bool            `json:"cached"`
	Error      string          `json:"error,omitempty"`
	Retryable  bool            `json:"retryable,omitempty"`

	Grants []models.Grant `json:"-"`
	Err    *SourceError   `json:"-"`
}

func (r SourceResponse) Failed() bool { return r.Err != nil }

// Statistics summarizes the health and quality of one search.
type Statistics struct {
	TotalSources      int                      `json:"total_sources"`
	ActiveSources     int                      `json:"active_sources"`
	ErroredSources    int                      `json:"errored_sources"`
	CachedSources     int                      `json:"cached_sources"`
	TotalRecords      int                      `json:"total_records"`
	UniqueRecords     int                      `json:"unique_records"`
	DuplicatesRemoved int                      `json:"duplicates_removed"`
	AverageLatency    time.Duration            `json:"average_latency_ns"`
	SuccessRate       float64                  `json:"success_rate"`
	CacheHitRate      float64                  `json:"cache_hit_rate"`
	Completeness      float64                  `json:"completeness"`
	QualityScore      float64                  `json:"quality_score"`
	ByStatus          map[models.Lifecycle]int `json:"by_status"`
	BySource          map[string]int           `json:"by_source"`
}

// Result is the aggregated answer of one search. It is not modified after
// Search returns.
type Result struct {
	Query             string           `json:"query"`
	Grants            []models.Grant   `json:"grants"`
	Responses         []SourceResponse `json:"responses"`
	Statistics        Statistics       `json:"statistics"`
	SourcesUsed       []string         `json:"sources_used"`
	SourcesWithErrors []string         `json:"sources_with_errors"`
	TotalSources      int              `json:"total_sources"`
	TotalResults      int              `json:"total_results"`
	DuplicatesRemoved int              `json:"duplicates_removed"`
	Page              int              `json:"page"`
	Limit             int              `json:"limit"`
	HasMore           bool             `json:"has_more"`
	Elapsed           time.Duration    `json:"elapsed_ns"`
}

// Run is the audit summary of one search handed to a RunRecorder.
type Run struct {
	Query             string
	Filters           Filters
	TotalSources      int
	SourcesUsed       []string
	SourcesWithErrors []string
	TotalResults      int
	DuplicatesRemoved int
	QualityScore      float64
	CacheHitRate      float64
	Elapsed           time.Duration
	Failed            bool
	CreatedAt         time.Time
}
