package search

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/david/grant-aggregator/internal/cache"
)

var validate = validator.New()

// Config holds the process-wide search defaults. Changes apply to the next
// search; searches already running keep the values they started with.
type Config struct {
	Timeout               time.Duration `json:"timeout" validate:"gt=0"`
	Retries               int           `json:"retries" validate:"gte=0,lte=10"`
	MaxParallelRequests   int           `json:"max_parallel_requests" validate:"min=1,max=50"`
	NationalTTL           time.Duration `json:"national_ttl" validate:"gt=0"`
	RegionalTTL           time.Duration `json:"regional_ttl" validate:"gt=0"`
	EnableAggregation     bool          `json:"enable_aggregation"`
	EnableDeduplication   bool          `json:"enable_deduplication"`
	EnableRegionalSources bool          `json:"enable_regional_sources"`
	EnableCache           bool          `json:"enable_cache"`
}

func DefaultConfig() Config {
	ttl := cache.DefaultTTLPolicy()
	return Config{
		Timeout:               30 * time.Second,
		Retries:               2,
		MaxParallelRequests:   5,
		NationalTTL:           ttl.National,
		RegionalTTL:           ttl.Regional,
		EnableAggregation:     true,
		EnableDeduplication:   true,
		EnableRegionalSources: true,
		EnableCache:           true,
	}
}

func (c Config) TTLPolicy() cache.TTLPolicy {
	return cache.TTLPolicy{National: c.NationalTTL, Regional: c.RegionalTTL}
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid search config: %w", err)
	}
	return nil
}

// ConfigPatch is a partial configuration update. Nil fields are left alone.
type ConfigPatch struct {
	Timeout               *time.Duration `json:"timeout,omitempty" validate:"omitempty,gt=0"`
	Retries               *int           `json:"retries,omitempty" validate:"omitempty,gte=0,lte=10"`
	MaxParallelRequests   *int           `json:"max_parallel_requests,omitempty" validate:"omitempty,min=1,max=50"`
	NationalTTL           *time.Duration `json:"national_ttl,omitempty" validate:"omitempty,gt=0"`
	RegionalTTL           *time.Duration `json:"regional_ttl,omitempty" validate:"omitempty,gt=0"`
	EnableAggregation     *bool          `json:"enable_aggregation,omitempty"`
	EnableDeduplication   *bool          `json:"enable_deduplication,omitempty"`
	EnableRegionalSources *bool          `json:"enable_regional_sources,omitempty"`
	EnableCache           *bool          `json:"enable_cache,omitempty"`

	Sources map[string]SourcePatch `json:"sources,omitempty" validate:"omitempty,dive"`
}

// SourcePatch mirrors ingest.SourcePatch with JSON-friendly units.
type SourcePatch struct {
	Enabled   *bool `json:"enabled,omitempty"`
	TimeoutMS *int  `json:"timeout_ms,omitempty" validate:"omitempty,min=1"`
	Retries   *int  `json:"retries,omitempty" validate:"omitempty,gte=0,lte=10"`
}

// Apply merges the patch into c and returns the result.
func (p ConfigPatch) Apply(c Config) Config {
	if p.Timeout != nil {
		c.Timeout = *p.Timeout
	}
	if p.Retries != nil {
		c.Retries = *p.Retries
	}
	if p.MaxParallelRequests != nil {
		c.MaxParallelRequests = *p.MaxParallelRequests
	}
	if p.NationalTTL != nil {
		c.NationalTTL = *p.NationalTTL
	}
	if p.RegionalTTL != nil {
		c.RegionalTTL = *p.RegionalTTL
	}
	if p.EnableAggregation != nil {
		c.EnableAggregation = *p.EnableAggregation
	}
	if p.EnableDeduplication != nil {
		c.EnableDeduplication = *p.EnableDeduplication
	}
	if p.EnableRegionalSources != nil {
		c.EnableRegionalSources = *p.EnableRegionalSources
	}
	if p.EnableCache != nil {
		c.EnableCache = *p.EnableCache
	}
	return c
}
