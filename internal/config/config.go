package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/david/grant-aggregator/internal/search"
)

// Config is the process configuration read from the environment.
type Config struct {
	Port         string `validate:"required,numeric"`
	DatabaseURL  string
	RedisURL     string
	SourcesFile  string
	LogLevel     string `validate:"oneof=debug info warn warning error"`
	LogFormat    string `validate:"oneof=json console"`
	AdminSecret  string
	CORSOrigins  []string
	OTLPEndpoint string

	SearchTimeout     time.Duration `validate:"gt=0"`
	MaxParallel       int           `validate:"min=1,max=50"`
	DefaultRetries    int           `validate:"gte=0,lte=10"`
	CacheCapacity     int           `validate:"min=1"`
	NationalTTL       time.Duration `validate:"gt=0"`
	RegionalTTL       time.Duration `validate:"gt=0"`
	EnableAggregation bool
	EnableDedup       bool
	EnableRegional    bool
	EnableCache       bool
	ProbeInterval     time.Duration `validate:"gte=0"` // 0 disables the prober
}

var validate = validator.New()

// Load reads .env (if present) and the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	defaults := search.DefaultConfig()
	cfg := Config{
		Port:         getEnv("PORT", "8080"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		RedisURL:     getEnv("REDIS_URL", ""),
		SourcesFile:  getEnv("SOURCES_FILE", ""),
		LogLevel:     strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:    strings.ToLower(getEnv("LOG_FORMAT", "json")),
		AdminSecret:  strings.TrimSpace(os.Getenv("ADMIN_SECRET")),
		CORSOrigins:  corsOrigins(os.Getenv("CORS_ORIGINS")),
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		SearchTimeout:     getEnvDuration("SEARCH_TIMEOUT", defaults.Timeout),
		MaxParallel:       getEnvInt("SEARCH_MAX_PARALLEL", defaults.MaxParallelRequests),
		DefaultRetries:    getEnvInt("DEFAULT_RETRIES", defaults.Retries),
		CacheCapacity:     getEnvInt("CACHE_CAPACITY", 512),
		NationalTTL:       getEnvDuration("CACHE_TTL_NATIONAL", defaults.NationalTTL),
		RegionalTTL:       getEnvDuration("CACHE_TTL_REGIONAL", defaults.RegionalTTL),
		EnableAggregation: getEnvBool("ENABLE_AGGREGATION", defaults.EnableAggregation),
		EnableDedup:       getEnvBool("ENABLE_DEDUP", defaults.EnableDeduplication),
		EnableRegional:    getEnvBool("ENABLE_REGIONAL", defaults.EnableRegionalSources),
		EnableCache:       getEnvBool("ENABLE_CACHE", defaults.EnableCache),
		ProbeInterval:     getEnvDuration("PROBE_INTERVAL", 10*time.Minute),
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SearchConfig maps the environment onto the engine defaults.
func (c Config) SearchConfig() search.Config {
	return search.Config{
		Timeout:               c.SearchTimeout,
		Retries:               c.DefaultRetries,
		MaxParallelRequests:   c.MaxParallel,
		NationalTTL:           c.NationalTTL,
		RegionalTTL:           c.RegionalTTL,
		EnableAggregation:     c.EnableAggregation,
		EnableDeduplication:   c.EnableDedup,
		EnableRegionalSources: c.EnableRegional,
		EnableCache:           c.EnableCache,
	}
}

func corsOrigins(extra string) []string {
	origins := []string{"http://localhost:4200"}
	for _, o := range strings.Split(extra, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go durations ("45s") or plain milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		if ms < 0 {
			return fallback
		}
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
