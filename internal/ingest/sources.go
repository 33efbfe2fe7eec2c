package ingest

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed config/sources.yaml config/schemas/*.json
var configFS embed.FS

// SourcesFile is the on-disk layout of the source catalog.
type SourcesFile struct {
	Sources []SourceConfig `yaml:"sources" validate:"dive"`
}

// FetchConfig defines HTTP fetching configuration for a source.
type FetchConfig struct {
	TimeoutMS      int     `yaml:"timeout_ms,omitempty" validate:"omitempty,min=1"`
	Retries        *int    `yaml:"retries,omitempty" validate:"omitempty,min=0,max=10"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps,omitempty" validate:"omitempty,gt=0"`
	AcceptLanguage string  `yaml:"accept_language,omitempty"` // e.g. "es-ES,es;q=0.9"
}

// SourceConfig defines a single data source as written in sources.yaml.
type SourceConfig struct {
	ID          string   `yaml:"id" validate:"required"`
	Name        string   `yaml:"name" validate:"required"`
	Region      string   `yaml:"region" validate:"required"`
	Priority    string   `yaml:"priority" validate:"required,oneof=MAXIMA ALTA MEDIA BAJA"`
	Enabled     *bool    `yaml:"enabled,omitempty"`
	BaseURL     string   `yaml:"base_url" validate:"required,url"`
	APIKey      string   `yaml:"api_key,omitempty"`
	Adapter     string   `yaml:"adapter,omitempty"`   // generic, bdns, ckan, rss, html
	Transport   string   `yaml:"transport,omitempty"` // http, colly
	Schema      string   `yaml:"schema,omitempty"`
	Currency    string   `yaml:"currency,omitempty"`
	DateLocales []string `yaml:"date_locales,omitempty"`
	Description string   `yaml:"description,omitempty"`

	Fetch FetchConfig `yaml:"fetch,omitempty"`

	// Only used by the html adapter.
	Selectors SelectorConfig `yaml:"selectors,omitempty"`
}

type SelectorConfig struct {
	Container    string `yaml:"container,omitempty"` // CSS selector for the list item wrapper
	Link         string `yaml:"link,omitempty"`
	LinkAttr     string `yaml:"link_attr,omitempty"` // default: href
	Title        string `yaml:"title,omitempty"`
	Organization string `yaml:"organization,omitempty"`
	Amount       string `yaml:"amount,omitempty"`
	OpeningDate  string `yaml:"opening_date,omitempty"`
	ClosingDate  string `yaml:"closing_date,omitempty"`
	Content      string `yaml:"content,omitempty"`
}

var configValidator = validator.New()

// LoadSources reads the catalog at path, or the embedded default when path
// is empty or missing. ${VAR} references are expanded from the environment.
func LoadSources(path string) ([]SourceDescriptor, error) {
	var data []byte
	var err error
	if strings.TrimSpace(path) != "" {
		data, err = os.ReadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read sources file %s: %w", path, err)
		}
	}
	if len(data) == 0 {
		data, err = configFS.ReadFile("config/sources.yaml")
		if err != nil {
			return nil, fmt.Errorf("read embedded sources: %w", err)
		}
	}
	return ParseSources(data)
}

// ParseSources decodes and validates a YAML catalog.
func ParseSources(data []byte) ([]SourceDescriptor, error) {
	expanded := os.ExpandEnv(string(data))

	var file SourcesFile
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("parse sources yaml: %w", err)
	}
	if err := configValidator.Struct(file); err != nil {
		return nil, fmt.Errorf("invalid sources config: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Sources))
	out := make([]SourceDescriptor, 0, len(file.Sources))
	for _, sc := range file.Sources {
		if _, dup := seen[sc.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, sc.ID)
		}
		seen[sc.ID] = struct{}{}
		out = append(out, sc.Descriptor())
	}
	return out, nil
}

// Descriptor converts the YAML entry to its runtime form.
func (sc SourceConfig) Descriptor() SourceDescriptor {
	enabled := true
	if sc.Enabled != nil {
		enabled = *sc.Enabled
	}
	adapter := strings.TrimSpace(sc.Adapter)
	if adapter == "" {
		adapter = AdapterGeneric
	}
	transport := strings.TrimSpace(sc.Transport)
	if transport == "" {
		transport = TransportHTTP
	}
	locales := sc.DateLocales
	if len(locales) == 0 {
		locales = []string{"es", "en"}
	}
	currency := sc.Currency
	if currency == "" {
		currency = "EUR"
	}
	lang := sc.Fetch.AcceptLanguage
	if lang == "" {
		lang = "es-ES,es;q=0.9,en;q=0.5"
	}
	retries := InheritRetries
	if sc.Fetch.Retries != nil {
		retries = *sc.Fetch.Retries
	}
	return SourceDescriptor{
		ID:             strings.TrimSpace(sc.ID),
		Name:           strings.TrimSpace(sc.Name),
		BaseURL:        strings.TrimSpace(sc.BaseURL),
		Region:         strings.TrimSpace(sc.Region),
		Priority:       Priority(strings.ToUpper(strings.TrimSpace(sc.Priority))),
		Enabled:        enabled,
		Timeout:        time.Duration(sc.Fetch.TimeoutMS) * time.Millisecond,
		Retries:        retries,
		Adapter:        adapter,
		Transport:      transport,
		Schema:         strings.TrimSpace(sc.Schema),
		RateLimitRPS:   sc.Fetch.RateLimitRPS,
		AcceptLanguage: lang,
		APIKey:         sc.APIKey,
		DateLocales:    locales,
		Currency:       currency,
		Selectors:      sc.Selectors,
		Health:         Health{Status: HealthUnknown},
	}
}
