package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// RawGrant is the untrusted, unnormalized record an adapter extracts from a
// provider payload. Every value stays textual until Normalize parses it.
type RawGrant struct {
	ID              string
	RegistryCode    string
	Title           string
	Description     string
	Organization    string
	Amount          string
	AmountValue     *float64 // set when the provider sends a JSON number
	Currency        string
	OpeningDate     string
	ClosingDate     string
	Beneficiaries   []string
	Categories      []string
	Sectors         []string
	Region          string
	URL             string
	Status          string
	FinancingType   string
	AidIntensity    string
	Complexity      string
	Probability     string
	Competitiveness string

	// Flags holds explicit flag values keyed by flag name
	// (environmental, gender_equality, digital, circular_economy, youth, rural).
	Flags map[string]string
}

// QueryParams are the outbound search parameters sent to every provider.
type QueryParams struct {
	Query        string
	Region       string
	Organization string
	MinAmount    float64
	MaxAmount    float64
	Page         int
	Limit        int
}

// Values encodes the params with the provider-facing parameter names.
func (p QueryParams) Values() url.Values {
	v := url.Values{}
	v.Set("q", strings.TrimSpace(p.Query))
	if p.Region != "" {
		v.Set("region", p.Region)
	}
	if p.Organization != "" {
		v.Set("organismo", p.Organization)
	}
	if p.MinAmount > 0 {
		v.Set("cuantia_min", strconv.FormatFloat(p.MinAmount, 'f', -1, 64))
	}
	if p.MaxAmount > 0 {
		v.Set("cuantia_max", strconv.FormatFloat(p.MaxAmount, 'f', -1, 64))
	}
	page := p.Page
	if page <= 0 {
		page = 1
	}
	v.Set("page", strconv.Itoa(page))
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	return v
}

// Canonical renders the params in a case and whitespace insensitive form,
// suitable for cache keys.
func (p QueryParams) Canonical() string {
	page := p.Page
	if page <= 0 {
		page = 1
	}
	return strings.Join([]string{
		"q=" + strings.ToLower(normalizeSpace(p.Query)),
		"r=" + strings.ToLower(normalizeSpace(p.Region)),
		"o=" + strings.ToLower(normalizeSpace(p.Organization)),
		"min=" + strconv.FormatFloat(p.MinAmount, 'f', -1, 64),
		"max=" + strconv.FormatFloat(p.MaxAmount, 'f', -1, 64),
		"p=" + strconv.Itoa(page),
		"l=" + strconv.Itoa(p.Limit),
	}, "|")
}

// Transport retrieves the raw payload of one source for one query.
type Transport interface {
	Fetch(ctx context.Context, src SourceDescriptor, params QueryParams) ([]byte, error)
}

// Adapter decodes a provider payload into raw records.
type Adapter interface {
	Name() string
	Decode(body []byte, src SourceDescriptor) ([]RawGrant, error)
}

// StatusError is returned by transports when a provider answers with a
// non-success HTTP status.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.StatusCode, e.URL)
}

// Retryable reports whether the status is worth retrying later.
func (e *StatusError) Retryable() bool {
	return shouldRetry(nil, e.StatusCode)
}
