package ingest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const TransportColly = "colly"

// CollyTransport fetches HTML listing pages through a colly collector,
// which adds charset detection and per-domain politeness delays on top of
// plain HTTP.
type CollyTransport struct {
	UserAgent   string
	MaxBodySize int
	DomainDelay time.Duration

	roundTripper http.RoundTripper
	logger       *zap.Logger
}

// NewCollyTransport creates a CollyTransport with sensible defaults.
func NewCollyTransport(opts HTTPTransportOptions) *CollyTransport {
	t := &CollyTransport{
		UserAgent:    opts.UserAgent,
		MaxBodySize:  int(opts.MaxBodyBytes),
		DomainDelay:  500 * time.Millisecond,
		roundTripper: otelhttp.NewTransport(newBaseTransport(opts.AllowPrivateNetworks)),
		logger:       opts.Logger,
	}
	if t.UserAgent == "" {
		t.UserAgent = defaultUserAgent
	}
	if t.MaxBodySize <= 0 {
		t.MaxBodySize = defaultMaxBodyBytes
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	return t
}

// buildCollector creates a configured Colly collector bound to ctx.
func (f *CollyTransport) buildCollector(ctx context.Context, src SourceDescriptor) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(f.UserAgent),
		colly.MaxBodySize(f.MaxBodySize),
		colly.AllowURLRevisit(),
		colly.DetectCharset(),
		colly.StdlibContext(ctx),
	)
	c.WithTransport(f.roundTripper)

	delay := f.DomainDelay
	if src.RateLimitRPS > 0 {
		delay = time.Duration(float64(time.Second) / src.RateLimitRPS)
	}
	_ = c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       delay,
	})

	if deadline, ok := ctx.Deadline(); ok {
		c.SetRequestTimeout(time.Until(deadline))
	}

	c.OnRequest(func(r *colly.Request) {
		if src.AcceptLanguage != "" {
			r.Headers.Set("Accept-Language", src.AcceptLanguage)
		}
		if src.APIKey != "" {
			r.Headers.Set("X-API-Key", src.APIKey)
		}
	})
	return c
}

func (f *CollyTransport) Fetch(ctx context.Context, src SourceDescriptor, params QueryParams) ([]byte, error) {
	target, err := BuildURL(src.BaseURL, params)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := f.buildCollector(ctx, src)

	var body []byte
	var fetchErr error
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= 300 {
			fetchErr = &StatusError{StatusCode: r.StatusCode, URL: redactURL(target)}
			return
		}
		fetchErr = err
	})

	if err := c.Visit(target); err != nil && fetchErr == nil {
		fetchErr = err
	}
	c.Wait()

	if fetchErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("colly fetch: %w", ctx.Err())
		}
		return nil, fmt.Errorf("colly fetch: %w", fetchErr)
	}
	if body == nil {
		return nil, fmt.Errorf("no response received for %s", redactURL(target))
	}

	f.logger.Debug("scraped source", zap.String("source", src.ID), zap.Int("bytes", len(body)))
	return body, nil
}
