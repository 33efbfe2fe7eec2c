package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	TransportHTTP = "http"

	defaultUserAgent    = "grant-aggregator/1.0 (+https://github.com/david/grant-aggregator)"
	defaultMaxBodyBytes = 10 << 20
)

var blockedPrefixStrings = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var blockedPrefixes = func() []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(blockedPrefixStrings))
	for _, s := range blockedPrefixStrings {
		if p, err := netip.ParsePrefix(s); err == nil {
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}()

var (
	ErrBodyTooLarge   = errors.New("response body too large")
	ErrInvalidBaseURL = errors.New("invalid base URL")
)

// HTTPTransportOptions configures NewHTTPTransport.
type HTTPTransportOptions struct {
	UserAgent    string
	MaxBodyBytes int64
	// AllowPrivateNetworks disables the private-address dial guard.
	// Only meant for tests against local servers.
	AllowPrivateNetworks bool
	Logger               *zap.Logger
}

// HTTPTransport fetches JSON/XML/HTML payloads over HTTP with a per-source
// rate limit. Timeouts come from the caller's context.
type HTTPTransport struct {
	client       *http.Client
	logger       *zap.Logger
	userAgent    string
	maxBodyBytes int64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewHTTPTransport(opts HTTPTransportOptions) *HTTPTransport {
	checkRedirect := safeCheckRedirect
	if opts.AllowPrivateNetworks {
		checkRedirect = nil
	}

	t := &HTTPTransport{
		client: &http.Client{
			Transport:     otelhttp.NewTransport(newBaseTransport(opts.AllowPrivateNetworks)),
			CheckRedirect: checkRedirect,
		},
		logger:       opts.Logger,
		userAgent:    opts.UserAgent,
		maxBodyBytes: opts.MaxBodyBytes,
		limiters:     make(map[string]*rate.Limiter),
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	if t.userAgent == "" {
		t.userAgent = defaultUserAgent
	}
	if t.maxBodyBytes <= 0 {
		t.maxBodyBytes = defaultMaxBodyBytes
	}
	return t
}

func newBaseTransport(allowPrivate bool) *http.Transport {
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           safeDialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if allowPrivate {
		base.DialContext = (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	}
	return base
}

// limiter returns the token bucket for a source, or nil when unlimited.
func (t *HTTPTransport) limiter(src SourceDescriptor) *rate.Limiter {
	if src.RateLimitRPS <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[src.ID]
	if !ok || float64(l.Limit()) != src.RateLimitRPS {
		l = rate.NewLimiter(rate.Limit(src.RateLimitRPS), 1)
		t.limiters[src.ID] = l
	}
	return l
}

// BuildURL merges the query params into the source base URL, keeping any
// parameters already present in it.
func BuildURL(baseURL string, params QueryParams) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidBaseURL, u.Scheme)
	}
	q := u.Query()
	for k, vs := range params.Values() {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *HTTPTransport) Fetch(ctx context.Context, src SourceDescriptor, params QueryParams) ([]byte, error) {
	target, err := BuildURL(src.BaseURL, params)
	if err != nil {
		return nil, err
	}

	if l := t.limiter(src); l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "application/json, application/rss+xml;q=0.9, application/xml;q=0.9, text/html;q=0.8, */*;q=0.5")
	if src.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", src.AcceptLanguage)
	}
	if src.APIKey != "" {
		req.Header.Set("X-API-Key", src.APIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: redactURL(target)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > t.maxBodyBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, t.maxBodyBytes)
	}

	t.logger.Debug("fetched source",
		zap.String("source", src.ID),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
	)
	return body, nil
}

// redactURL drops the query string so logs and errors never carry it.
func redactURL(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// safeDialContext wraps the default dialer to block private IPs
func safeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}

	for _, ip := range ips {
		if isPrivateIP(ip) {
			return nil, fmt.Errorf("blocked private IP: %s", ip)
		}
	}

	return d.DialContext(ctx, network, addr)
}

// isPrivateIP checks if an IP is in a private range or loopback/link-local
func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsLinkLocalMulticast() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}

	if addr, ok := netip.AddrFromSlice(ip); ok {
		for _, prefix := range blockedPrefixes {
			if prefix.Contains(addr.Unmap()) {
				return true
			}
		}
	}
	return false
}

// safeCheckRedirect limits redirects and validates destinations
func safeCheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after 10 redirects")
	}
	if req.URL == nil {
		return fmt.Errorf("invalid redirect URL")
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("redirect scheme blocked")
	}

	host := req.URL.Hostname()
	if host == "" {
		return fmt.Errorf("redirect host missing")
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".local") {
		return fmt.Errorf("redirect to internal host blocked")
	}
	ips, err := net.DefaultResolver.LookupIP(req.Context(), "ip", host)
	if err != nil {
		return err
	}
	if len(ips) == 0 {
		return fmt.Errorf("redirect host resolved to no addresses")
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("redirect to private IP blocked: %s", ip)
		}
	}

	return nil
}

// shouldRetry determines if an error or status code should trigger a retry
func shouldRetry(err error, statusCode int) bool {
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return shouldRetry(nil, se.StatusCode)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, ErrBodyTooLarge) || errors.Is(err, ErrInvalidBaseURL) {
			return false
		}
		// Timeouts and connection-level failures are transient.
		return true
	}

	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
