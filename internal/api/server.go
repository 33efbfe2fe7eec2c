package api

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/david/grant-aggregator/internal/db"
	"github.com/david/grant-aggregator/internal/ingest"
	"github.com/david/grant-aggregator/internal/metrics"
	"github.com/david/grant-aggregator/internal/models"
	"github.com/david/grant-aggregator/internal/search"
)

// RunStore is the read side of the search audit log.
type RunStore interface {
	RecentRuns(ctx context.Context, f db.RunFilter) ([]db.SearchRun, error)
	SourceFailures(ctx context.Context, since time.Time) ([]db.SourceFailureCount, error)
}

type Options struct {
	AdminSecret string
	CORSOrigins []string
	Runs        RunStore // optional
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
}

type Server struct {
	Echo *echo.Echo

	engine      *search.Engine
	runs        RunStore
	logger      *zap.Logger
	adminSecret string
}

type errorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code,omitempty"`
	Retryable bool           `json:"retryable"`
	Result    *search.Result `json:"result,omitempty"`
}

func NewServer(engine *search.Engine, opts Options) (*Server, error) {
	if engine == nil {
		return nil, errors.New("api: engine is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	secret := strings.TrimSpace(opts.AdminSecret)
	if secret == "" {
		var err error
		if secret, err = ephemeralSecret(); err != nil {
			return nil, err
		}
		logger.Warn("ADMIN_SECRET is not set; using ephemeral in-memory fallback secret")
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
	e.Use(metricsMiddleware)

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:4200"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	s := &Server{
		Echo:        e,
		engine:      engine,
		runs:        opts.Runs,
		logger:      logger,
		adminSecret: secret,
	}
	s.routes(gatherer)
	return s, nil
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.Echo.GET("/health", s.handleHealth)
	s.Echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := s.Echo.Group("/api/v1")
	api.GET("/search", s.handleSearch)
	api.POST("/search", s.handleSearchJSON)
	api.GET("/sources", s.handleGetSources)

	admin := api.Group("")
	admin.Use(s.adminMiddleware)
	admin.GET("/config", s.handleGetConfig)
	admin.PATCH("/config", s.handlePatchConfig)
	admin.DELETE("/cache", s.handleClearCache)
	admin.PUT("/sources/:id/health", s.handleUpdateHealth)
	if s.runs != nil {
		admin.GET("/runs", s.handleListRuns)
		admin.GET("/runs/failures", s.handleSourceFailures)
	}
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	sources := s.engine.Sources()
	enabled := 0
	for _, src := range sources {
		if src.Enabled {
			enabled++
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":          "ok",
		"sources":         len(sources),
		"enabled_sources": enabled,
	})
}

func (s *Server) handleSearch(c echo.Context) error {
	filters := search.Filters{
		Region:       strings.TrimSpace(c.QueryParam("region")),
		Organization: strings.TrimSpace(c.QueryParam("organization")),
		Category:     strings.TrimSpace(c.QueryParam("category")),
		Sector:       strings.TrimSpace(c.QueryParam("sector")),
		Status:       models.Lifecycle(strings.ToLower(strings.TrimSpace(c.QueryParam("status")))),
	}
	if v, err := strconv.ParseFloat(c.QueryParam("min_amount"), 64); err == nil && v > 0 {
		filters.MinAmount = v
	}
	if v, err := strconv.ParseFloat(c.QueryParam("max_amount"), 64); err == nil && v > 0 {
		filters.MaxAmount = v
	}

	opts := s.engine.DefaultOptions()
	if v, ok := parseBool(c.QueryParam("aggregate")); ok {
		opts.EnableAggregation = search.Bool(v)
	}
	if v, ok := parseBool(c.QueryParam("dedup")); ok {
		opts.EnableDeduplication = search.Bool(v)
	}
	if v, ok := parseBool(c.QueryParam("regional")); ok {
		opts.EnableRegionalSources = search.Bool(v)
	}
	if v, ok := parseBool(c.QueryParam("cache")); ok {
		opts.EnableCache = search.Bool(v)
	}
	if v, err := strconv.Atoi(c.QueryParam("max_sources")); err == nil {
		opts.MaxSources = v
	}
	if v, err := strconv.Atoi(c.QueryParam("max_parallel_requests")); err == nil {
		opts.MaxParallelRequests = v
	}
	if v, err := strconv.Atoi(c.QueryParam("timeout_ms")); err == nil {
		opts.Timeout = time.Duration(v) * time.Millisecond
	}
	if v := c.QueryParam("sort"); v != "" {
		opts.SortBy = search.SortField(v)
	}
	if v := c.QueryParam("direction"); v != "" {
		opts.SortDirection = search.SortDirection(strings.ToLower(v))
	}
	if v, err := strconv.Atoi(c.QueryParam("page")); err == nil {
		opts.Page = v
	}
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil {
		opts.Limit = v
	}

	return s.runSearch(c, c.QueryParam("q"), filters, opts)
}

type searchRequest struct {
	Query   string          `json:"query"`
	Filters search.Filters  `json:"filters"`
	Options *optionsRequest `json:"options,omitempty"`
}

type optionsRequest struct {
	EnableAggregation     *bool   `json:"enable_aggregation,omitempty"`
	EnableDeduplication   *bool   `json:"enable_deduplication,omitempty"`
	EnableRegionalSources *bool   `json:"enable_regional_sources,omitempty"`
	EnableCache           *bool   `json:"enable_cache,omitempty"`
	MaxParallelRequests   *int    `json:"max_parallel_requests,omitempty"`
	TimeoutMS             *int64  `json:"timeout_ms,omitempty"`
	MaxSources            *int    `json:"max_sources,omitempty"`
	SortBy                *string `json:"sort_by,omitempty"`
	SortDirection         *string `json:"sort_direction,omitempty"`
	Page                  *int    `json:"page,omitempty"`
	Limit                 *int    `json:"limit,omitempty"`
}

func (r *optionsRequest) apply(opts search.Options) search.Options {
	if r == nil {
		return opts
	}
	if r.EnableAggregation != nil {
		opts.EnableAggregation = r.EnableAggregation
	}
	if r.EnableDeduplication != nil {
		opts.EnableDeduplication = r.EnableDeduplication
	}
	if r.EnableRegionalSources != nil {
		opts.EnableRegionalSources = r.EnableRegionalSources
	}
	if r.EnableCache != nil {
		opts.EnableCache = r.EnableCache
	}
	if r.MaxParallelRequests != nil {
		opts.MaxParallelRequests = *r.MaxParallelRequests
	}
	if r.TimeoutMS != nil {
		opts.Timeout = time.Duration(*r.TimeoutMS) * time.Millisecond
	}
	if r.MaxSources != nil {
		opts.MaxSources = *r.MaxSources
	}
	if r.SortBy != nil {
		opts.SortBy = search.SortField(*r.SortBy)
	}
	if r.SortDirection != nil {
		opts.SortDirection = search.SortDirection(*r.SortDirection)
	}
	if r.Page != nil {
		opts.Page = *r.Page
	}
	if r.Limit != nil {
		opts.Limit = *r.Limit
	}
	return opts
}

func (s *Server) handleSearchJSON(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	return s.runSearch(c, req.Query, req.Filters, req.Options.apply(s.engine.DefaultOptions()))
}

func (s *Server) runSearch(c echo.Context, query string, filters search.Filters, opts search.Options) error {
	res, err := s.engine.Search(c.Request().Context(), query, filters, opts)
	if err == nil {
		return c.JSON(http.StatusOK, res)
	}

	if errors.Is(err, search.ErrInvalidOptions) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	var ae *search.AggregationError
	if errors.As(err, &ae) {
		status := http.StatusBadGateway
		if ae.Retryable || ae.Code == search.CodeNoSources {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, errorResponse{
			Error:     ae.Error(),
			Code:      ae.Code,
			Retryable: ae.Retryable,
			Result:    res,
		})
	}
	s.logger.Error("search failed", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal Server Error"})
}

func (s *Server) handleGetSources(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Sources())
}

// configView reports durations in human units.
type configView struct {
	TimeoutMS             int64 `json:"timeout_ms"`
	Retries               int   `json:"retries"`
	MaxParallelRequests   int   `json:"max_parallel_requests"`
	NationalTTLSeconds    int64 `json:"national_ttl_seconds"`
	RegionalTTLSeconds    int64 `json:"regional_ttl_seconds"`
	EnableAggregation     bool  `json:"enable_aggregation"`
	EnableDeduplication   bool  `json:"enable_deduplication"`
	EnableRegionalSources bool  `json:"enable_regional_sources"`
	EnableCache           bool  `json:"enable_cache"`
}

func newConfigView(cfg search.Config) configView {
	return configView{
		TimeoutMS:             cfg.Timeout.Milliseconds(),
		Retries:               cfg.Retries,
		MaxParallelRequests:   cfg.MaxParallelRequests,
		NationalTTLSeconds:    int64(cfg.NationalTTL / time.Second),
		RegionalTTLSeconds:    int64(cfg.RegionalTTL / time.Second),
		EnableAggregation:     cfg.EnableAggregation,
		EnableDeduplication:   cfg.EnableDeduplication,
		EnableRegionalSources: cfg.EnableRegionalSources,
		EnableCache:           cfg.EnableCache,
	}
}

type configPatchRequest struct {
	TimeoutMS             *int64                        `json:"timeout_ms,omitempty"`
	Retries               *int                          `json:"retries,omitempty"`
	MaxParallelRequests   *int                          `json:"max_parallel_requests,omitempty"`
	NationalTTLSeconds    *int64                        `json:"national_ttl_seconds,omitempty"`
	RegionalTTLSeconds    *int64                        `json:"regional_ttl_seconds,omitempty"`
	EnableAggregation     *bool                         `json:"enable_aggregation,omitempty"`
	EnableDeduplication   *bool                         `json:"enable_deduplication,omitempty"`
	EnableRegionalSources *bool                         `json:"enable_regional_sources,omitempty"`
	EnableCache           *bool                         `json:"enable_cache,omitempty"`
	Sources               map[string]search.SourcePatch `json:"sources,omitempty"`
}

func (r configPatchRequest) patch() search.ConfigPatch {
	p := search.ConfigPatch{
		Retries:               r.Retries,
		MaxParallelRequests:   r.MaxParallelRequests,
		EnableAggregation:     r.EnableAggregation,
		EnableDeduplication:   r.EnableDeduplication,
		EnableRegionalSources: r.EnableRegionalSources,
		EnableCache:           r.EnableCache,
		Sources:               r.Sources,
	}
	p.Timeout = scaled(r.TimeoutMS, time.Millisecond)
	p.NationalTTL = scaled(r.NationalTTLSeconds, time.Second)
	p.RegionalTTL = scaled(r.RegionalTTLSeconds, time.Second)
	return p
}

func scaled(v *int64, unit time.Duration) *time.Duration {
	if v == nil {
		return nil
	}
	d := time.Duration(*v) * unit
	return &d
}

func (s *Server) handleGetConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, newConfigView(s.engine.Configuration()))
}

func (s *Server) handlePatchConfig(c echo.Context) error {
	var req configPatchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if err := s.engine.UpdateConfiguration(req.patch()); err != nil {
		if errors.Is(err, ingest.ErrUnknownSource) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, newConfigView(s.engine.Configuration()))
}

func (s *Server) handleClearCache(c echo.Context) error {
	if err := s.engine.ClearCache(c.Request().Context()); err != nil {
		s.logger.Error("clear cache failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error(), Retryable: true})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleUpdateHealth(c echo.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	id := c.Param("id")
	if err := s.engine.UpdateHealth(id, ingest.HealthStatus(strings.ToLower(strings.TrimSpace(body.Status)))); err != nil {
		if errors.Is(err, ingest.ErrUnknownSource) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	for _, src := range s.engine.Sources() {
		if src.ID == id {
			return c.JSON(http.StatusOK, src)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListRuns(c echo.Context) error {
	f := db.RunFilter{
		Query:     c.QueryParam("q"),
		Source:    c.QueryParam("source"),
		ErroredOn: c.QueryParam("errored_on"),
	}
	f.FailedOnly, _ = parseBool(c.QueryParam("failed"))
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil {
		f.Limit = v
	}
	if v, err := strconv.Atoi(c.QueryParam("offset")); err == nil {
		f.Offset = v
	}
	if v, err := strconv.ParseFloat(c.QueryParam("min_quality"), 64); err == nil {
		f.MinQuality = v
	}
	if raw := c.QueryParam("since"); raw != "" {
		since, err := parseSince(raw, time.Now())
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		}
		f.Since = since
	}

	runs, err := s.runs.RecentRuns(c.Request().Context(), f)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal Server Error", Retryable: true})
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleSourceFailures(c echo.Context) error {
	raw := c.QueryParam("since")
	if raw == "" {
		raw = "24h"
	}
	since, err := parseSince(raw, time.Now())
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	counts, err := s.runs.SourceFailures(c.Request().Context(), since)
	if err != nil {
		s.logger.Error("source failures failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal Server Error", Retryable: true})
	}
	return c.JSON(http.StatusOK, counts)
}

// parseSince accepts an RFC 3339 timestamp or a lookback duration ("24h").
func parseSince(raw string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return time.Time{}, fmt.Errorf("invalid since %q", raw)
	}
	return now.Add(-d), nil
}

func parseBool(raw string) (bool, bool) {
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}
		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request().Method
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Response().Status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		return nil
	}
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Check X-Admin-Secret header or Bearer token
		if s.secretMatches(c.Request().Header.Get("X-Admin-Secret")) {
			return next(c)
		}
		authHeader := c.Request().Header.Get("Authorization")
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			if s.secretMatches(authHeader[7:]) {
				return next(c)
			}
		}
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "Unauthorized admin access"})
	}
}

func (s *Server) secretMatches(candidate string) bool {
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(s.adminSecret)) == 1
}

func ephemeralSecret() (string, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate ADMIN_SECRET fallback: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
