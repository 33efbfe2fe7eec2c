package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/david/grant-aggregator/internal/db"
	"github.com/david/grant-aggregator/internal/ingest"
	"github.com/david/grant-aggregator/internal/search"
)

const (
	testSecret    = "s3cret"
	stubTransport = "stub"
)

type stubFetcher struct {
	bodies map[string]string
	errs   map[string]error
}

func (f stubFetcher) Fetch(_ context.Context, src ingest.SourceDescriptor, _ ingest.QueryParams) ([]byte, error) {
	if err := f.errs[src.ID]; err != nil {
		return nil, err
	}
	return []byte(f.bodies[src.ID]), nil
}

type stubRuns struct {
	filter db.RunFilter
	runs   []db.SearchRun
	err    error
}

func (s *stubRuns) RecentRuns(_ context.Context, f db.RunFilter) ([]db.SearchRun, error) {
	s.filter = f
	return s.runs, s.err
}

func (s *stubRuns) SourceFailures(_ context.Context, _ time.Time) ([]db.SourceFailureCount, error) {
	return []db.SourceFailureCount{{SourceID: "regional", Failures: 2}}, s.err
}

func testSource(id string, priority ingest.Priority, region string) ingest.SourceDescriptor {
	return ingest.SourceDescriptor{
		ID:        id,
		Name:      "Fuente " + id,
		BaseURL:   "https://" + id + ".example.org/api",
		Region:    region,
		Priority:  priority,
		Enabled:   true,
		Timeout:   time.Second,
		Adapter:   ingest.AdapterGeneric,
		Transport: stubTransport,
		Currency:  "EUR",
	}
}

func newTestServer(t *testing.T, fetcher stubFetcher, runs RunStore) *Server {
	t.Helper()
	reg, err := ingest.NewRegistry([]ingest.SourceDescriptor{
		testSource("national", ingest.PriorityMaxima, ingest.NationalRegion),
		testSource("regional", ingest.PriorityAlta, "Aragón"),
	})
	require.NoError(t, err)
	engine, err := search.NewEngine(reg, ingest.DefaultAdapterFactory(),
		map[string]ingest.Transport{stubTransport: fetcher}, nil, zap.NewNop())
	require.NoError(t, err)

	opts := Options{AdminSecret: testSecret, Gatherer: prometheus.NewRegistry(), Logger: zap.NewNop()}
	if runs != nil {
		opts.Runs = runs
	}
	srv, err := NewServer(engine, opts)
	require.NoError(t, err)
	return srv
}

func healthyFetcher() stubFetcher {
	return stubFetcher{
		bodies: map[string]string{
			"national": `[{"id":"1","titulo":"Ayudas a la digitalización","organismo":"Ministerio","importe":1000}]`,
			"regional": `[{"id":"2","titulo":"Bonos comercio","organismo":"Gobierno de Aragón","importe":300},
				{"id":"3","titulo":"Ayudas a la digitalización","organismo":"Ministerio","importe":1000}]`,
		},
		errs: map[string]error{},
	}
}

func do(srv *Server, method, target, body string, admin bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if admin {
		req.Header.Set("X-Admin-Secret", testSecret)
	}
	rec := httptest.NewRecorder()
	srv.Echo.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, healthyFetcher(), nil)
	rec := do(srv, http.MethodGet, "/health", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"enabled_sources":2`)
}

func TestSearchGet(t *testing.T) {
	srv := newTestServer(t, healthyFetcher(), nil)
	rec := do(srv, http.MethodGet, "/api/v1/search?q=digitalizaci%C3%B3n", "", false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res search.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.TotalResults)
	assert.Equal(t, 1, res.DuplicatesRemoved)
	assert.Equal(t, []string{"national", "regional"}, res.SourcesUsed)
	require.Len(t, res.Grants, 1)
	assert.Equal(t, "national:1", res.Grants[0].ID)
}

func TestSearchGetWithOptions(t *testing.T) {
	srv := newTestServer(t, healthyFetcher(), nil)
	rec := do(srv, http.MethodGet, "/api/v1/search?dedup=false&sort=amount&direction=asc&limit=2&max_parallel_requests=1", "", false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res search.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 3, res.TotalResults)
	assert.True(t, res.HasMore)
	require.Len(t, res.Grants, 2)
	assert.Equal(t, 300.0, res.Grants[0].Amount)
}

func TestSearchPost(t *testing.T) {
	srv := newTestServer(t, healthyFetcher(), nil)
	body := `{"query":"","filters":{"organization":"aragón"},"options":{"enable_regional_sources":true}}`
	rec := do(srv, http.MethodPost, "/api/v1/search", body, false)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res search.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Grants, 1)
	assert.Equal(t, "regional:2", res.Grants[0].ID)
}

func TestSearchRejectsInvalidOptions(t *testing.T) {
	srv := newTestServer(t, healthyFetcher(), nil)

	rec := do(srv, http.MethodGet, "/api/v1/search?sort=popularity", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(srv, http.MethodGet, "/api/v1/search?status=archived", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(srv, http.MethodGet, "/api/v1/search?max_parallel_requests=51", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(srv, http.MethodGet, "/api/v1/search?page=2&limit=500", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(srv, http.MethodPost, "/api/v1/search", `{"query":`, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchAllSourcesFailed(t *testing.T) {
	f := healthyFetcher()
	f.errs["national"] = &ingest.StatusError{StatusCode: http.StatusServiceUnavailable, URL: "https://national.example.org/api"}
	f.errs["regional"] = &ingest.StatusError{StatusCode: http.StatusInternalServerError, URL: "https://regional.example.org/api"}
	srv := newTestServer(t, f, nil)

	rec := do(srv, http.MethodGet, "/api/v1/search", "", false)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, search.CodeAllSourcesFailed, body.Code)
	assert.True(t, body.Retryable)
	require.NotNil(t, body.Result)
	assert.ElementsMatch(t, []string{"national", "regional"}, body.Result.SourcesWithErrors)
}

func TestSearchNonRetryableFailure(t *testing.T) {
	// Undecodable payloads are permanent failures.
	f := stubFetcher{bodies: map[string]string{"national": "not json", "regional": "not json"}, errs: map[string]error{}}
	srv := newTestServer(t, f, nil)

	rec := do(srv, http.MethodGet, "/api/v1/search", "", false)
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Retryable)
}

func TestSources(t *testing.T) {
	srv := newTestServer(t, healthyFetcher(), nil)
	rec := do(srv, http.MethodGet, "/api/v1/sources", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var sources []ingest.SourceDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sources))
	require.Len(t, sources, 2)
	assert.Equal(t, "national", sources[0].ID)
}

func TestAdminRoutesRequireSecret(t *testing.T) {
	srv := newTestServer(t, healthyFetcher(), nil)

	rec := do(srv, http.MethodGet, "/api/v1/config", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	srv.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	req.Header.Set("Authorization", "bearer "+testSecret)
	rec = httptest.NewRecorder()
	srv.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConfigGetAndPatch(t *testing.T) {
	srv := newTestServer(t, healthyFetcher(), nil)

	rec := do(srv, http.MethodGet, "/api/v1/config", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var view configView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, int64(30000), view.TimeoutMS)
	assert.Equal(t, int64(900), view.NationalTTLSeconds)

	rec = do(srv, http.MethodPatch, "/api/v1/config",
		`{"timeout_ms":5000,"enable_cache":false,"sources":{"regional":{"enabled":false}}}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, int64(5000), view.TimeoutMS)
	assert.False(t, view.EnableCache)

	rec = do(srv, http.MethodGet, "/api/v1/search", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var res search.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, []string{"national"}, res.SourcesUsed)
}

func TestConfigPatchErrors(t *testing.T) {
	srv := newTestServer(t, healthyFetcher(), nil)

	rec := do(srv, http.MethodPatch, "/api/v1/config", `{"max_parallel_requests":99}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(srv, http.MethodPatch, "/api/v1/config", `{"sources":{"missing":{"enabled":true}}}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearCache(t *testing.T) {
	srv := newTestServer(t, healthyFetcher(), nil)
	rec := do(srv, http.MethodDelete, "/api/v1/cache", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateHealth(t *testing.T) {
	srv := newTestServer(t, healthyFetcher(), nil)

	rec := do(srv, http.MethodPut, "/api/v1/sources/regional/health", `{"status":"down"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var src ingest.SourceDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &src))
	assert.Equal(t, ingest.HealthDown, src.Health.Status)

	rec = do(srv, http.MethodPut, "/api/v1/sources/regional/health", `{"status":"sleepy"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(srv, http.MethodPut, "/api/v1/sources/nope/health", `{"status":"healthy"}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunsRoutes(t *testing.T) {
	runs := &stubRuns{runs: []db.SearchRun{{ID: "r1", Query: "comercio", TotalResults: 4}}}
	srv := newTestServer(t, healthyFetcher(), runs)

	rec := do(srv, http.MethodGet, "/api/v1/runs?q=comercio&errored_on=regional&failed=true&limit=5", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"id":"r1"`)
	assert.Equal(t, "comercio", runs.filter.Query)
	assert.Equal(t, "regional", runs.filter.ErroredOn)
	assert.True(t, runs.filter.FailedOnly)
	assert.Equal(t, 5, runs.filter.Limit)

	rec = do(srv, http.MethodGet, "/api/v1/runs?since=yesterday", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(srv, http.MethodGet, "/api/v1/runs/failures?since=1h", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"failures":2`)
}

func TestRunsRoutesAbsentWithoutStore(t *testing.T) {
	srv := newTestServer(t, healthyFetcher(), nil)
	rec := do(srv, http.MethodGet, "/api/v1/runs", "", true)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, healthyFetcher(), nil)
	rec := do(srv, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("2h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-2*time.Hour), got)

	got, err = parseSince("2026-02-01T00:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = parseSince("-1h", now)
	assert.Error(t, err)
}
