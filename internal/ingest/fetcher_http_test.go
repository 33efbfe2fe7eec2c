package ingest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localSource(url string) SourceDescriptor {
	return SourceDescriptor{
		ID:             "local",
		BaseURL:        url,
		AcceptLanguage: "es-ES",
		APIKey:         "k-123",
	}
}

func TestBuildURLMergesParams(t *testing.T) {
	got, err := BuildURL("https://example.org/api?format=json", QueryParams{Query: " digital ", Region: "Madrid", MinAmount: 1000, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/api?cuantia_min=1000&format=json&page=2&q=digital&region=Madrid", got)

	_, err = BuildURL("ftp://example.org", QueryParams{})
	assert.True(t, errors.Is(err, ErrInvalidBaseURL))
}

func TestHTTPTransportFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ayudas", r.URL.Query().Get("q"))
		assert.Equal(t, "es-ES", r.Header.Get("Accept-Language"))
		assert.Equal(t, "k-123", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPTransportOptions{AllowPrivateNetworks: true})
	body, err := tr.Fetch(context.Background(), localSource(srv.URL), QueryParams{Query: "ayudas"})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))
}

func TestHTTPTransportStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPTransportOptions{AllowPrivateNetworks: true})
	_, err := tr.Fetch(context.Background(), localSource(srv.URL), QueryParams{})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.True(t, se.Retryable())
	assert.NotContains(t, se.URL, "?")
}

func TestHTTPTransportBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPTransportOptions{AllowPrivateNetworks: true, MaxBodyBytes: 1024})
	_, err := tr.Fetch(context.Background(), localSource(srv.URL), QueryParams{})
	assert.True(t, errors.Is(err, ErrBodyTooLarge))
}

func TestHTTPTransportHonoursContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	tr := NewHTTPTransport(HTTPTransportOptions{AllowPrivateNetworks: true})
	_, err := tr.Fetch(ctx, localSource(srv.URL), QueryParams{})
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestHTTPTransportBlocksPrivateNetworks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPTransportOptions{})
	_, err := tr.Fetch(context.Background(), localSource(srv.URL), QueryParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked private IP")
}

func TestIsPrivateIP(t *testing.T) {
	for _, ip := range []string{"127.0.0.1", "10.1.2.3", "172.20.0.1", "192.168.1.1", "169.254.169.254", "::1", "fd00::1"} {
		assert.True(t, isPrivateIP(net.ParseIP(ip)), ip)
	}
	for _, ip := range []string{"8.8.8.8", "2001:4860:4860::8888"} {
		assert.False(t, isPrivateIP(net.ParseIP(ip)), ip)
	}
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, shouldRetry(nil, 429))
	assert.True(t, shouldRetry(nil, 502))
	assert.False(t, shouldRetry(nil, 404))
	assert.False(t, shouldRetry(context.Canceled, 0))
	assert.True(t, shouldRetry(errors.New("connection reset by peer"), 0))
	assert.False(t, shouldRetry(&StatusError{StatusCode: 400}, 0))
}

type flakyTransport struct {
	calls    atomic.Int32
	failures int32
	err      error
}

func (f *flakyTransport) Fetch(ctx context.Context, _ SourceDescriptor, _ QueryParams) ([]byte, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, f.err
	}
	return []byte("ok"), nil
}

func TestFetchWithRetry(t *testing.T) {
	old := retryBaseDelay
	retryBaseDelay = time.Millisecond
	t.Cleanup(func() { retryBaseDelay = old })

	ctx := context.Background()

	flaky := &flakyTransport{failures: 2, err: &StatusError{StatusCode: 503}}
	body, err := FetchWithRetry(ctx, flaky, SourceDescriptor{Retries: 2}, QueryParams{})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.EqualValues(t, 3, flaky.calls.Load())

	exhausted := &flakyTransport{failures: 5, err: &StatusError{StatusCode: 503}}
	_, err = FetchWithRetry(ctx, exhausted, SourceDescriptor{Retries: 1}, QueryParams{})
	require.Error(t, err)
	assert.EqualValues(t, 2, exhausted.calls.Load())

	permanent := &flakyTransport{failures: 5, err: &StatusError{StatusCode: 404}}
	_, err = FetchWithRetry(ctx, permanent, SourceDescriptor{Retries: 3}, QueryParams{})
	require.Error(t, err)
	assert.EqualValues(t, 1, permanent.calls.Load())

	unresolved := &flakyTransport{failures: 5, err: &StatusError{StatusCode: 503}}
	_, err = FetchWithRetry(ctx, unresolved, SourceDescriptor{Retries: InheritRetries}, QueryParams{})
	require.Error(t, err)
	assert.EqualValues(t, 1, unresolved.calls.Load())
}

func TestCollyTransportFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><li class="tramit"><h3>Ajut</h3></li></body></html>`))
	}))
	defer srv.Close()

	tr := NewCollyTransport(HTTPTransportOptions{AllowPrivateNetworks: true})
	tr.DomainDelay = 0

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	body, err := tr.Fetch(ctx, localSource(srv.URL), QueryParams{Query: "ajuts"})
	require.NoError(t, err)
	assert.Contains(t, string(body), "Ajut")

	_, err = tr.Fetch(ctx, localSource(srv.URL+"/missing"), QueryParams{})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}
