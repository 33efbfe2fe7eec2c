package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSourcesEmbeddedDefault(t *testing.T) {
	descs, err := LoadSources("")
	require.NoError(t, err)
	require.NotEmpty(t, descs)

	byID := map[string]SourceDescriptor{}
	for _, d := range descs {
		byID[d.ID] = d
	}
	bdns := byID["bdns"]
	assert.Equal(t, PriorityMaxima, bdns.Priority)
	assert.Equal(t, AdapterBDNS, bdns.Adapter)
	assert.Equal(t, TransportHTTP, bdns.Transport)
	assert.True(t, bdns.IsNational())
	assert.Equal(t, "EUR", bdns.Currency)

	assert.Equal(t, TransportColly, byID["catalunya"].Transport)
	assert.False(t, byID["galicia"].Enabled)
}

func TestLoadSourcesFromFileWithEnv(t *testing.T) {
	t.Setenv("TEST_GRANTS_KEY", "secret-key")
	path := filepath.Join(t.TempDir(), "sources.yaml")
	yml := `sources:
  - id: local
    name: Local
    region: Nacional
    priority: ALTA
    base_url: https://example.org/api
    api_key: ${TEST_GRANTS_KEY}
    fetch:
      timeout_ms: 2500
      retries: 1
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	descs, err := LoadSources(path)
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "secret-key", descs[0].APIKey)
	assert.Equal(t, AdapterGeneric, descs[0].Adapter)
	assert.Equal(t, 2500*time.Millisecond, descs[0].Timeout)
	assert.Equal(t, 1, descs[0].Retries)
	assert.True(t, descs[0].Enabled)
}

func TestParseSourcesKeepsExplicitZeroRetries(t *testing.T) {
	descs, err := ParseSources([]byte(`sources:
  - {id: a, name: A, region: Nacional, priority: ALTA, base_url: 'https://a.org', fetch: {retries: 0}}
  - {id: b, name: B, region: Nacional, priority: ALTA, base_url: 'https://b.org'}
`))
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Zero(t, descs[0].Retries)
	assert.Equal(t, InheritRetries, descs[1].Retries)

	r, err := NewRegistry(descs)
	require.NoError(t, err)
	r.ApplyDefaults(0, 3)
	a, _ := r.Get("a")
	b, _ := r.Get("b")
	assert.Zero(t, a.Retries)
	assert.Equal(t, 3, b.Retries)
}

func TestParseSourcesValidation(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{"bad priority", "sources:\n  - {id: a, name: A, region: Nacional, priority: URGENT, base_url: 'https://a.org'}\n"},
		{"missing id", "sources:\n  - {name: A, region: Nacional, priority: ALTA, base_url: 'https://a.org'}\n"},
		{"bad url", "sources:\n  - {id: a, name: A, region: Nacional, priority: ALTA, base_url: 'not a url'}\n"},
		{"broken yaml", "sources: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSources([]byte(tt.yml))
			assert.Error(t, err)
		})
	}

	_, err := ParseSources([]byte("sources:\n  - {id: a, name: A, region: Nacional, priority: ALTA, base_url: 'https://a.org'}\n  - {id: a, name: B, region: Nacional, priority: ALTA, base_url: 'https://b.org'}\n"))
	assert.True(t, errors.Is(err, ErrDuplicateID))
}

func TestValidatePayload(t *testing.T) {
	assert.NoError(t, ValidatePayload("", []byte("anything")))
	assert.NoError(t, ValidatePayload("bdns", []byte(`{"content":[{"id":1,"descripcion":"Ayuda"}],"totalElements":1}`)))

	err := ValidatePayload("bdns", []byte(`{"items":[]}`))
	assert.True(t, errors.Is(err, ErrSchemaViolation))

	err = ValidatePayload("ckan", []byte(`{"success":false,"result":{"results":[]}}`))
	assert.True(t, errors.Is(err, ErrSchemaViolation))

	assert.Error(t, ValidatePayload("missing-schema", []byte(`{}`)))
}
