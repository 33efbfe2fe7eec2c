package search

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/david/grant-aggregator/internal/models"
)

func completeGrant() models.Grant {
	return models.Grant{
		Title:         "Ayudas",
		Description:   "Descripción",
		Organization:  "Ministerio",
		Amount:        1000,
		OpeningDate:   date(2026, 1, 1),
		ClosingDate:   date(2026, 12, 31),
		Beneficiaries: []string{"Pymes"},
		Categories:    []string{"Industria"},
		Region:        "Nacional",
		SourceURL:     "https://example.org/1",
		Status:        models.LifecycleOpen,
	}
}

func TestSummarize(t *testing.T) {
	half := models.Grant{Title: "Sólo título", Organization: "Org", Amount: 10, Region: "Aragón", SourceURL: "https://x", Status: models.LifecycleClosed}

	responses := []SourceResponse{
		{SourceID: "a", Latency: 100 * time.Millisecond, Grants: []models.Grant{completeGrant(), completeGrant()}},
		{SourceID: "b", Cached: true, Grants: []models.Grant{half}},
		{SourceID: "c", Latency: 300 * time.Millisecond, Err: &SourceError{SourceID: "c", Kind: KindTimeout, Err: errors.New("timeout")}},
		{SourceID: "d", Latency: 200 * time.Millisecond, Grants: []models.Grant{completeGrant()}},
	}

	st := Summarize(responses, 4, 3)

	assert.Equal(t, 4, st.TotalSources)
	assert.Equal(t, 3, st.ActiveSources)
	assert.Equal(t, 1, st.ErroredSources)
	assert.Equal(t, 1, st.CachedSources)
	assert.Equal(t, 1, st.DuplicatesRemoved)
	assert.Equal(t, 150*time.Millisecond, st.AverageLatency)
	assert.Equal(t, 75.0, st.SuccessRate)
	assert.Equal(t, 25.0, st.CacheHitRate)
	// (1 + 1 + 0.5 + 1) / 4 records
	assert.Equal(t, 87.5, st.Completeness)
	assert.InDelta(t, 82.5, st.QualityScore, 1e-9)
	assert.Equal(t, 3, st.ByStatus[models.LifecycleOpen])
	assert.Equal(t, 1, st.ByStatus[models.LifecycleClosed])
	assert.Equal(t, 2, st.BySource["a"])
	assert.Zero(t, st.BySource["c"])
}

func TestSummarizeEmpty(t *testing.T) {
	st := Summarize(nil, 0, 0)
	assert.Zero(t, st.QualityScore)
	assert.Zero(t, st.SuccessRate)
	assert.Zero(t, st.AverageLatency)
}

func TestSummarizeAllFailed(t *testing.T) {
	st := Summarize([]SourceResponse{
		{SourceID: "a", Err: &SourceError{SourceID: "a", Kind: KindTransport}},
	}, 0, 0)
	assert.Equal(t, 1, st.ErroredSources)
	assert.Zero(t, st.QualityScore)
}

func TestCompletenessIgnoresPlaceholderTitle(t *testing.T) {
	assert.Equal(t, 1.0, completeness(completeGrant()))
	g := completeGrant()
	g.Title = "Sin título"
	assert.InDelta(t, 0.9, completeness(g), 1e-9)
}
