package search

import (
	"math"
	"time"

	"github.com/david/grant-aggregator/internal/ingest"
	"github.com/david/grant-aggregator/internal/models"
)

const (
	successWeight      = 0.4
	completenessWeight = 0.6
	trackedFields      = 10
)

// Summarize computes the statistics of one search from its per-source
// responses and the record counts before and after deduplication.
// Percentages are in [0,100]; latency is averaged over fetched (not cached)
// responses.
func Summarize(responses []SourceResponse, preDedup, postDedup int) Statistics {
	st := Statistics{
		TotalSources:      len(responses),
		TotalRecords:      preDedup,
		UniqueRecords:     postDedup,
		DuplicatesRemoved: max(preDedup-postDedup, 0),
		ByStatus:          make(map[models.Lifecycle]int),
		BySource:          make(map[string]int, len(responses)),
	}

	var latencySum time.Duration
	var fetched int
	var completenessSum float64
	var records int
	for _, r := range responses {
		st.BySource[r.SourceID] = len(r.Grants)
		if r.Failed() {
			st.ErroredSources++
			continue
		}
		st.ActiveSources++
		if r.Cached {
			st.CachedSources++
		} else {
			latencySum += r.Latency
			fetched++
		}
		for _, g := range r.Grants {
			completenessSum += completeness(g)
			records++
			st.ByStatus[g.Status]++
		}
	}

	if fetched > 0 {
		st.AverageLatency = latencySum / time.Duration(fetched)
	}
	if st.TotalSources > 0 {
		st.SuccessRate = percent(float64(st.ActiveSources) / float64(st.TotalSources))
		st.CacheHitRate = percent(float64(st.CachedSources) / float64(st.TotalSources))
	}
	if records > 0 {
		st.Completeness = percent(completenessSum / float64(records))
	}
	st.QualityScore = clampPercent(successWeight*st.SuccessRate + completenessWeight*st.Completeness)
	return st
}

// completeness is the fraction of the tracked fields a record carries.
func completeness(g models.Grant) float64 {
	present := 0
	for _, ok := range []bool{
		g.Title != "" && g.Title != ingest.Untitled,
		g.Description != "",
		g.Organization != "",
		g.Amount > 0,
		g.OpeningDate != nil,
		g.ClosingDate != nil,
		len(g.Beneficiaries) > 0,
		len(g.Categories) > 0,
		g.Region != "",
		g.SourceURL != "",
	} {
		if ok {
			present++
		}
	}
	return float64(present) / trackedFields
}

func percent(ratio float64) float64 {
	return clampPercent(math.Round(ratio*10000) / 100)
}

func clampPercent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return math.Round(v*100) / 100
}
