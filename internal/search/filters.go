package search

import (
	"strings"

	"github.com/david/grant-aggregator/internal/ingest"
	"github.com/david/grant-aggregator/internal/models"
)

// Match reports whether g passes every non-empty filter. National calls
// match any region filter since they apply country-wide.
func (f Filters) Match(g models.Grant) bool {
	if f.Region != "" {
		region := foldText(g.Region)
		if region != foldText(f.Region) && region != foldText(ingest.NationalRegion) {
			return false
		}
	}
	if f.Organization != "" && !strings.Contains(foldText(g.Organization), foldText(f.Organization)) {
		return false
	}
	if f.MinAmount > 0 && g.Amount < f.MinAmount {
		return false
	}
	if f.MaxAmount > 0 && g.Amount > f.MaxAmount {
		return false
	}
	if f.Status != "" && g.Status != f.Status {
		return false
	}
	if f.Category != "" && !anyContains(g.Categories, f.Category) {
		return false
	}
	if f.Sector != "" && !anyContains(g.Sectors, f.Sector) {
		return false
	}
	return true
}

func (f Filters) IsZero() bool {
	return f == Filters{}
}

func anyContains(list []string, needle string) bool {
	needle = foldText(needle)
	for _, it := range list {
		if strings.Contains(foldText(it), needle) {
			return true
		}
	}
	return false
}

// matchesQuery requires every query term to appear in the record text.
// Feeds and scraped listings return everything, so the free-text query is
// enforced locally as well.
func matchesQuery(g models.Grant, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	text := foldText(strings.Join([]string{
		g.Title, g.Description, g.Organization, g.RegistryCode,
		strings.Join(g.Categories, " "), strings.Join(g.Sectors, " "),
	}, " "))
	for _, t := range terms {
		if !strings.Contains(text, t) {
			return false
		}
	}
	return true
}

func queryTerms(query string) []string {
	return strings.Fields(foldText(query))
}

// applyFilters returns the grants matching both the query terms and f.
func applyFilters(grants []models.Grant, terms []string, f Filters) []models.Grant {
	if len(terms) == 0 && f.IsZero() {
		return grants
	}
	out := make([]models.Grant, 0, len(grants))
	for _, g := range grants {
		if matchesQuery(g, terms) && f.Match(g) {
			out = append(out, g)
		}
	}
	return out
}
