package search

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/david/grant-aggregator/internal/metrics"
	"github.com/david/grant-aggregator/internal/models"
)

// Deduplicator collapses records describing the same call.
type Deduplicator interface {
	Dedupe(grants []models.Grant) ([]models.Grant, int)
}

// KeyDeduplicator keeps the first record seen per key. Records arrive in
// source priority order, so the most trusted copy survives.
type KeyDeduplicator struct {
	Key func(models.Grant) string
}

func NewKeyDeduplicator() KeyDeduplicator {
	return KeyDeduplicator{Key: CompositeKey}
}

func (d KeyDeduplicator) Dedupe(grants []models.Grant) ([]models.Grant, int) {
	key := d.Key
	if key == nil {
		key = CompositeKey
	}
	seen := make(map[string]struct{}, len(grants))
	out := make([]models.Grant, 0, len(grants))
	for _, g := range grants {
		k := key(g)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, g)
	}
	removed := len(grants) - len(out)
	if removed > 0 {
		metrics.DuplicatesRemovedTotal.Add(float64(removed))
	}
	return out, removed
}

// CompositeKey identifies a call by folded title and organization plus the
// registry code and amount. It is a heuristic: two distinct calls with the
// same title, organization and amount collapse into one.
func CompositeKey(g models.Grant) string {
	return strings.Join([]string{
		foldText(g.Title),
		foldText(g.Organization),
		strings.ToUpper(strings.TrimSpace(g.RegistryCode)),
		strconv.FormatFloat(g.Amount, 'f', 2, 64),
	}, "\x1f")
}

// foldText normalizes to NFC, case-folds and collapses whitespace.
func foldText(s string) string {
	s = cases.Fold().String(norm.NFC.String(s))
	return strings.Join(strings.Fields(s), " ")
}
