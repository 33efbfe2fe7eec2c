package search

import (
	"cmp"
	"slices"
	"time"

	"github.com/david/grant-aggregator/internal/models"
)

type rankItem struct {
	g     models.Grant
	title string
	org   string
}

// Sort orders grants in place. The order is total: equal primary keys fall
// back to lifecycle, amount, title, organization and finally ID, so sorting
// the same input twice always gives the same output.
//
// Records without an opening date go last for SortOpeningDate in either
// direction.
func Sort(grants []models.Grant, field SortField, dir SortDirection) {
	if len(grants) < 2 {
		return
	}
	items := make([]rankItem, len(grants))
	for i, g := range grants {
		items[i] = rankItem{g: g, title: foldText(g.Title), org: foldText(g.Organization)}
	}

	desc := dir != SortAsc
	slices.SortStableFunc(items, func(a, b rankItem) int {
		if field == SortOpeningDate {
			if c := nilDatesLast(a.g.OpeningDate, b.g.OpeningDate); c != 0 {
				return c
			}
		}
		c := primary(a, b, field)
		if desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return tieBreak(a, b)
	})

	for i := range items {
		grants[i] = items[i].g
	}
}

// primary compares on the sort field in ascending sense. For relevance,
// ascending means least relevant first.
func primary(a, b rankItem, field SortField) int {
	switch field {
	case SortAmount:
		return cmp.Compare(a.g.Amount, b.g.Amount)
	case SortTitle:
		return cmp.Compare(a.title, b.title)
	case SortOrganization:
		return cmp.Compare(a.org, b.org)
	case SortOpeningDate:
		if a.g.OpeningDate == nil || b.g.OpeningDate == nil {
			return 0
		}
		return a.g.OpeningDate.Compare(*b.g.OpeningDate)
	default:
		if c := cmp.Compare(b.g.Status.Rank(), a.g.Status.Rank()); c != 0 {
			return c
		}
		return cmp.Compare(a.g.Amount, b.g.Amount)
	}
}

func tieBreak(a, b rankItem) int {
	if c := cmp.Compare(a.g.Status.Rank(), b.g.Status.Rank()); c != 0 {
		return c
	}
	if c := cmp.Compare(b.g.Amount, a.g.Amount); c != 0 {
		return c
	}
	if c := cmp.Compare(a.title, b.title); c != 0 {
		return c
	}
	if c := cmp.Compare(a.org, b.org); c != 0 {
		return c
	}
	return cmp.Compare(a.g.ID, b.g.ID)
}

func nilDatesLast(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return 0
}
