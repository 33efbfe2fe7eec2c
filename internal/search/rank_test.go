package search

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/david/grant-aggregator/internal/models"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func rankFixture() []models.Grant {
	return []models.Grant{
		{ID: "1", Title: "Bonos comercio", Organization: "Ayuntamiento", Amount: 200, Status: models.LifecycleClosed, OpeningDate: date(2025, 1, 10)},
		{ID: "2", Title: "ayudas pymes", Organization: "Ministerio", Amount: 5000, Status: models.LifecycleOpen},
		{ID: "3", Title: "Ayudas I+D", Organization: "CDTI", Amount: 5000, Status: models.LifecycleOpen, OpeningDate: date(2026, 2, 1)},
		{ID: "4", Title: "Startups", Organization: "ENISA", Amount: 100000, Status: models.LifecycleUpcoming, OpeningDate: date(2026, 6, 1)},
		{ID: "5", Title: "Empleo rural", Organization: "Junta", Amount: 800, Status: models.LifecycleOpen, OpeningDate: date(2026, 1, 15)},
	}
}

func ids(grants []models.Grant) []string {
	out := make([]string, len(grants))
	for i, g := range grants {
		out[i] = g.ID
	}
	return out
}

func TestSort(t *testing.T) {
	tests := []struct {
		field SortField
		dir   SortDirection
		want  []string
	}{
		{SortRelevance, SortDesc, []string{"3", "2", "5", "4", "1"}},
		{SortRelevance, SortAsc, []string{"1", "4", "5", "3", "2"}},
		{SortAmount, SortDesc, []string{"4", "3", "2", "5", "1"}},
		{SortAmount, SortAsc, []string{"1", "5", "3", "2", "4"}},
		{SortTitle, SortAsc, []string{"3", "2", "1", "5", "4"}},
		{SortOrganization, SortAsc, []string{"1", "3", "4", "5", "2"}},
		{SortOpeningDate, SortDesc, []string{"4", "3", "5", "1", "2"}},
		{SortOpeningDate, SortAsc, []string{"1", "5", "3", "4", "2"}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s", tt.field, tt.dir), func(t *testing.T) {
			grants := rankFixture()
			Sort(grants, tt.field, tt.dir)
			if diff := cmp.Diff(tt.want, ids(grants)); diff != "" {
				t.Errorf("order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSortIsDeterministic(t *testing.T) {
	for _, field := range []SortField{SortRelevance, SortAmount, SortTitle, SortOrganization, SortOpeningDate} {
		a := rankFixture()
		b := rankFixture()
		// Same records, different input order.
		b[0], b[4] = b[4], b[0]
		b[1], b[3] = b[3], b[1]

		Sort(a, field, SortDesc)
		Sort(b, field, SortDesc)
		assert.Empty(t, cmp.Diff(a, b), "field %s", field)

		again := append([]models.Grant(nil), a...)
		Sort(again, field, SortDesc)
		assert.Empty(t, cmp.Diff(a, again), "field %s", field)
	}
}

func TestSortFallsBackToIDForIdenticalRecords(t *testing.T) {
	grants := []models.Grant{
		{ID: "z", Title: "Misma", Organization: "Org", Amount: 10},
		{ID: "a", Title: "misma", Organization: "org", Amount: 10},
	}
	Sort(grants, SortTitle, SortAsc)
	assert.Equal(t, []string{"a", "z"}, ids(grants))
}
