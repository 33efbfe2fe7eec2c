package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/david/grant-aggregator/internal/models"
)

func TestFiltersMatch(t *testing.T) {
	g := models.Grant{
		Title:        "Ayudas al comercio",
		Organization: "Gobierno de Aragón",
		Amount:       15000,
		Region:       "Aragón",
		Status:       models.LifecycleOpen,
		Categories:   []string{"Comercio minorista"},
		Sectors:      []string{"Servicios"},
	}

	tests := []struct {
		name   string
		filter Filters
		want   bool
	}{
		{"empty", Filters{}, true},
		{"region case-insensitive", Filters{Region: "ARAGÓN"}, true},
		{"other region", Filters{Region: "Galicia"}, false},
		{"organization substring", Filters{Organization: "gobierno"}, true},
		{"organization mismatch", Filters{Organization: "Xunta"}, false},
		{"amount inside range", Filters{MinAmount: 10000, MaxAmount: 20000}, true},
		{"amount below min", Filters{MinAmount: 20000}, false},
		{"amount above max", Filters{MaxAmount: 1000}, false},
		{"status", Filters{Status: models.LifecycleOpen}, true},
		{"status mismatch", Filters{Status: models.LifecycleClosed}, false},
		{"category", Filters{Category: "comercio"}, true},
		{"category mismatch", Filters{Category: "turismo"}, false},
		{"sector", Filters{Sector: "servicios"}, true},
		{"sector mismatch", Filters{Sector: "industria"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(g))
		})
	}
}

func TestRegionFilterKeepsNationalCalls(t *testing.T) {
	national := models.Grant{Region: "Nacional"}
	assert.True(t, Filters{Region: "Galicia"}.Match(national))
}

func TestApplyFiltersWithQuery(t *testing.T) {
	grants := []models.Grant{
		{ID: "1", Title: "Ayudas a la DIGITALIZACIÓN", Organization: "Red.es"},
		{ID: "2", Title: "Bonos comercio", Description: "Para la digitalización del comercio"},
		{ID: "3", Title: "Empleo rural"},
	}

	out := applyFilters(grants, queryTerms("digitalización"), Filters{})
	assert.Equal(t, []string{"1", "2"}, ids(out))

	out = applyFilters(grants, queryTerms("comercio digitalización"), Filters{})
	assert.Equal(t, []string{"2"}, ids(out))

	out = applyFilters(grants, nil, Filters{})
	assert.Len(t, out, 3)
}
