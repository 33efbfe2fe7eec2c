package ingest

import (
	"strings"

	"github.com/david/grant-aggregator/internal/models"
)

// Flag names accepted in RawGrant.Flags.
const (
	FlagEnvironmental   = "environmental"
	FlagGenderEquality  = "gender_equality"
	FlagDigital         = "digital"
	FlagCircularEconomy = "circular_economy"
	FlagYouth           = "youth"
	FlagRural           = "rural"
)

// flagSynonyms are the phrases that switch a flag on when found in the
// title, description or tags. Matching is done on lowercased text.
var flagSynonyms = map[string][]string{
	FlagEnvironmental: {
		"medioambient", "medio ambiente", "ambiental", "sostenib", "descarboniz",
		"eficiencia energética", "energías renovables", "cambio climático",
		"environmental", "sustainab", "climate",
	},
	FlagGenderEquality: {
		"igualdad de género", "igualdad entre mujeres y hombres", "perspectiva de género",
		"plan de igualdad", "emprendimiento femenino", "mujeres emprendedoras",
		"gender equality",
	},
	FlagDigital: {
		"digitalización", "digitalizacion", "transformación digital", "transformacion digital",
		"kit digital", "ciberseguridad", "inteligencia artificial", "comercio electrónico",
		"digital transformation",
	},
	FlagCircularEconomy: {
		"economía circular", "economia circular", "reciclaje", "reutilización",
		"gestión de residuos", "circular economy",
	},
	FlagYouth: {
		"jóvenes", "jovenes", "juventud", "joven ", "menores de 30", "menores de 35",
		"garantía juvenil", "young people", "youth",
	},
	FlagRural: {
		"rural", "reto demográfico", "despoblación", "despoblacion", "municipios de menos de",
		"desarrollo local", "agrario",
	},
}

// detectFlags combines explicit values with free-text synonyms. An explicit
// falsy value wins over a synonym match.
func detectFlags(explicit map[string]string, freeText string) models.Flags {
	text := strings.ToLower(freeText)
	on := func(name string) bool {
		if v, ok := explicit[name]; ok && strings.TrimSpace(v) != "" {
			if b, known := parseBool(v); known {
				return b
			}
		}
		for _, syn := range flagSynonyms[name] {
			if strings.Contains(text, syn) {
				return true
			}
		}
		return false
	}
	return models.Flags{
		Environmental:         on(FlagEnvironmental),
		GenderEquality:        on(FlagGenderEquality),
		DigitalTransformation: on(FlagDigital),
		CircularEconomy:       on(FlagCircularEconomy),
		Youth:                 on(FlagYouth),
		Rural:                 on(FlagRural),
	}
}

// parseBool understands Spanish and English yes/no spellings.
func parseBool(v string) (value bool, known bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "si", "sí", "yes", "y", "s", "x":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	}
	return false, false
}

func parseFinancingType(v, freeText string) models.FinancingType {
	s := strings.ToLower(strings.TrimSpace(v))
	switch {
	case s == "grant" || s == "subvención" || s == "subvencion" || strings.Contains(s, "fondo perdido"):
		return models.FinancingGrant
	case s == "loan" || strings.Contains(s, "préstamo") || strings.Contains(s, "prestamo"):
		return models.FinancingLoan
	case s == "mixed" || strings.Contains(s, "mixt"):
		return models.FinancingMixed
	case s == "guarantee" || strings.Contains(s, "garantía") || strings.Contains(s, "garantia") || strings.Contains(s, "aval"):
		return models.FinancingGuarantee
	}
	if s != "" {
		return models.FinancingGrant
	}

	text := strings.ToLower(freeText)
	hasLoan := strings.Contains(text, "préstamo") || strings.Contains(text, "prestamo")
	hasGrant := strings.Contains(text, "subvención") || strings.Contains(text, "subvencion") || strings.Contains(text, "fondo perdido")
	switch {
	case hasLoan && hasGrant:
		return models.FinancingMixed
	case hasLoan:
		return models.FinancingLoan
	}
	return models.FinancingGrant
}

func parseTier(v string) (models.Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "low", "baja", "bajo", "1":
		return models.TierLow, true
	case "medium", "media", "medio", "2":
		return models.TierMedium, true
	case "high", "alta", "alto", "3":
		return models.TierHigh, true
	}
	return models.TierMedium, false
}
