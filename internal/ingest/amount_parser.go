package ingest

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	amountTokenRegex = regexp.MustCompile(`(-?\d[\d.,]*)\s*(%|millones|millón|millon|mill\.|m€|meur|mil\b|k€|k\b)?`)
	percentRegex     = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)
)

// parseAmount extracts a monetary amount and currency from free text such as
// "1.500.000,00 €", "EUR 250,000.50", "hasta 2 millones" or "entre 10.000 y
// 50.000 euros". For ranges the largest figure wins. Returns ok=false when no
// figure is found.
func parseAmount(text string, defaultCurrency string) (float64, string, bool) {
	textLower := strings.ToLower(strings.TrimSpace(text))
	currency := detectCurrency(textLower, defaultCurrency)
	if textLower == "" {
		return 0, currency, false
	}

	type candidate struct {
		value    float64
		yearLike bool
	}
	var candidates []candidate

	for _, m := range amountTokenRegex.FindAllStringSubmatch(textLower, -1) {
		token, suffix := m[1], m[2]
		if suffix == "%" {
			continue
		}
		value, ok := parseLocaleNumber(token)
		if !ok {
			continue
		}
		// Only a leading minus is a sign; "2024-2025" is a range.
		if value < 0 && !strings.HasPrefix(textLower, token) {
			value = -value
		}
		switch suffix {
		case "millones", "millón", "millon", "mill.", "m€", "meur":
			value *= 1_000_000
		case "mil", "k€", "k":
			value *= 1_000
		}
		plain := strings.TrimLeft(token, "-")
		yearLike := suffix == "" && len(plain) == 4 && value >= 1900 && value <= 2100 && !strings.ContainsAny(plain, ".,")
		candidates = append(candidates, candidate{value: value, yearLike: yearLike})
	}

	if len(candidates) == 0 {
		return 0, currency, false
	}

	// Drop years ("convocatoria 2025") when a real figure is present.
	hasNonYear := false
	for _, c := range candidates {
		if !c.yearLike {
			hasNonYear = true
			break
		}
	}

	best, found := 0.0, false
	for _, c := range candidates {
		if hasNonYear && c.yearLike {
			continue
		}
		if !found || c.value > best {
			best = c.value
			found = true
		}
	}
	return best, currency, found
}

func detectCurrency(textLower, defaultCurrency string) string {
	switch {
	case strings.Contains(textLower, "€") || strings.Contains(textLower, "eur"):
		return "EUR"
	case strings.Contains(textLower, "£") || strings.Contains(textLower, "gbp"):
		return "GBP"
	case strings.Contains(textLower, "$") || strings.Contains(textLower, "usd") || strings.Contains(textLower, "dólar") || strings.Contains(textLower, "dollar"):
		return "USD"
	}
	if defaultCurrency == "" {
		return "EUR"
	}
	return strings.ToUpper(defaultCurrency)
}

// parseLocaleNumber reads numbers written with either Spanish (1.234,56) or
// English (1,234.56) separators. A lone separator followed by exactly three
// digits is read as a thousands separator.
func parseLocaleNumber(token string) (float64, bool) {
	token = strings.Trim(token, ".,")
	if token == "" || token == "-" {
		return 0, false
	}

	lastDot := strings.LastIndex(token, ".")
	lastComma := strings.LastIndex(token, ",")

	var clean string
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			clean = strings.ReplaceAll(token, ".", "")
			clean = strings.Replace(clean, ",", ".", 1)
		} else {
			clean = strings.ReplaceAll(token, ",", "")
		}
	case lastComma >= 0:
		clean = resolveSingleSeparator(token, ",")
	case lastDot >= 0:
		clean = resolveSingleSeparator(token, ".")
	default:
		clean = token
	}

	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func resolveSingleSeparator(token, sep string) string {
	parts := strings.Split(token, sep)
	if len(parts) > 2 {
		return strings.Join(parts, "")
	}
	if len(parts[1]) == 3 {
		return parts[0] + parts[1]
	}
	return parts[0] + "." + parts[1]
}

// parsePercent reads a 0-100 style figure ("80 %", "75,5", "0.6").
// Fractions in (0,1] are read as ratios.
func parsePercent(text string) (float64, bool) {
	m := percentRegex.FindString(strings.TrimSpace(text))
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	if v > 0 && v <= 1 && !strings.Contains(text, "%") && strings.ContainsAny(m, ".,") {
		v *= 100
	}
	return v, true
}

func clamp(v, lo, hi float64) float64 {
	if v != v { // NaN
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
