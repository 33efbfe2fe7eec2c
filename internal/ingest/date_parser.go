package ingest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var spanishMonths = map[string]time.Month{
	"enero": time.January, "febrero": time.February, "marzo": time.March,
	"abril": time.April, "mayo": time.May, "junio": time.June,
	"julio": time.July, "agosto": time.August, "septiembre": time.September,
	"setiembre": time.September, "octubre": time.October,
	"noviembre": time.November, "diciembre": time.December,
	"ene": time.January, "feb": time.February, "mar": time.March,
	"abr": time.April, "may": time.May, "jun": time.June, "jul": time.July,
	"ago": time.August, "sep": time.September, "oct": time.October,
	"nov": time.November, "dic": time.December,
}

var (
	isoDateRegex     = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	numericDateRegex = regexp.MustCompile(`\b(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4})\b`)
	spanishDateRegex = regexp.MustCompile(`(?i)\b(\d{1,2})\s+de\s+([a-záéíóú]+)\.?\s+(?:de|del)\s+(\d{4})\b`)
	epochRegex       = regexp.MustCompile(`^\d{10}(\d{3})?$`)
)

// parseDate reads a date in any of the formats grant providers publish.
// dateOnly reports that the text carried no time of day, so the caller can
// pick the start or end of that day.
func parseDate(text string, locales []string) (t time.Time, dateOnly bool, err error) {
	text = cleanDateString(text)
	if text == "" {
		return time.Time{}, false, fmt.Errorf("empty date")
	}

	if epochRegex.MatchString(text) {
		n, _ := strconv.ParseInt(text, 10, 64)
		if len(text) == 13 {
			return time.UnixMilli(n).UTC(), false, nil
		}
		return time.Unix(n, 0).UTC(), false, nil
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02T15:04:05.000Z"} {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC(), false, nil
		}
	}
	if t, err := time.Parse("2006-01-02", text); err == nil {
		return t, true, nil
	}

	dayFirst := true
	if len(locales) > 0 && strings.HasPrefix(strings.ToLower(locales[0]), "en") {
		dayFirst = false
	}

	if m := numericDateRegex.FindStringSubmatch(text); m != nil {
		if t, ok := numericDate(m[1], m[2], m[3], dayFirst); ok {
			return t, true, nil
		}
	}

	if t, ok := parseSpanishDate(text); ok {
		return t, true, nil
	}

	for _, layout := range []string{"January 2, 2006", "2 January 2006", "Jan 2, 2006", "2 Jan 2006", "02 Jan 2006"} {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true, nil
		}
	}

	if m := isoDateRegex.FindString(text); m != "" {
		if t, err := time.Parse("2006-01-02", m); err == nil {
			return t, true, nil
		}
	}

	return time.Time{}, false, fmt.Errorf("unable to parse date: %s", text)
}

func numericDate(a, b, year string, dayFirst bool) (time.Time, bool) {
	first, _ := strconv.Atoi(a)
	second, _ := strconv.Atoi(b)
	y, _ := strconv.Atoi(year)

	day, month := first, second
	if !dayFirst {
		day, month = second, first
	}
	// 03/15/2026 can only be month-first, whatever the locale says.
	if month > 12 && day <= 12 {
		day, month = month, day
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// parseSpanishDate handles "17 de junio de 2025" and "17 de jun. del 2025".
func parseSpanishDate(text string) (time.Time, bool) {
	m := spanishDateRegex.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	month, ok := spanishMonths[strings.ToLower(m[2])]
	if !ok {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[3])
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// toEndOfDay sets the time to 23:59:59.999999999 UTC
func toEndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, time.UTC)
}

// cleanDateString removes common label prefixes.
func cleanDateString(s string) string {
	prefixes := []string{
		"fecha de inicio:", "fecha de apertura:", "fecha límite:", "fecha de cierre:",
		"fecha fin:", "plazo:", "cierre:", "inicio:",
		"closing date:", "deadline:", "opening date:", "open:",
	}
	s = strings.TrimSpace(s)
	sLower := strings.ToLower(s)
	for _, p := range prefixes {
		if idx := strings.Index(sLower, p); idx != -1 {
			s = s[idx+len(p):]
			sLower = sLower[idx+len(p):]
		}
	}
	return strings.TrimSpace(s)
}
