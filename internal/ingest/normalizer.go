package ingest

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/david/grant-aggregator/internal/models"
)

// Untitled replaces a missing title.
const Untitled = "Sin título"

var (
	grantNamespace = uuid.MustParse("8a0f3c2e-6d1b-4f7a-9e25-3b6c1d0e4f58")
	strictPolicy   = bluemonday.StrictPolicy()
)

// TruncateText cuts a string to max length, appending ellipsis if truncated.
func TruncateText(text string, maxLen int) string {
	r := []rune(text)
	if len(r) <= maxLen {
		return text
	}
	if maxLen > 3 {
		return string(r[:maxLen-3]) + "..."
	}
	return string(r[:maxLen])
}

// HTMLToText converts HTML to plain text, collapsing whitespace.
func HTMLToText(html string) string {
	if !strings.ContainsAny(html, "<&") {
		return cleanText(html)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return cleanText(html)
	}
	// Keep block boundaries as spaces so words do not run together.
	doc.Find("br, p, li, div, h1, h2, h3, h4, td").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return cleanText(doc.Text())
}

// stripMarkup removes any tags from short single-line fields.
func stripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return cleanText(s)
	}
	return cleanText(unescapeEntities(strictPolicy.Sanitize(s)))
}

func unescapeEntities(s string) string {
	return strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&#34;", `"`, "&#39;", "'", "&quot;", `"`, "&nbsp;", " ").Replace(s)
}

// ComputeLifecycle derives the lifecycle state from the two dates.
func ComputeLifecycle(opening, closing *time.Time, now time.Time) models.Lifecycle {
	return models.Grant{OpeningDate: opening, ClosingDate: closing}.LifecycleAt(now)
}

// Normalize maps one raw record into the canonical Grant. It never fails:
// anything unparseable falls back to its default.
//
// Defaults: amount 0, unparseable dates nil, flags false unless an explicit
// value or a synonym says otherwise, financing grant, tiers medium, lifecycle
// open when no date decides it.
func Normalize(raw RawGrant, src SourceDescriptor, index int, now time.Time) (g models.Grant) {
	defer func() {
		if r := recover(); r != nil {
			g = fallbackGrant(raw, src, index, now)
		}
	}()

	title := stripMarkup(raw.Title)
	if title == "" {
		title = Untitled
	}
	description := HTMLToText(raw.Description)

	organization := stripMarkup(raw.Organization)
	if organization == "" {
		organization = src.Name
	}

	amount, currency := 0.0, src.Currency
	if raw.AmountValue != nil {
		amount = *raw.AmountValue
		if c := strings.TrimSpace(raw.Currency); c != "" {
			currency = strings.ToUpper(c)
		}
	} else if v, cur, ok := parseAmount(raw.Amount+" "+raw.Currency, src.Currency); ok {
		amount, currency = v, cur
	}
	if currency == "" {
		currency = "EUR"
	}

	opening := parseBoundary(raw.OpeningDate, src.DateLocales, false)
	closing := parseBoundary(raw.ClosingDate, src.DateLocales, true)

	categories := cleanList(raw.Categories)
	sectors := cleanList(raw.Sectors)
	beneficiaries := cleanList(raw.Beneficiaries)

	freeText := strings.Join([]string{
		title, description,
		strings.Join(categories, " "), strings.Join(sectors, " "), strings.Join(beneficiaries, " "),
	}, " \n ")

	region := stripMarkup(raw.Region)
	if region == "" {
		region = src.Region
	}

	competitiveness, _ := parseTier(raw.Competitiveness)
	complexity, _ := parseTier(raw.Complexity)

	g = models.Grant{
		ID:              grantID(raw, src, index, title),
		RegistryCode:    cleanText(raw.RegistryCode),
		Title:           title,
		Description:     description,
		Organization:    organization,
		Amount:          clamp(amount, 0, math.MaxFloat64),
		Currency:        currency,
		OpeningDate:     opening,
		ClosingDate:     closing,
		Beneficiaries:   beneficiaries,
		Categories:      categories,
		Sectors:         sectors,
		Region:          region,
		SourceURL:       resolveURL(src.BaseURL, raw.URL),
		SourceID:        src.ID,
		Flags:           detectFlags(raw.Flags, freeText),
		FinancingType:   parseFinancingType(raw.FinancingType, freeText),
		AidIntensity:    percentOrDefault(raw.AidIntensity, 0),
		Complexity:      complexity,
		Competitiveness: competitiveness,
		Probability:     percentOrDefault(raw.Probability, defaultProbability(competitiveness)),
	}
	g.Status = ComputeLifecycle(g.OpeningDate, g.ClosingDate, now)
	return g
}

func fallbackGrant(raw RawGrant, src SourceDescriptor, index int, now time.Time) models.Grant {
	title := cleanText(raw.Title)
	if title == "" {
		title = Untitled
	}
	g := models.Grant{
		ID:              grantID(raw, src, index, title),
		Title:           title,
		Organization:    src.Name,
		Currency:        "EUR",
		Region:          src.Region,
		SourceID:        src.ID,
		FinancingType:   models.FinancingGrant,
		Complexity:      models.TierMedium,
		Competitiveness: models.TierMedium,
		Probability:     defaultProbability(models.TierMedium),
	}
	g.Status = ComputeLifecycle(g.OpeningDate, g.ClosingDate, now)
	return g
}

// grantID keeps provider ids (namespaced by source) and otherwise derives
// a deterministic UUIDv5 so the same item keeps its id across searches.
func grantID(raw RawGrant, src SourceDescriptor, index int, title string) string {
	if id := strings.TrimSpace(raw.ID); id != "" {
		return src.ID + ":" + id
	}
	if code := strings.TrimSpace(raw.RegistryCode); code != "" {
		return src.ID + ":" + code
	}
	seed := src.ID + "|" + strconv.Itoa(index) + "|" + strings.ToLower(title)
	return uuid.NewSHA1(grantNamespace, []byte(seed)).String()
}

func parseBoundary(text string, locales []string, endOfDay bool) *time.Time {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	t, dateOnly, err := parseDate(text, locales)
	if err != nil {
		return nil
	}
	if dateOnly && endOfDay {
		t = toEndOfDay(t)
	}
	return &t
}

func percentOrDefault(text string, def float64) float64 {
	if v, ok := parsePercent(text); ok {
		return clamp(v, 0, 100)
	}
	return clamp(def, 0, 100)
}

func defaultProbability(competitiveness models.Tier) float64 {
	switch competitiveness {
	case models.TierLow:
		return 70
	case models.TierHigh:
		return 30
	}
	return 50
}

func cleanList(items []string) []string {
	cleaned := make([]string, 0, len(items))
	for _, it := range items {
		cleaned = append(cleaned, stripMarkup(it))
	}
	return mergeUniqueFold(make([]string, 0, len(items)), cleaned)
}

func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if u.IsAbs() {
		return u.String()
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return b.ResolveReference(u).String()
}
