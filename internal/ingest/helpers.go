package ingest

import (
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

var foldCaser = cases.Fold()

// trackingParams are dropped from grant URLs so the same call published with
// different campaign tags keeps one ID.
var trackingParams = map[string]struct{}{
	"fbclid": {}, "gclid": {}, "mc_cid": {}, "mc_eid": {}, "mkt_tok": {},
	"ref": {}, "session": {}, "s_cid": {}, "jsessionid": {},
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var invisibleReplacer = strings.NewReplacer("\u200b", "", "\ufeff", "", "\u00ad", "")

// cleanText drops zero-width characters and soft hyphens, then collapses
// whitespace.
func cleanText(s string) string {
	return normalizeSpace(invisibleReplacer.Replace(s))
}

// splitAndCleanList turns a bulleted or numbered beneficiary/sector block
// into items.
func splitAndCleanList(block string) []string {
	lines := strings.FieldsFunc(block, func(r rune) bool { return r == '\n' || r == '\r' || r == ';' })
	items := make([]string, 0, len(lines))
	for _, line := range lines {
		item := cleanText(stripListMarker(line))
		if item != "" {
			items = append(items, item)
		}
	}
	return mergeUniqueFold(nil, items)
}

// stripListMarker removes bullets ("-", "•") and numbering ("1.", "2)", "a)").
func stripListMarker(s string) string {
	s = strings.TrimLeft(strings.TrimSpace(s), "-*•–—· \t")
	rest := strings.TrimLeftFunc(s, unicode.IsDigit)
	if rest == s {
		if len(s) > 2 && s[1] == ')' && unicode.IsLetter(rune(s[0])) {
			return strings.TrimSpace(s[2:])
		}
		return s
	}
	// "2026 convocatoria" is not numbering.
	if rest == "" || !strings.ContainsRune(".):-", rune(rest[0])) {
		return s
	}
	return strings.TrimSpace(strings.TrimLeft(rest, ".):- \t"))
}

// mergeUniqueFold appends items not already in dst, comparing case-folded.
func mergeUniqueFold(dst []string, items []string) []string {
	seen := make(map[string]struct{}, len(dst)+len(items))
	for _, v := range dst {
		seen[foldCaser.String(strings.TrimSpace(v))] = struct{}{}
	}
	for _, v := range items {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		k := foldCaser.String(v)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}

// CanonicalizeURL lowercases the host and drops fragments and tracking
// parameters.
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return rawURL
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		lk := strings.ToLower(k)
		if _, drop := trackingParams[lk]; drop || strings.HasPrefix(lk, "utm_") {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
