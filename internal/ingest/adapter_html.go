package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

var errNoContainer = errors.New("selector 'container' is required for the html adapter")

// HTMLAdapter extracts listing entries from an HTML page using the CSS
// selectors configured for the source.
type HTMLAdapter struct{}

func (HTMLAdapter) Name() string { return AdapterHTML }

func (HTMLAdapter) Decode(body []byte, src SourceDescriptor) ([]RawGrant, error) {
	sel := src.Selectors
	if sel.Container == "" {
		return nil, errNoContainer
	}
	if !utf8.Valid(body) {
		body = bytes.ToValidUTF8(body, nil)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode html: %w", err)
	}

	linkAttr := sel.LinkAttr
	if linkAttr == "" {
		linkAttr = "href"
	}

	var out []RawGrant
	doc.Find(sel.Container).Each(func(_ int, e *goquery.Selection) {
		title := childText(e, sel.Title)
		if title == "" {
			return
		}

		var link string
		if sel.Link == "" || sel.Link == "." {
			link, _ = e.Attr(linkAttr)
		} else {
			link, _ = e.Find(sel.Link).First().Attr(linkAttr)
		}

		raw := RawGrant{
			Title:        title,
			Organization: childText(e, sel.Organization),
			Amount:       childText(e, sel.Amount),
			OpeningDate:  childText(e, sel.OpeningDate),
			ClosingDate:  childText(e, sel.ClosingDate),
			URL:          strings.TrimSpace(link),
		}
		if sel.Content != "" {
			if h, err := e.Find(sel.Content).First().Html(); err == nil {
				raw.Description = strings.TrimSpace(h)
			}
		}
		if raw.URL != "" {
			raw.ID = CanonicalizeURL(resolveURL(src.BaseURL, raw.URL))
		}
		out = append(out, raw)
	})
	return out, nil
}

func childText(e *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return cleanText(e.Find(selector).First().Text())
}
