package ingest

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// RSSAdapter decodes RSS/Atom bulletin feeds. Each item becomes one grant;
// the publication date is used as the opening date.
type RSSAdapter struct {
	// Closing dates are looked up in the item text after these labels.
	closingLabels []string
}

func NewRSSAdapter() RSSAdapter {
	return RSSAdapter{closingLabels: []string{"plazo de presentación", "fecha de cierre", "fecha límite", "hasta el", "deadline"}}
}

func (RSSAdapter) Name() string { return AdapterRSS }

func (a RSSAdapter) Decode(body []byte, src SourceDescriptor) ([]RawGrant, error) {
	// gofeed parsers keep state between calls, so each decode gets its own.
	fp := gofeed.NewParser()
	feed, err := fp.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode rss: %w", err)
	}

	out := make([]RawGrant, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		desc := item.Description
		if desc == "" {
			desc = item.Content
		}
		raw := RawGrant{
			ID:           item.GUID,
			Title:        item.Title,
			Description:  desc,
			Organization: feedAuthor(item, feed),
			URL:          item.Link,
			Categories:   item.Categories,
		}
		if item.PublishedParsed != nil {
			raw.OpeningDate = item.PublishedParsed.UTC().Format(time.RFC3339)
		}
		raw.ClosingDate = a.closingFromText(HTMLToText(desc), src.DateLocales)
		out = append(out, raw)
	}
	return out, nil
}

func feedAuthor(item *gofeed.Item, feed *gofeed.Feed) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, p := range item.Authors {
		if p != nil && p.Name != "" {
			return p.Name
		}
	}
	return feed.Title
}

// closingFromText returns the text following the first closing label that
// parses as a date, or "".
func (a RSSAdapter) closingFromText(text string, locales []string) string {
	lower := strings.ToLower(text)
	for _, label := range a.closingLabels {
		idx := strings.Index(lower, label)
		if idx < 0 || idx+len(label) > len(text) {
			continue
		}
		tail := text[idx+len(label):]
		if len(tail) > 60 {
			tail = tail[:60]
		}
		tail = strings.ToValidUTF8(tail, "")
		if _, _, err := parseDate(tail, locales); err == nil {
			return strings.TrimSpace(tail)
		}
	}
	return ""
}
