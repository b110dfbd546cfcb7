package feed

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"sumi/internal/apperr"
	"sumi/internal/markdown"
)

// Convert parses an RSS/Atom/JSON feed and renders it as Markdown.
// Returns the feed title alongside the document.
func Convert(data []byte, srcURL string) (string, string, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return "", "", apperr.New(apperr.KindParse, "feed parse failed")
	}

	var b strings.Builder
	title := strings.TrimSpace(parsed.Title)
	if title == "" {
		title = "Feed"
	}
	b.WriteString("# " + title + "\n\n")

	if desc := strings.TrimSpace(parsed.Description); desc != "" {
		b.WriteString("> " + desc + "\n\n")
	}
	if parsed.Link != "" {
		b.WriteString("**Source:** " + parsed.Link + "\n\n")
	}
	b.WriteString(fmt.Sprintf("**Items:** %d\n\n---\n\n", len(parsed.Items)))

	for _, item := range parsed.Items {
		writeItem(&b, item, srcURL)
	}

	return title, strings.TrimSpace(b.String()) + "\n", nil
}

func writeItem(b *strings.Builder, item *gofeed.Item, srcURL string) {
	itemTitle := strings.TrimSpace(item.Title)
	if itemTitle == "" {
		itemTitle = "Untitled"
	}
	b.WriteString("## " + itemTitle + "\n\n")

	var meta []string
	if item.PublishedParsed != nil {
		meta = append(meta, item.PublishedParsed.UTC().Format(time.RFC3339))
	} else if item.Published != "" {
		meta = append(meta, item.Published)
	}
	if author := itemAuthor(item); author != "" {
		meta = append(meta, "by "+author)
	}
	if len(meta) > 0 {
		b.WriteString("*" + strings.Join(meta, " — ") + "*\n\n")
	}

	if content := itemContent(item, srcURL); content != "" {
		b.WriteString(content + "\n\n")
	}
	if item.Link != "" {
		b.WriteString("[Read more](" + item.Link + ")\n\n")
	}
	b.WriteString("---\n\n")
}

// itemContent prefers the richest body available and converts HTML
// bodies through the normal pipeline.
func itemContent(item *gofeed.Item, srcURL string) string {
	raw := item.Content
	if strings.TrimSpace(raw) == "" {
		raw = item.Description
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if strings.Contains(raw, "<") {
		if md, err := markdown.Convert(raw, srcURL); err == nil {
			return strings.TrimSpace(md)
		}
	}
	return raw
}

func itemAuthor(item *gofeed.Item) string {
	for _, a := range item.Authors {
		if a != nil && strings.TrimSpace(a.Name) != "" {
			return strings.TrimSpace(a.Name)
		}
	}
	if item.Author != nil {
		return strings.TrimSpace(item.Author.Name)
	}
	return ""
}
