package extract

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var ldTypes = map[string]bool{
	"Article":     true,
	"NewsArticle": true,
	"BlogPosting": true,
	"WebPage":     true,
	"VideoObject": true,
	"Product":     true,
	"Recipe":      true,
	"Review":      true,
}

// tryJSONLD builds a markdown fragment from the first schema.org
// block of a recognised @type.
func tryJSONLD(doc *goquery.Document) *View {
	var view *View
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, obj := range ldObjects(s.Text()) {
			if v := ldView(obj); v != nil {
				view = v
				return false
			}
		}
		return true
	})
	return view
}

// ldObjects flattens a JSON-LD payload (object, array, or @graph)
// into candidate objects.
func ldObjects(raw string) []map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var out []map[string]any
	collect := func(v any) {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
			if graph, ok := m["@graph"].([]any); ok {
				for _, g := range graph {
					if gm, ok := g.(map[string]any); ok {
						out = append(out, gm)
					}
				}
			}
		}
	}

	var single map[string]any
	if err := json.Unmarshal([]byte(raw), &single); err == nil {
		collect(single)
		return out
	}
	var list []any
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		for _, v := range list {
			collect(v)
		}
	}
	return out
}

func ldView(obj map[string]any) *View {
	if !ldTypes[ldType(obj)] {
		return nil
	}

	title := ldString(obj, "headline")
	if title == "" {
		title = ldString(obj, "name")
	}
	desc := ldString(obj, "description")
	body := ldString(obj, "articleBody")
	if title == "" && desc == "" && body == "" {
		return nil
	}

	var b strings.Builder
	if title != "" {
		b.WriteString("# " + title + "\n\n")
	}
	if byline := ldAuthor(obj); byline != "" {
		b.WriteString("*By " + byline + "*\n\n")
	}
	if desc != "" {
		b.WriteString(desc + "\n\n")
	}
	if body != "" {
		b.WriteString(body + "\n")
	}

	return &View{
		Markdown: strings.TrimSpace(b.String()) + "\n",
		Title:    title,
		Excerpt:  desc,
		Byline:   ldAuthor(obj),
		Method:   "jsonld",
	}
}

func ldType(obj map[string]any) string {
	switch t := obj["@type"].(type) {
	case string:
		return t
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && ldTypes[s] {
				return s
			}
		}
	}
	return ""
}

func ldString(obj map[string]any, key string) string {
	if s, ok := obj[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func ldAuthor(obj map[string]any) string {
	switch a := obj["author"].(type) {
	case string:
		return strings.TrimSpace(a)
	case map[string]any:
		return ldString(a, "name")
	case []any:
		if len(a) > 0 {
			if m, ok := a[0].(map[string]any); ok {
				return ldString(m, "name")
			}
		}
	}
	return ""
}
