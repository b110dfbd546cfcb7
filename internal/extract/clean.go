package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Selectors for structural chrome that never carries article content.
var junkSelectors = []string{
	"script", "style", "noscript",
	"nav", "header", "footer", "aside",
	`[role="navigation"]`, `[role="banner"]`, `[role="contentinfo"]`, `[role="complementary"]`,
	`[aria-hidden="true"]`,
}

// Class and id substrings of overlays, consent walls, and ad slots.
var junkNameParts = []string{
	"cookie", "consent", "gdpr", "popup", "modal", "overlay",
	"sidebar", "widget", "ad-", "ads-", "advert",
	"social-share", "share-", "newsletter", "subscribe",
}

var hiddenStyleRe = regexp.MustCompile(`(?i)display\s*:\s*none|visibility\s*:\s*hidden|font-size\s*:\s*0|position\s*:\s*absolute\s*;?\s*left\s*:\s*-\d|clip\s*:\s*rect\s*\(\s*0`)

// CleanJunk removes navigation, consent, ad, and visually hidden
// elements from the document in place.
func CleanJunk(doc *goquery.Document) {
	for _, sel := range junkSelectors {
		doc.Find(sel).Remove()
	}

	doc.Find("[class],[id]").Each(func(_ int, s *goquery.Selection) {
		class, _ := s.Attr("class")
		id, _ := s.Attr("id")
		name := strings.ToLower(class + " " + id)
		for _, part := range junkNameParts {
			if strings.Contains(name, part) {
				s.Remove()
				return
			}
		}
	})

	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		if style, ok := s.Attr("style"); ok && hiddenStyleRe.MatchString(style) {
			s.Remove()
		}
	})
}

// CleanHTML is CleanJunk over a raw HTML string; parse failures return
// the input unchanged.
func CleanHTML(src string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return src
	}
	CleanJunk(doc)
	out, err := doc.Html()
	if err != nil {
		return src
	}
	return out
}
