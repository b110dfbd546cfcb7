package markdown

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Convert renders an HTML document to cleaned Markdown. baseURL is
// used to absolutise relative links and images.
func Convert(srcHTML, baseURL string) (string, error) {
	domain := ""
	if u, err := url.Parse(baseURL); err == nil {
		domain = u.Host
	}

	prepared := preprocess(srcHTML)

	conv := htmlmd.NewConverter(domain, true, nil)
	conv.AddRules(divRule(), svgRule(), codeRule(), imageRule())

	md, err := conv.ConvertString(prepared)
	if err != nil {
		return "", fmt.Errorf("markdown conversion: %w", err)
	}

	md = Cleanup(md)
	md = ResolveURLs(md, baseURL)
	return md, nil
}

// divRule treats <div> as a block element so adjacent divs do not run
// their text together on one line.
func divRule() htmlmd.Rule {
	return htmlmd.Rule{
		Filter: []string{"div"},
		Replacement: func(content string, selec *goquery.Selection, opt *htmlmd.Options) *string {
			content = strings.TrimSpace(content)
			if content == "" {
				return htmlmd.String("")
			}
			return htmlmd.String("\n\n" + content + "\n\n")
		},
	}
}

func svgRule() htmlmd.Rule {
	return htmlmd.Rule{
		Filter: []string{"svg"},
		Replacement: func(content string, selec *goquery.Selection, opt *htmlmd.Options) *string {
			return htmlmd.String("")
		},
	}
}

var codeLangRe = regexp.MustCompile(`(?:language|lang|highlight)-([\w#+.-]+)`)

// codeRule emits a fenced block from <pre>, detecting the language
// from class names and excluding copy buttons and gutter decorations
// from the extracted text. The fence is one backtick longer than the
// longest backtick run inside the code.
func codeRule() htmlmd.Rule {
	return htmlmd.Rule{
		Filter: []string{"pre"},
		Replacement: func(content string, selec *goquery.Selection, opt *htmlmd.Options) *string {
			lang := ""
			classes, _ := selec.Attr("class")
			if code := selec.Find("code").First(); code.Length() > 0 {
				if c, ok := code.Attr("class"); ok {
					classes += " " + c
				}
			}
			if m := codeLangRe.FindStringSubmatch(classes); m != nil {
				lang = m[1]
			}

			text := codeText(selec)
			if strings.TrimSpace(text) == "" {
				return htmlmd.String("")
			}

			fence := strings.Repeat("`", fenceSize(text))
			return htmlmd.String("\n\n" + fence + lang + "\n" + strings.Trim(text, "\n") + "\n" + fence + "\n\n")
		},
	}
}

// codeText extracts the code body, dropping buttons, line-number
// gutters, and copy widgets that editors inject into highlighted
// blocks.
func codeText(selec *goquery.Selection) string {
	clone := selec.Clone()
	clone.Find("button").Remove()
	clone.Find(`[class*="gutter"], [class*="line-number"], [class*="linenumber"], [class*="copy"]`).Remove()
	return clone.Text()
}

func fenceSize(text string) int {
	longest := 0
	run := 0
	for _, r := range text {
		if r == '`' {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	if longest < 3 {
		return 3
	}
	return longest + 1
}

var imageNoiseRe = regexp.MustCompile(`(?i)avatar|gravatar|badge|icon|logo|emoji|spinner|loading|pixel|tracking|spacer`)

// imageRule drops decorative and tracking images and keeps content
// images only when they carry a meaningful alt text.
func imageRule() htmlmd.Rule {
	return htmlmd.Rule{
		Filter: []string{"img"},
		Replacement: func(content string, selec *goquery.Selection, opt *htmlmd.Options) *string {
			src, _ := selec.Attr("src")
			alt, _ := selec.Attr("alt")
			class, _ := selec.Attr("class")

			if src == "" {
				return htmlmd.String("")
			}
			if imageNoiseRe.MatchString(src) || imageNoiseRe.MatchString(alt) || imageNoiseRe.MatchString(class) {
				return htmlmd.String("")
			}
			if tiny(selec, "width") || tiny(selec, "height") {
				return htmlmd.String("")
			}
			alt = strings.TrimSpace(alt)
			if alt == "" {
				return htmlmd.String("")
			}
			return htmlmd.String("![" + alt + "](" + src + ")")
		},
	}
}

func tiny(selec *goquery.Selection, attr string) bool {
	v, ok := selec.Attr(attr)
	if !ok {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "px"))
	return err == nil && n > 0 && n <= 24
}

// preprocess runs the spacing pass and card separation over the DOM
// before conversion. Parse failures fall back to the raw input.
func preprocess(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return src
	}
	walkNodes(doc, func(n *html.Node) {
		injectSpacing(n)
		separateCards(n)
	})
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return src
	}
	return buf.String()
}

func walkNodes(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkNodes(c, fn)
	}
}

var inlineTags = map[string]bool{
	"a": true, "span": true, "em": true, "strong": true, "b": true,
	"i": true, "u": true, "code": true, "small": true, "abbr": true,
	"cite": true, "label": true, "time": true, "mark": true,
	"sub": true, "sup": true, "button": true,
}

func isInline(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && inlineTags[n.Data]
}

// injectSpacing inserts a space text node between directly adjacent
// inline elements so their texts do not fuse after conversion.
// Comment and empty-text nodes between them are ignored.
func injectSpacing(parent *html.Node) {
	var prev *html.Node
	c := parent.FirstChild
	for c != nil {
		next := c.NextSibling
		switch {
		case c.Type == html.CommentNode:
		case c.Type == html.TextNode && strings.TrimSpace(c.Data) == "":
		case c.Type == html.TextNode:
			prev = nil
		default:
			if isInline(prev) && isInline(c) {
				parent.InsertBefore(&html.Node{Type: html.TextNode, Data: " "}, c)
			}
			prev = c
		}
		c = next
	}
}

var cardClassRe = regexp.MustCompile(`(?i)\b(topic|card|item|post|entry|video|product|result|listing)`)

// separateCards inserts <hr> between repeated sibling "cards" (two or
// more siblings sharing a class token that looks like a list entry) so
// the converted output keeps a visible boundary between them.
func separateCards(parent *html.Node) {
	counts := map[string]int{}
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		for _, cls := range classTokens(c) {
			if cardClassRe.MatchString(cls) {
				counts[cls]++
			}
		}
	}

	var repeated string
	for cls, n := range counts {
		if n >= 2 {
			repeated = cls
			break
		}
	}
	if repeated == "" {
		return
	}

	seen := false
	c := parent.FirstChild
	for c != nil {
		next := c.NextSibling
		if hasClassToken(c, repeated) {
			if seen {
				parent.InsertBefore(&html.Node{
					Type:     html.ElementNode,
					Data:     "hr",
					DataAtom: 0,
				}, c)
			}
			seen = true
		}
		c = next
	}
}

func classTokens(n *html.Node) []string {
	if n.Type != html.ElementNode {
		return nil
	}
	for _, a := range n.Attr {
		if a.Key == "class" {
			return strings.Fields(a.Val)
		}
	}
	return nil
}

func hasClassToken(n *html.Node, token string) bool {
	for _, t := range classTokens(n) {
		if t == token {
			return true
		}
	}
	return false
}

var mdURLRe = regexp.MustCompile(`(\]\()([^)\s]+)(\s*(?:"[^"]*")?\))`)

// ResolveURLs rewrites relative link and image targets in md to
// absolute URLs against base. Fragment-only, data, mailto, tel, and
// javascript targets are left alone.
func ResolveURLs(md, base string) string {
	baseURL, err := url.Parse(base)
	if err != nil || baseURL.Host == "" {
		return md
	}
	return mdURLRe.ReplaceAllStringFunc(md, func(m string) string {
		parts := mdURLRe.FindStringSubmatch(m)
		target := parts[2]
		if skipResolve(target) {
			return m
		}
		ref, err := url.Parse(target)
		if err != nil || ref.IsAbs() {
			return m
		}
		return parts[1] + baseURL.ResolveReference(ref).String() + parts[3]
	})
}

func skipResolve(target string) bool {
	if target == "" || strings.HasPrefix(target, "#") {
		return true
	}
	for _, p := range []string{"data:", "mailto:", "tel:", "javascript:", "http://", "https://"} {
		if strings.HasPrefix(strings.ToLower(target), p) {
			return true
		}
	}
	return false
}
