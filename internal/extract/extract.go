package extract

import (
	"math"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"sumi/internal/apperr"
	"sumi/internal/markdown"
)

// View is the product of one extraction strategy. Either ContentHTML
// or Markdown is set; Markdown is pre-built by the structured-data
// strategies and skips DOM conversion.
type View struct {
	ContentHTML string
	Markdown    string
	Title       string
	Excerpt     string
	Byline      string
	SiteName    string
	Method      string
}

const (
	minHTMLText   = 200
	minSchemaText = 100
)

// FromHTML runs the extraction strategies in order and returns the
// first view that passes the usability and ratio checks. The raw body
// is the absolute fallback, so only a parse failure errors.
func FromHTML(src, pageURL string) (*View, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, apperr.New(apperr.KindParse, "HTML parse failed")
	}

	raw := rawTextLen(doc)
	meta := readMeta(doc)

	strategies := []func() *View{
		func() *View { return tryReadability(src, pageURL, "readability") },
		func() *View { return tryDefuddle(doc) },
		func() *View { return tryArticleHeuristics(doc) },
		func() *View { return tryReadability(CleanHTML(src), pageURL, "readability-cleaned") },
		func() *View { return trySelectorProbe(doc) },
		func() *View { return tryJSONLD(doc) },
		func() *View { return tryOpenGraph(meta) },
		func() *View { return tryTextDensity(doc) },
		func() *View { return tryCleanedBody(src) },
	}

	for _, strat := range strategies {
		v := strat()
		if v == nil {
			continue
		}
		if !usable(v) || !passesRatio(viewTextLen(v), raw) {
			continue
		}
		fillMeta(v, meta)
		return v, nil
	}

	// Absolute fallback: the raw body as-is.
	body, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(body) == "" {
		body = src
	}
	v := &View{ContentHTML: body, Method: "raw-body"}
	fillMeta(v, meta)
	return v, nil
}

// usable rejects views that are too short or look like an error page.
func usable(v *View) bool {
	min := minHTMLText
	if v.Markdown != "" {
		min = minSchemaText
	}
	text := viewText(v)
	if len(strings.TrimSpace(text)) < min {
		return false
	}
	return !markdown.ContainsErrorPhrase(text)
}

// passesRatio guards against over-aggressive stripping: an extraction
// far smaller than the raw page is suspect unless it is substantial in
// absolute terms. Pages with little raw text are exempt.
func passesRatio(extracted, raw int) bool {
	if raw <= 500 {
		return true
	}
	if extracted*100 >= raw*15 {
		return true
	}
	return extracted >= 1000
}

func viewText(v *View) string {
	if v.Markdown != "" {
		return v.Markdown
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(v.ContentHTML))
	if err != nil {
		return v.ContentHTML
	}
	return doc.Text()
}

func viewTextLen(v *View) int {
	return len(strings.TrimSpace(viewText(v)))
}

func rawTextLen(doc *goquery.Document) int {
	clone := goquery.CloneDocument(doc)
	clone.Find("script, style, noscript").Remove()
	return len(strings.TrimSpace(clone.Text()))
}

type pageMeta struct {
	title       string
	description string
	byline      string
	siteName    string
	image       string
}

func readMeta(doc *goquery.Document) pageMeta {
	m := pageMeta{}
	metaContent := func(sel string) string {
		v, _ := doc.Find(sel).First().Attr("content")
		return strings.TrimSpace(v)
	}

	m.title = metaContent(`meta[property="og:title"]`)
	if m.title == "" {
		m.title = metaContent(`meta[name="twitter:title"]`)
	}
	if m.title == "" {
		m.title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	m.description = metaContent(`meta[property="og:description"]`)
	if m.description == "" {
		m.description = metaContent(`meta[name="description"]`)
	}
	m.byline = metaContent(`meta[name="author"]`)
	m.siteName = metaContent(`meta[property="og:site_name"]`)
	m.image = metaContent(`meta[property="og:image"]`)
	return m
}

func fillMeta(v *View, m pageMeta) {
	if v.Title == "" {
		v.Title = m.title
	}
	if v.Excerpt == "" {
		v.Excerpt = m.description
	}
	if v.Byline == "" {
		v.Byline = m.byline
	}
	if v.SiteName == "" {
		v.SiteName = m.siteName
	}
}

func tryReadability(src, pageURL, method string) *View {
	u, err := url.Parse(pageURL)
	if err != nil {
		u = nil
	}
	article, err := readability.FromReader(strings.NewReader(src), u)
	if err != nil || strings.TrimSpace(article.Content) == "" {
		return nil
	}
	return &View{
		ContentHTML: article.Content,
		Title:       article.Title,
		Excerpt:     article.Excerpt,
		Byline:      article.Byline,
		SiteName:    article.SiteName,
		Method:      method,
	}
}

// tryDefuddle picks the best semantic container by scoring candidate
// elements on paragraph text mass.
func tryDefuddle(doc *goquery.Document) *View {
	var best *goquery.Selection
	bestScore := 0.0

	doc.Find(`article, main, [role="main"], [itemprop="articleBody"]`).Each(func(_ int, s *goquery.Selection) {
		pText := 0
		s.Find("p").Each(func(_ int, p *goquery.Selection) {
			pText += len(strings.TrimSpace(p.Text()))
		})
		if pText == 0 {
			return
		}
		score := float64(pText) * math.Log(float64(pText)+1)
		if score > bestScore {
			bestScore = score
			best = s
		}
	})

	if best == nil {
		return nil
	}
	html, err := goquery.OuterHtml(best)
	if err != nil {
		return nil
	}
	return &View{ContentHTML: html, Method: "defuddle"}
}

// tryArticleHeuristics clusters paragraphs by parent and picks the
// parent holding the most paragraph text.
func tryArticleHeuristics(doc *goquery.Document) *View {
	type cluster struct {
		sel   *goquery.Selection
		chars int
	}
	clusters := map[*html.Node]*cluster{}
	var order []*cluster

	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		parent := p.Parent()
		if parent.Length() == 0 {
			return
		}
		key := parent.Get(0)
		c, ok := clusters[key]
		if !ok {
			c = &cluster{sel: parent}
			clusters[key] = c
			order = append(order, c)
		}
		c.chars += len(strings.TrimSpace(p.Text()))
	})

	var best *cluster
	for _, c := range order {
		if best == nil || c.chars > best.chars {
			best = c
		}
	}
	if best == nil || best.chars == 0 {
		return nil
	}
	html, err := goquery.OuterHtml(best.sel)
	if err != nil {
		return nil
	}
	return &View{ContentHTML: html, Method: "article-extractor"}
}

var probeSelectors = []string{
	"article.markdown-body",
	"article",
	"main",
	`[role="main"]`,
	".post-content",
	".article-content",
	".entry-content",
	".post-body",
	"#content",
	".content",
}

func trySelectorProbe(doc *goquery.Document) *View {
	for _, sel := range probeSelectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		html, err := goquery.OuterHtml(s)
		if err != nil || strings.TrimSpace(s.Text()) == "" {
			continue
		}
		return &View{ContentHTML: html, Method: "selector:" + sel}
	}
	return nil
}

func tryCleanedBody(src string) *View {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil
	}
	CleanJunk(doc)
	html, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(html) == "" {
		return nil
	}
	return &View{ContentHTML: html, Method: "cleaned-body"}
}

// tryTextDensity picks the top-level body child maximising
// textLen/htmlLen * log(textLen+1).
func tryTextDensity(doc *goquery.Document) *View {
	var best *goquery.Selection
	bestScore := 0.0

	doc.Find("body").Children().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "script" || goquery.NodeName(s) == "style" {
			return
		}
		text := len(strings.TrimSpace(s.Text()))
		if text == 0 {
			return
		}
		html, err := goquery.OuterHtml(s)
		if err != nil || len(html) == 0 {
			return
		}
		score := float64(text) / float64(len(html)) * math.Log(float64(text)+1)
		if score > bestScore {
			bestScore = score
			best = s
		}
	})

	if best == nil {
		return nil
	}
	html, err := goquery.OuterHtml(best)
	if err != nil {
		return nil
	}
	return &View{ContentHTML: html, Method: "text-density"}
}

func tryOpenGraph(m pageMeta) *View {
	if m.title == "" || m.description == "" {
		return nil
	}
	var b strings.Builder
	b.WriteString("# " + m.title + "\n\n")
	b.WriteString(m.description + "\n")
	if m.image != "" {
		b.WriteString("\n![" + m.title + "](" + m.image + ")\n")
	}
	return &View{Markdown: b.String(), Title: m.title, Method: "opengraph"}
}
