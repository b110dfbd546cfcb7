package extract

import (
	"strings"
	"testing"
)

func articlePage() string {
	para := "<p>" + strings.Repeat("This article explains the subject in careful, useful detail. ", 8) + "</p>"
	return `<html><head><title>Deep Dive</title>
		<meta property="og:site_name" content="Example Blog">
	</head><body>
		<nav><a href="/">home</a><a href="/about">about</a></nav>
		<article>` + "<h1>Deep Dive</h1>" + para + para + para + `</article>
		<footer>copyright</footer>
	</body></html>`
}

func TestFromHTMLReadableArticle(t *testing.T) {
	v, err := FromHTML(articlePage(), "https://example.com/deep-dive")
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}
	switch v.Method {
	case "readability", "readability-cleaned", "defuddle", "article-extractor":
	default:
		t.Fatalf("method = %s, want a primary extractor", v.Method)
	}
	if !strings.Contains(viewText(v), "careful, useful detail") {
		t.Fatalf("content lost: %q", v.ContentHTML)
	}
	if v.Title == "" {
		t.Fatalf("title empty")
	}
	if v.SiteName != "Example Blog" {
		t.Fatalf("site name = %q", v.SiteName)
	}
}

func TestFromHTMLJSONLDFallback(t *testing.T) {
	desc := strings.Repeat("A structured description of the piece. ", 5)
	page := `<html><head>
		<script type="application/ld+json">
		{"@type":"NewsArticle","headline":"Structured Story","description":"` + desc + `","author":{"name":"R. Writer"}}
		</script>
	</head><body><div id="app"></div></body></html>`

	v, err := FromHTML(page, "https://example.com/s")
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}
	if v.Method != "jsonld" {
		t.Fatalf("method = %s, want jsonld", v.Method)
	}
	if !strings.Contains(v.Markdown, "# Structured Story") {
		t.Fatalf("markdown missing headline: %q", v.Markdown)
	}
	if v.Byline != "R. Writer" {
		t.Fatalf("byline = %q", v.Byline)
	}
}

func TestFromHTMLOpenGraphFallback(t *testing.T) {
	desc := strings.Repeat("Short but sufficient social description text. ", 4)
	page := `<html><head>
		<meta property="og:title" content="Shared Page">
		<meta property="og:description" content="` + desc + `">
	</head><body><div></div></body></html>`

	v, err := FromHTML(page, "https://example.com/o")
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}
	if v.Method != "opengraph" {
		t.Fatalf("method = %s, want opengraph", v.Method)
	}
	if v.Title != "Shared Page" {
		t.Fatalf("title = %q", v.Title)
	}
}

func TestFromHTMLRawBodyLastResort(t *testing.T) {
	v, err := FromHTML("<html><body><p>hi</p></body></html>", "https://example.com/")
	if err != nil {
		t.Fatalf("FromHTML: %v", err)
	}
	if v.Method != "raw-body" {
		t.Fatalf("method = %s, want raw-body", v.Method)
	}
}

func TestUsableRejectsErrorPages(t *testing.T) {
	long := strings.Repeat("x", 300)
	v := &View{ContentHTML: "<p>Just a moment... checking your browser " + long + "</p>"}
	if usable(v) {
		t.Fatalf("error page passed usable")
	}
}

func TestPassesRatio(t *testing.T) {
	cases := []struct {
		extracted, raw int
		want           bool
	}{
		{100, 400, true},    // raw small, gate skipped
		{100, 10000, false}, // tiny slice of a big page
		{1600, 10000, true}, // >= 15%
		{1200, 10000, true}, // < 15% but over absolute floor
	}
	for _, c := range cases {
		if got := passesRatio(c.extracted, c.raw); got != c.want {
			t.Errorf("passesRatio(%d, %d) = %v, want %v", c.extracted, c.raw, got, c.want)
		}
	}
}

func TestCleanHTMLRemovesJunk(t *testing.T) {
	page := `<html><body>
		<nav>menu</nav>
		<div class="cookie-banner">accept cookies</div>
		<div style="display:none">hidden text</div>
		<div aria-hidden="true">sr junk</div>
		<p>real content stays</p>
	</body></html>`

	out := CleanHTML(page)
	for _, gone := range []string{"menu", "accept cookies", "hidden text", "sr junk"} {
		if strings.Contains(out, gone) {
			t.Errorf("junk survived: %q", gone)
		}
	}
	if !strings.Contains(out, "real content stays") {
		t.Errorf("content removed:\n%s", out)
	}
}

func TestLDObjectsShapes(t *testing.T) {
	if got := ldObjects(`{"@type":"Article","headline":"h"}`); len(got) != 1 {
		t.Fatalf("single object: %d", len(got))
	}
	if got := ldObjects(`[{"@type":"Article"},{"@type":"Person"}]`); len(got) != 2 {
		t.Fatalf("array: %d", len(got))
	}
	got := ldObjects(`{"@context":"https://schema.org","@graph":[{"@type":"BlogPosting","headline":"g"}]}`)
	if len(got) != 2 {
		t.Fatalf("graph: %d", len(got))
	}
}
