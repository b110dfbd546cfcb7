package convert

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"sumi/internal/cache"
	"sumi/internal/fetch"
	"sumi/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type allowAll struct{}

func (allowAll) Check(context.Context, string) error { return nil }

type stubFetcher struct {
	payload *fetch.Payload
	err     error
	calls   atomic.Int32
}

func (s *stubFetcher) Fetch(context.Context, string) (*fetch.Payload, error) {
	s.calls.Add(1)
	return s.payload, s.err
}

type stubBrowser struct {
	html  string
	err   error
	calls atomic.Int32
}

func (s *stubBrowser) Render(context.Context, string) (string, error) {
	s.calls.Add(1)
	return s.html, s.err
}

type stubBaas struct {
	html     string
	provider string
	err      error
}

func (s *stubBaas) Configured() bool { return true }

func (s *stubBaas) Render(context.Context, string) (string, string, error) {
	return s.html, s.provider, s.err
}

type stubTranscript struct {
	title, md string
	ok        bool
}

func (s stubTranscript) Transcript(context.Context, string) (string, string, bool) {
	return s.title, s.md, s.ok
}

func articleHTML() string {
	para := "<p>" + strings.Repeat("This article explains the subject in careful, useful detail. ", 8) + "</p>"
	return `<html><head><title>Deep Dive</title></head><body>
		<article><h1>Deep Dive</h1>` + para + para + para + `</article>
	</body></html>`
}

func htmlPayload(body string) *fetch.Payload {
	return &fetch.Payload{Kind: fetch.KindHTML, Body: []byte(body), FinalURL: "https://example.com/a", Status: 200}
}

func TestConvertReadableArticleStopsAtTier1(t *testing.T) {
	f := &stubFetcher{payload: htmlPayload(articleHTML())}
	b := &stubBrowser{}
	c := New(allowAll{}, f, b, nil, nil, nil, nil)

	res, source, err := c.Convert(context.Background(), testLogger(), "https://example.com/a", model.Options{})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if source != "" {
		t.Fatalf("source = %q on a cold run", source)
	}
	if res.Tier != "fetch" {
		t.Fatalf("tier = %s, want fetch", res.Tier)
	}
	if !res.Readability {
		t.Fatalf("readability flag not set for method %s", res.Method)
	}
	if b.calls.Load() != 0 {
		t.Fatalf("browser ran %d times for a good article", b.calls.Load())
	}
	if len(res.Escalation) != 0 {
		t.Fatalf("unexpected escalation: %v", res.Escalation)
	}
}

func TestConvertFeedFastPath(t *testing.T) {
	rss := `<?xml version="1.0"?><rss version="2.0"><channel>
		<title>Wire</title><link>https://example.com</link>
		<item><title>One</title><link>https://example.com/1</link><description>first</description></item>
	</channel></rss>`
	f := &stubFetcher{payload: &fetch.Payload{Kind: fetch.KindFeed, Body: []byte(rss), FinalURL: "https://example.com/feed", Status: 200}}
	c := New(allowAll{}, f, nil, nil, nil, nil, nil)

	res, _, err := c.Convert(context.Background(), testLogger(), "https://example.com/feed", model.Options{})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.Tier != "feed" || res.Method != "feed" {
		t.Fatalf("tier/method = %s/%s", res.Tier, res.Method)
	}
	if !strings.Contains(res.Markdown, "# Wire") {
		t.Fatalf("feed markdown missing title:\n%s", res.Markdown)
	}
}

func TestConvertDocumentFastPath(t *testing.T) {
	f := &stubFetcher{payload: &fetch.Payload{
		Kind:     fetch.KindDocument,
		Format:   fetch.FormatCSV,
		Body:     []byte("name,count\nalpha,1\nbeta,2\n"),
		FinalURL: "https://example.com/data.csv",
		Status:   200,
	}}
	c := New(allowAll{}, f, nil, nil, nil, nil, nil)

	res, _, err := c.Convert(context.Background(), testLogger(), "https://example.com/data.csv", model.Options{})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.Tier != "document:csv" {
		t.Fatalf("tier = %s, want document:csv", res.Tier)
	}
	if res.Title != "data.csv" {
		t.Fatalf("title = %q", res.Title)
	}
	if !strings.Contains(res.Markdown, "| alpha | 1 |") {
		t.Fatalf("table missing:\n%s", res.Markdown)
	}
}

func TestConvertYouTubeFastPath(t *testing.T) {
	f := &stubFetcher{}
	tr := stubTranscript{title: "Talk", md: "# Talk\n\n[0:01] hello there everyone", ok: true}
	c := New(allowAll{}, f, nil, nil, nil, tr, nil)

	res, _, err := c.Convert(context.Background(), testLogger(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ", model.Options{})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.Tier != "youtube" || res.Method != "youtube-transcript" {
		t.Fatalf("tier/method = %s/%s", res.Tier, res.Method)
	}
	if f.calls.Load() != 0 {
		t.Fatalf("fetch ran despite transcript fast path")
	}
}

func TestConvertLowQualityEscalatesToBrowser(t *testing.T) {
	f := &stubFetcher{payload: htmlPayload("<html><body><p>hi</p></body></html>")}
	b := &stubBrowser{html: articleHTML()}
	c := New(allowAll{}, f, b, nil, nil, nil, nil)

	res, _, err := c.Convert(context.Background(), testLogger(), "https://example.com/a", model.Options{})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.Tier != "browser" {
		t.Fatalf("tier = %s, want browser", res.Tier)
	}
	if b.calls.Load() != 1 {
		t.Fatalf("browser calls = %d", b.calls.Load())
	}
	joined := strings.Join(res.Escalation, "\n")
	if !strings.Contains(joined, "low quality") {
		t.Fatalf("escalation log missing low quality note: %v", res.Escalation)
	}
}

func TestConvertBrowserFailureKeepsTier1(t *testing.T) {
	f := &stubFetcher{payload: htmlPayload("<html><body><p>thin page</p></body></html>")}
	b := &stubBrowser{err: context.DeadlineExceeded}
	c := New(allowAll{}, f, b, nil, nil, nil, nil)

	res, _, err := c.Convert(context.Background(), testLogger(), "https://example.com/a", model.Options{})
	if err != nil {
		t.Fatalf("browser failure should downgrade, got %v", err)
	}
	if res.Tier != "fetch" {
		t.Fatalf("tier = %s, want fetch", res.Tier)
	}
	joined := strings.Join(res.Escalation, "\n")
	if !strings.Contains(joined, "browser failed") {
		t.Fatalf("escalation log missing browser failure: %v", res.Escalation)
	}
}

func TestConvertChallengePrefersBaas(t *testing.T) {
	challenge := "<html><head><title>Just a moment...</title></head><body>Checking your browser before accessing</body></html>"
	f := &stubFetcher{payload: &fetch.Payload{
		Kind:     fetch.KindChallenge,
		Body:     []byte(challenge),
		Reason:   "cloudflare marker",
		FinalURL: "https://example.com/a",
		Status:   403,
	}}
	b := &stubBrowser{html: articleHTML()}
	baas := &stubBaas{html: articleHTML(), provider: "scrapingbee"}
	c := New(allowAll{}, f, b, nil, baas, nil, nil)

	res, _, err := c.Convert(context.Background(), testLogger(), "https://example.com/a", model.Options{})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.Tier != "baas:scrapingbee" {
		t.Fatalf("tier = %s, want baas:scrapingbee", res.Tier)
	}
	if res.CfChallenge {
		t.Fatalf("cf flag should clear after a provider got through")
	}
	if b.calls.Load() != 0 {
		t.Fatalf("browser ran %d times for a poisoned challenge", b.calls.Load())
	}
	joined := strings.Join(res.Escalation, "\n")
	if !strings.Contains(joined, "challenge page detected") {
		t.Fatalf("escalation log missing challenge note: %v", res.Escalation)
	}
}

func TestConvertModeFitSwapsBody(t *testing.T) {
	f := &stubFetcher{payload: htmlPayload(articleHTML())}
	c := New(allowAll{}, f, nil, nil, nil, nil, nil)

	res, _, err := c.Convert(context.Background(), testLogger(), "https://example.com/a", model.Options{Mode: model.ModeFit, MaxTokens: 30})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.Markdown != res.FitMarkdown {
		t.Fatalf("fit mode should serve the fit body")
	}
	if res.Tokens != res.FitTokens {
		t.Fatalf("fit mode should serve fit token count")
	}
	if res.FitTokens > 60 {
		t.Fatalf("fit tokens = %d, want near the 30 budget", res.FitTokens)
	}
}

func TestConvertCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	store := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 10)

	f := &stubFetcher{payload: htmlPayload(articleHTML())}
	c := New(allowAll{}, f, nil, nil, nil, nil, store)
	ctx := context.Background()

	if _, source, err := c.Convert(ctx, testLogger(), "https://example.com/a", model.Options{}); err != nil || source != "" {
		t.Fatalf("cold run: source=%q err=%v", source, err)
	}
	res, source, err := c.Convert(ctx, testLogger(), "https://example.com/a", model.Options{})
	if err != nil {
		t.Fatalf("warm run: %v", err)
	}
	if source != cache.SourcePrimary {
		t.Fatalf("source = %q, want %q", source, cache.SourcePrimary)
	}
	if f.calls.Load() != 1 {
		t.Fatalf("fetch calls = %d, want 1", f.calls.Load())
	}
	if res.Tier != "fetch" {
		t.Fatalf("cached tier = %s", res.Tier)
	}
}

type switchFetcher struct{}

func (switchFetcher) Fetch(_ context.Context, rawURL string) (*fetch.Payload, error) {
	if strings.Contains(rawURL, "bad") {
		return nil, context.DeadlineExceeded
	}
	return htmlPayload(articleHTML()), nil
}

func TestBatchPreservesOrder(t *testing.T) {
	c := New(allowAll{}, switchFetcher{}, nil, nil, nil, nil, nil)
	urls := []string{
		"https://example.com/one",
		":::invalid",
		"https://example.com/bad",
		"https://example.com/three",
	}

	items := c.Batch(context.Background(), testLogger(), urls, model.Options{})
	if len(items) != 4 {
		t.Fatalf("items = %d", len(items))
	}
	for i, u := range urls {
		if items[i].URL != u {
			t.Fatalf("slot %d holds %s, want %s", i, items[i].URL, u)
		}
	}
	if items[0].Result == nil || items[3].Result == nil {
		t.Fatalf("good URLs missing results: %+v", items)
	}
	if items[1].Error != "Invalid URL" {
		t.Fatalf("invalid URL error = %q", items[1].Error)
	}
	if items[2].Error == "" || items[2].Result != nil {
		t.Fatalf("failing URL should carry an error: %+v", items[2])
	}
}

func TestTitleFromURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://example.com/report.pdf", "report.pdf"},
		{"https://example.com/dir/data.csv?dl=1", "data.csv"},
		{"https://example.com/", "https://example.com/"},
	}
	for _, c := range cases {
		if got := titleFromURL(c.in); got != c.want {
			t.Errorf("titleFromURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
