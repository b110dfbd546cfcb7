package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"sumi/internal/config"
	"sumi/internal/convert"
	"sumi/internal/jobs"
	"sumi/internal/llm"
	"sumi/internal/model"
)

type fakeService struct {
	mu       sync.Mutex
	lastURL  string
	lastOpts model.Options
	result   *model.Result
	err      error
	source   string
}

func (f *fakeService) Convert(_ context.Context, _ *slog.Logger, rawURL string, opts model.Options) (*model.Result, string, error) {
	f.mu.Lock()
	f.lastURL = rawURL
	f.lastOpts = opts
	f.mu.Unlock()
	if f.err != nil {
		return nil, "", f.err
	}
	r := *f.result
	r.URL = rawURL
	return &r, f.source, nil
}

func (f *fakeService) Batch(_ context.Context, _ *slog.Logger, urls []string, _ model.Options) []convert.BatchItem {
	items := make([]convert.BatchItem, len(urls))
	for i, u := range urls {
		items[i] = convert.BatchItem{URL: u, Result: f.result}
	}
	return items
}

func (f *fakeService) last() (string, model.Options) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastURL, f.lastOpts
}

type fakeSchema struct {
	calls int
	out   *llm.Extraction
}

func (f *fakeSchema) Configured() bool { return true }

func (f *fakeSchema) ExtractSchema(context.Context, string, json.RawMessage, string) (*llm.Extraction, error) {
	f.calls++
	return f.out, nil
}

func sampleResult() *model.Result {
	return &model.Result{
		Title:       "Sample",
		Markdown:    "# Sample\n\nBody text here.",
		Tokens:      6,
		Tier:        "fetch",
		Method:      "readability",
		Quality:     model.Quality{Score: 0.85, Grade: "A"},
		Readability: true,
		TotalMs:     12,
	}
}

func newTestServer(t *testing.T, svc ConversionService, deps Deps) *Server {
	t.Helper()
	deps.Service = svc
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(config.Default(), logger, deps)
}

func doRequest(t *testing.T, s *Server, req *http.Request) *http.Response {
	t.Helper()
	resp, err := s.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestLandingPage(t *testing.T) {
	s := newTestServer(t, &fakeService{result: sampleResult()}, Deps{})
	resp := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "GET /https://example.com/article") {
		t.Fatalf("landing page missing usage text:\n%s", body)
	}
}

func TestConvertMarkdownResponse(t *testing.T) {
	svc := &fakeService{result: sampleResult()}
	s := newTestServer(t, svc, Deps{})

	resp := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/https://example.com/article", nil))
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	for header, want := range map[string]string{
		"x-conversion-tier":   "fetch",
		"x-extraction-method": "readability",
		"x-quality-grade":     "A",
		"x-cache":             "miss",
		"x-markdown-tokens":   "6",
		"cache-control":       "public, max-age=300",
	} {
		if got := resp.Header.Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if et := resp.Header.Get("etag"); !strings.HasPrefix(et, `W/"`) {
		t.Errorf("etag = %q", et)
	}

	body, _ := io.ReadAll(resp.Body)
	text := string(body)
	if !strings.HasPrefix(text, "Title: Sample\nURL Source: https://example.com/article\n") {
		t.Fatalf("header block wrong:\n%s", text)
	}
	if !strings.Contains(text, "\nMarkdown Content:\n# Sample") {
		t.Fatalf("markdown body missing:\n%s", text)
	}
}

func TestConvertJSONResponse(t *testing.T) {
	s := newTestServer(t, &fakeService{result: sampleResult()}, Deps{})

	req := httptest.NewRequest(http.MethodGet, "/https://example.com/article", nil)
	req.Header.Set("Accept", "application/json")
	resp := doRequest(t, s, req)

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["content"] != "# Sample\n\nBody text here." {
		t.Fatalf("content = %v", out["content"])
	}
	if out["tier"] != "fetch" {
		t.Fatalf("tier = %v", out["tier"])
	}
}

func TestConvertTargetAndOptions(t *testing.T) {
	svc := &fakeService{result: sampleResult()}
	s := newTestServer(t, svc, Deps{})

	doRequest(t, s, httptest.NewRequest(http.MethodGet,
		"/https://example.com/a?x=1&mode=fit&links=citations&max_tokens=100", nil))

	gotURL, gotOpts := svc.last()
	if gotURL != "https://example.com/a?x=1" {
		t.Fatalf("target = %q", gotURL)
	}
	if gotOpts.Mode != model.ModeFit || gotOpts.Links != model.LinksCitations || gotOpts.MaxTokens != 100 {
		t.Fatalf("opts = %+v", gotOpts)
	}
}

func TestConvertSchemelessTarget(t *testing.T) {
	svc := &fakeService{result: sampleResult()}
	s := newTestServer(t, svc, Deps{})

	doRequest(t, s, httptest.NewRequest(http.MethodGet, "/example.com/page", nil))
	gotURL, _ := svc.last()
	if gotURL != "https://example.com/page" {
		t.Fatalf("target = %q", gotURL)
	}
}

func TestConvertQueryURLForm(t *testing.T) {
	svc := &fakeService{result: sampleResult()}
	s := newTestServer(t, svc, Deps{})

	doRequest(t, s, httptest.NewRequest(http.MethodGet, "/?url=https%3A%2F%2Fexample.com%2Fq", nil))
	gotURL, _ := svc.last()
	if gotURL != "https://example.com/q" {
		t.Fatalf("target = %q", gotURL)
	}
}

func TestConvertETagRoundTrip(t *testing.T) {
	s := newTestServer(t, &fakeService{result: sampleResult()}, Deps{})

	first := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/https://example.com/a", nil))
	etag := first.Header.Get("etag")
	if etag == "" {
		t.Fatalf("no etag on first response")
	}

	req := httptest.NewRequest(http.MethodGet, "/https://example.com/a", nil)
	req.Header.Set("If-None-Match", etag)
	second := doRequest(t, s, req)
	if second.StatusCode != http.StatusNotModified {
		t.Fatalf("status = %d, want 304", second.StatusCode)
	}
	body, _ := io.ReadAll(second.Body)
	if len(body) != 0 {
		t.Fatalf("304 carried a body: %q", body)
	}
	if second.Header.Get("x-conversion-tier") != "fetch" {
		t.Fatalf("conversion headers missing on 304")
	}
}

func TestExtractHostileSchema(t *testing.T) {
	schema := &fakeSchema{out: &llm.Extraction{Data: map[string]any{"a": "b"}, Valid: true}}
	s := newTestServer(t, &fakeService{result: sampleResult()}, Deps{Schema: schema})

	body := `{"url":"https://example.com","schema":{"type":"object","properties":{"a":{"type":"string"}},"$ref":"x"}}`
	req := httptest.NewRequest(http.MethodPost, "/extract", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := doRequest(t, s, req)

	if resp.StatusCode != 400 {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	if out["error"] != "Unsupported schema keyword: $ref" {
		t.Fatalf("error = %v", out["error"])
	}
	if schema.calls != 0 {
		t.Fatalf("LLM was called %d times for a rejected schema", schema.calls)
	}
}

func TestExtractRunsPipeline(t *testing.T) {
	schema := &fakeSchema{out: &llm.Extraction{Data: map[string]any{"title": "Sample"}, Valid: true, URL: "https://example.com"}}
	s := newTestServer(t, &fakeService{result: sampleResult()}, Deps{Schema: schema})

	body := `{"url":"https://example.com","schema":{"type":"object","properties":{"title":{"type":"string"}}}}`
	req := httptest.NewRequest(http.MethodPost, "/extract", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := doRequest(t, s, req)

	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out llm.Extraction
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Valid || schema.calls != 1 {
		t.Fatalf("valid=%v calls=%d", out.Valid, schema.calls)
	}
}

func TestBatchTooManyURLs(t *testing.T) {
	s := newTestServer(t, &fakeService{result: sampleResult()}, Deps{})

	urls := make([]string, 51)
	for i := range urls {
		urls[i] = "https://example.com/x"
	}
	body, _ := json.Marshal(map[string]any{"urls": urls})
	req := httptest.NewRequest(http.MethodPost, "/batch", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")

	resp := doRequest(t, s, req)
	if resp.StatusCode != 400 {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestBatchResponseShape(t *testing.T) {
	s := newTestServer(t, &fakeService{result: sampleResult()}, Deps{})

	req := httptest.NewRequest(http.MethodPost, "/batch",
		strings.NewReader(`{"urls":["https://a.com","https://b.com"]}`))
	req.Header.Set("Content-Type", "application/json")
	resp := doRequest(t, s, req)

	var out batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Total != 2 || len(out.Results) != 2 {
		t.Fatalf("total=%d results=%d", out.Total, len(out.Results))
	}
	if out.Results[0].URL != "https://a.com" {
		t.Fatalf("order lost: %+v", out.Results)
	}
}

func TestAsyncJobLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	store := jobs.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	s := newTestServer(t, &fakeService{result: sampleResult()}, Deps{Jobs: store})

	req := httptest.NewRequest(http.MethodPost, "/async",
		strings.NewReader(`{"url":"https://example.com/a"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := doRequest(t, s, req)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var accepted map[string]string
	json.NewDecoder(resp.Body).Decode(&accepted)
	if accepted["job_id"] == "" || accepted["poll_url"] != "/job/"+accepted["job_id"] {
		t.Fatalf("accepted body: %v", accepted)
	}

	var view jobView
	deadline := time.Now().Add(3 * time.Second)
	for {
		poll := doRequest(t, s, httptest.NewRequest(http.MethodGet, accepted["poll_url"], nil))
		raw, _ := io.ReadAll(poll.Body)
		if err := json.Unmarshal(raw, &view); err != nil {
			t.Fatalf("poll decode: %v", err)
		}
		if strings.Contains(string(raw), "callback_url") {
			t.Fatalf("poll response leaks callback_url: %s", raw)
		}
		if view.Status == string(model.JobCompleted) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never completed: %+v", view)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if view.Result == nil || view.Result.Title != "Sample" {
		t.Fatalf("completed job missing result: %+v", view)
	}
}

func TestJobNotFound(t *testing.T) {
	mr := miniredis.RunT(t)
	store := jobs.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	s := newTestServer(t, &fakeService{result: sampleResult()}, Deps{Jobs: store})

	resp := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/job/ffffffffffff", nil))
	if resp.StatusCode != 404 {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthShallow(t *testing.T) {
	s := newTestServer(t, &fakeService{result: sampleResult()}, Deps{})
	resp := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out map[string]string
	json.NewDecoder(resp.Body).Decode(&out)
	if out["status"] != "ok" {
		t.Fatalf("health = %v", out)
	}
}
