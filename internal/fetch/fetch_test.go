package fetch

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"sumi/internal/apperr"
	"sumi/internal/config"
	"sumi/internal/guard"
)

type publicResolver struct{}

func (publicResolver) LookupIPAddr(_ context.Context, _ string) ([]net.IPAddr, error) {
	return []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}, nil
}

// loopbackChecker lets 127.0.0.1 through so httptest servers can act
// as the "public" upstream; every other host keeps the normal rules.
type loopbackChecker struct{ g *guard.Guard }

func (c loopbackChecker) Check(ctx context.Context, rawURL string) error {
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() == "127.0.0.1" {
		return nil
	}
	return c.g.Check(ctx, rawURL)
}

func permissiveGuard(t *testing.T) URLChecker {
	t.Helper()
	return loopbackChecker{g: guard.NewWithResolver(publicResolver{})}
}

func fetcherFor(t *testing.T, srv *httptest.Server) *Fetcher {
	t.Helper()
	cfg := config.Default()
	return New(&cfg.Fetcher, permissiveGuard(t))
}

func TestFetchHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	p, err := fetcherFor(t, srv).Fetch(context.Background(), srv.URL+"/page")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Kind != KindHTML {
		t.Fatalf("kind = %s, want html", p.Kind)
	}
	if !strings.Contains(string(p.Body), "hello") {
		t.Fatalf("body missing content")
	}
}

func TestFetchFeedByMIME(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(`<rss version="2.0"><channel><title>t</title></channel></rss>`))
	}))
	defer srv.Close()

	p, err := fetcherFor(t, srv).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Kind != KindFeed {
		t.Fatalf("kind = %s, want feed", p.Kind)
	}
}

func TestFetchFeedBySniff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(`<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"></feed>`))
	}))
	defer srv.Close()

	p, err := fetcherFor(t, srv).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Kind != KindFeed {
		t.Fatalf("sniffed kind = %s, want feed", p.Kind)
	}
}

func TestFetchDocumentByMIME(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer srv.Close()

	p, err := fetcherFor(t, srv).Fetch(context.Background(), srv.URL+"/report")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Kind != KindDocument || p.Format != FormatPDF {
		t.Fatalf("got kind=%s format=%s", p.Kind, p.Format)
	}
}

func TestFetchOctetStreamUsesExtension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("a,b\n1,2\n"))
	}))
	defer srv.Close()

	p, err := fetcherFor(t, srv).Fetch(context.Background(), srv.URL+"/data.csv")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Kind != KindDocument || p.Format != FormatCSV {
		t.Fatalf("got kind=%s format=%s", p.Kind, p.Format)
	}
}

func TestFetchUnsupportedMIME(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	}))
	defer srv.Close()

	_, err := fetcherFor(t, srv).Fetch(context.Background(), srv.URL)
	if !apperr.IsKind(err, apperr.KindUnsupportedContentType) {
		t.Fatalf("err = %v, want UnsupportedContentType", err)
	}
}

func TestFetchDeclaredTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Content-Length", "10485760")
		w.Write(make([]byte, 1024))
	}))
	defer srv.Close()

	_, err := fetcherFor(t, srv).Fetch(context.Background(), srv.URL)
	if !apperr.IsKind(err, apperr.KindPageTooLarge) {
		t.Fatalf("err = %v, want PageTooLarge", err)
	}
}

func TestFetchActualTooLarge(t *testing.T) {
	cfg := config.Default()
	cfg.Fetcher.MaxBodyBytes = 1024
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	f := New(&cfg.Fetcher, permissiveGuard(t))
	_, err := f.Fetch(context.Background(), srv.URL)
	if !apperr.IsKind(err, apperr.KindPageTooLarge) {
		t.Fatalf("err = %v, want PageTooLarge", err)
	}
}

func TestFetchRedirectToPrivateBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://169.254.169.254/latest/meta-data/", http.StatusFound)
	}))
	defer srv.Close()

	_, err := fetcherFor(t, srv).Fetch(context.Background(), srv.URL+"/start")
	if !apperr.IsKind(err, apperr.KindBlockedURL) {
		t.Fatalf("err = %v, want BlockedUrl", err)
	}
}

func TestFetchTooManyRedirects(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+r.URL.Path+"x", http.StatusMovedPermanently)
	}))
	defer srv.Close()

	_, err := fetcherFor(t, srv).Fetch(context.Background(), srv.URL+"/a")
	if !apperr.IsKind(err, apperr.KindTooManyRedirects) {
		t.Fatalf("err = %v, want TooManyRedirects", err)
	}
}

func TestFetchRedirectFollowed(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/final", http.StatusMovedPermanently)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>landed</body></html>"))
	}))
	defer srv.Close()

	p, err := fetcherFor(t, srv).Fetch(context.Background(), srv.URL+"/start")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.HasSuffix(p.FinalURL, "/final") {
		t.Fatalf("final URL = %s", p.FinalURL)
	}
}

func TestFetchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := fetcherFor(t, srv).Fetch(context.Background(), srv.URL)
	if !apperr.IsKind(err, apperr.KindUpstreamHTTP) {
		t.Fatalf("err = %v, want UpstreamHttp", err)
	}
	if !strings.Contains(err.Error(), "HTTP_404") {
		t.Fatalf("message %q missing HTTP_404", err.Error())
	}
}

func TestFetchChallengeDetected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("<html><title>Just a moment...</title><body>Checking your browser</body></html>"))
	}))
	defer srv.Close()

	p, err := fetcherFor(t, srv).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Kind != KindChallenge {
		t.Fatalf("kind = %s, want challenge", p.Kind)
	}
	if p.Reason == "" {
		t.Fatalf("empty challenge reason")
	}
}

func TestRobotsDisallowBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Fetcher.Robots.Respect = true
	f := New(&cfg.Fetcher, permissiveGuard(t))

	if _, err := f.Fetch(context.Background(), srv.URL+"/public"); err != nil {
		t.Fatalf("allowed path blocked: %v", err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/private/x"); !apperr.IsKind(err, apperr.KindBlockedURL) {
		t.Fatalf("disallowed path not blocked: %v", err)
	}
}

func TestBareMIME(t *testing.T) {
	if got := bareMIME("Text/HTML; charset=UTF-8"); got != "text/html" {
		t.Fatalf("bareMIME = %q", got)
	}
}

func TestDocumentFormatFromURL(t *testing.T) {
	u, _ := url.Parse("https://example.com/files/report.XLSX")
	f, ok := documentFormat("application/octet-stream", u)
	if !ok || f != FormatXLSX {
		t.Fatalf("got %v %v", f, ok)
	}
}
