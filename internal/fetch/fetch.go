package fetch

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/temoto/robotstxt"

	"sumi/internal/apperr"
	"sumi/internal/config"
	"sumi/internal/guard"
)

// URLChecker validates a URL before the fetcher connects to it.
// *guard.Guard is the production implementation.
type URLChecker interface {
	Check(ctx context.Context, rawURL string) error
}

var _ URLChecker = (*guard.Guard)(nil)

// Fetcher performs guarded HTTP GETs with manual redirect handling.
// Redirects are followed by hand so that every hop is re-validated
// through the URL guard before a connection is made.
type Fetcher struct {
	cfg    *config.FetcherConfig
	guard  URLChecker
	client *http.Client
}

func New(cfg *config.FetcherConfig, g URLChecker) *Fetcher {
	return &Fetcher{
		cfg:   cfg,
		guard: g,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

const acceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

// Fetch GETs rawURL and routes the response into a tagged Payload.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Payload, error) {
	current, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperr.New(apperr.KindBadRequest, "invalid URL")
	}

	if f.cfg.Robots.Respect {
		if err := f.checkRobots(ctx, current); err != nil {
			return nil, err
		}
	}

	maxRedirects := f.cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 5
	}

	for hop := 0; ; hop++ {
		if err := f.guard.Check(ctx, current.String()); err != nil {
			if hop > 0 {
				return nil, apperr.New(apperr.KindBlockedURL, "Blocked URL: redirect to private address")
			}
			return nil, err
		}

		resp, err := f.do(ctx, current)
		if err != nil {
			return nil, err
		}

		if loc := redirectLocation(resp); loc != "" {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
			if hop+1 > maxRedirects {
				return nil, apperr.New(apperr.KindTooManyRedirects, "too many redirects (%d)", hop+1)
			}
			next, err := current.Parse(loc)
			if err != nil {
				return nil, apperr.New(apperr.KindNetwork, "invalid redirect location")
			}
			current = next
			continue
		}

		return f.route(resp, current)
	}
}

func (f *Fetcher) do(ctx context.Context, u *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, apperr.New(apperr.KindNetwork, "build request: %v", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return nil, apperr.New(apperr.KindTimeout, "upstream timeout")
		}
		return nil, apperr.New(apperr.KindNetwork, "upstream request failed")
	}
	return resp, nil
}

func redirectLocation(resp *http.Response) string {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return resp.Header.Get("Location")
	}
	return ""
}

// route reads the body under the size cap and classifies it by MIME.
func (f *Fetcher) route(resp *http.Response, u *url.URL) (*Payload, error) {
	defer resp.Body.Close()

	maxBytes := f.cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	if resp.ContentLength > maxBytes {
		return nil, apperr.New(apperr.KindPageTooLarge, "page too large: %d bytes", resp.ContentLength)
	}

	mimeHeader := bareMIME(resp.Header.Get("Content-Type"))

	if resp.StatusCode >= 400 {
		// Anti-bot interstitials arrive as 403/503 HTML; surface them
		// as a challenge payload so the orchestrator can escalate.
		if (resp.StatusCode == 403 || resp.StatusCode == 503) && isHTMLLike(mimeHeader) {
			body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
			if err == nil && int64(len(body)) <= maxBytes {
				if reason := challengeReason(body); reason != "" {
					return &Payload{
						Kind:     KindChallenge,
						Body:     body,
						FinalURL: u.String(),
						Reason:   reason,
						Status:   resp.StatusCode,
					}, nil
				}
			}
			return nil, apperr.Upstream(resp.StatusCode, "upstream returned "+resp.Status)
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, apperr.Upstream(resp.StatusCode, "upstream returned "+resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.New(apperr.KindTimeout, "upstream timeout")
		}
		return nil, apperr.New(apperr.KindNetwork, "read body failed")
	}
	if int64(len(body)) > maxBytes {
		return nil, apperr.New(apperr.KindPageTooLarge, "page too large: over %d bytes", maxBytes)
	}

	mimeType := mimeHeader
	finalURL := u.String()

	switch {
	case isFeedMIME(mimeType):
		return &Payload{Kind: KindFeed, Body: body, FinalURL: finalURL, Status: resp.StatusCode}, nil

	case mimeType == "text/xml" || mimeType == "application/xml":
		if sniffFeed(body) {
			return &Payload{Kind: KindFeed, Body: body, FinalURL: finalURL, Status: resp.StatusCode}, nil
		}
		return &Payload{Kind: KindHTML, Body: body, FinalURL: finalURL, Status: resp.StatusCode}, nil

	default:
		if format, ok := documentFormat(mimeType, u); ok {
			return &Payload{Kind: KindDocument, Body: body, Format: format, FinalURL: finalURL, Status: resp.StatusCode}, nil
		}
		if !isHTMLLike(mimeType) {
			return nil, apperr.New(apperr.KindUnsupportedContentType, "unsupported content type %q", mimeType)
		}
		return &Payload{Kind: KindHTML, Body: body, FinalURL: finalURL, Status: resp.StatusCode}, nil
	}
}

func bareMIME(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return strings.ToLower(mt)
}

func isFeedMIME(m string) bool {
	switch m {
	case "application/rss+xml", "application/atom+xml", "application/feed+json", "application/json+feed":
		return true
	}
	return false
}

// sniffFeed peeks the first bytes of an ambiguous XML body for feed
// root elements.
func sniffFeed(body []byte) bool {
	head := body
	if len(head) > 500 {
		head = head[:500]
	}
	s := string(head)
	return strings.Contains(s, "<rss") || strings.Contains(s, "<feed") || strings.Contains(s, "<rdf:RDF")
}

var challengeMarkers = []string{
	"just a moment",
	"checking your browser",
	"cf-browser-verification",
	"challenge-platform",
	"attention required",
	"ddos protection by",
}

// challengeReason returns the matched anti-bot marker, or "".
func challengeReason(body []byte) string {
	head := body
	if len(head) > 16<<10 {
		head = head[:16<<10]
	}
	s := strings.ToLower(string(head))
	for _, m := range challengeMarkers {
		if strings.Contains(s, m) {
			return m
		}
	}
	return ""
}

var documentMIMEs = map[string]DocFormat{
	"application/pdf": FormatPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": FormatDOCX,
	"application/msword": FormatDOCX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       FormatXLSX,
	"application/vnd.ms-excel": FormatXLSX,
	"text/csv":                 FormatCSV,
	"application/csv":          FormatCSV,
}

var extensionFormats = map[string]DocFormat{
	".pdf":  FormatPDF,
	".docx": FormatDOCX,
	".doc":  FormatDOCX,
	".xlsx": FormatXLSX,
	".xls":  FormatXLSX,
	".csv":  FormatCSV,
}

func documentFormat(mimeType string, u *url.URL) (DocFormat, bool) {
	if f, ok := documentMIMEs[mimeType]; ok {
		return f, true
	}
	if mimeType == "application/octet-stream" || mimeType == "" {
		ext := strings.ToLower(path.Ext(u.Path))
		if f, ok := extensionFormats[ext]; ok {
			return f, true
		}
	}
	return "", false
}

func isHTMLLike(m string) bool {
	if m == "" {
		return true
	}
	switch m {
	case "text/html", "application/xhtml+xml", "application/json":
		return true
	}
	return strings.HasPrefix(m, "text/")
}

// checkRobots consults robots.txt for the target host when enabled.
// Missing or unreachable robots files allow the fetch.
func (f *Fetcher) checkRobots(ctx context.Context, u *url.URL) error {
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	if err := f.guard.Check(ctx, robotsURL); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return nil
	}
	robots, err := robotstxt.FromBytes(data)
	if err != nil {
		return nil
	}
	if !robots.FindGroup(f.cfg.UserAgent).Test(u.Path) {
		return apperr.New(apperr.KindBlockedURL, "disallowed by robots.txt")
	}
	return nil
}
