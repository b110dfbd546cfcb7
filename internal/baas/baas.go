package baas

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sumi/internal/apperr"
	"sumi/internal/config"
)

const (
	requestTimeout = 60 * time.Second
	maxBodyBytes   = 10 << 20
)

// Provider renders a URL through a remote browser service and returns
// the resulting HTML.
type Provider interface {
	Name() string
	Render(ctx context.Context, target string) (string, error)
}

// Chain tries providers in cost order, falling through to the next on
// any failure. Quota exhaustion (402/429) is the expected trigger.
type Chain struct {
	providers []Provider
}

// NewChain builds the provider chain from configured API keys, cheap
// providers first.
func NewChain(cfg *config.BaasConfig) *Chain {
	c := &Chain{}
	httpClient := &http.Client{Timeout: requestTimeout}

	if cfg.ScrapingBee.APIKey != "" {
		c.providers = append(c.providers, &scrapingBee{cfg: cfg.ScrapingBee, http: httpClient})
	}
	if cfg.Browserless.APIKey != "" {
		c.providers = append(c.providers, &browserless{cfg: cfg.Browserless, http: httpClient})
	}
	if cfg.ScraperAPI.APIKey != "" {
		c.providers = append(c.providers, &scraperAPI{cfg: cfg.ScraperAPI, http: httpClient})
	}
	return c
}

func (c *Chain) Configured() bool {
	return len(c.providers) > 0
}

// Render returns the first provider's successful HTML along with the
// provider name.
func (c *Chain) Render(ctx context.Context, target string) (string, string, error) {
	if !c.Configured() {
		return "", "", apperr.New(apperr.KindBaasFailure, "no provider configured")
	}

	var lastErr error
	for _, p := range c.providers {
		html, err := p.Render(ctx, target)
		if err == nil {
			return html, p.Name(), nil
		}
		lastErr = err
	}
	return "", "", apperr.New(apperr.KindBaasFailure, "all providers failed: %v", lastErr)
}

func readRendered(resp *http.Response, provider string) (string, error) {
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusTooManyRequests {
		return "", apperr.New(apperr.KindBaasFailure, "%s quota exhausted (%d)", provider, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperr.New(apperr.KindBaasFailure, "%s status %d", provider, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", apperr.New(apperr.KindBaasFailure, "%s read failed", provider)
	}
	html := string(body)
	if strings.TrimSpace(html) == "" {
		return "", apperr.New(apperr.KindBaasFailure, "%s returned empty body", provider)
	}
	return html, nil
}

type scrapingBee struct {
	cfg  config.BaasProviderConfig
	http *http.Client
}

func (s *scrapingBee) Name() string { return "scrapingbee" }

func (s *scrapingBee) Render(ctx context.Context, target string) (string, error) {
	base := s.cfg.BaseURL
	if base == "" {
		base = "https://app.scrapingbee.com/api/v1/"
	}
	q := url.Values{
		"api_key":   {s.cfg.APIKey},
		"url":       {target},
		"render_js": {"true"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return "", apperr.New(apperr.KindBaasFailure, "scrapingbee request build failed")
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", apperr.New(apperr.KindBaasFailure, "scrapingbee request failed")
	}
	return readRendered(resp, s.Name())
}

type browserless struct {
	cfg  config.BaasProviderConfig
	http *http.Client
}

func (b *browserless) Name() string { return "browserless" }

func (b *browserless) Render(ctx context.Context, target string) (string, error) {
	base := b.cfg.BaseURL
	if base == "" {
		base = "https://chrome.browserless.io"
	}
	payload, _ := json.Marshal(map[string]string{"url": target})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(base, "/")+"/content?token="+url.QueryEscape(b.cfg.APIKey),
		bytes.NewReader(payload))
	if err != nil {
		return "", apperr.New(apperr.KindBaasFailure, "browserless request build failed")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.http.Do(req)
	if err != nil {
		return "", apperr.New(apperr.KindBaasFailure, "browserless request failed")
	}
	return readRendered(resp, b.Name())
}

type scraperAPI struct {
	cfg  config.BaasProviderConfig
	http *http.Client
}

func (s *scraperAPI) Name() string { return "scraperapi" }

func (s *scraperAPI) Render(ctx context.Context, target string) (string, error) {
	base := s.cfg.BaseURL
	if base == "" {
		base = "https://api.scraperapi.com/"
	}
	q := url.Values{
		"api_key": {s.cfg.APIKey},
		"url":     {target},
		"render":  {"true"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return "", apperr.New(apperr.KindBaasFailure, "scraperapi request build failed")
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", apperr.New(apperr.KindBaasFailure, "scraperapi request failed")
	}
	return readRendered(resp, s.Name())
}
