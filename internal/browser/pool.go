package browser

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"sumi/internal/apperr"
	"sumi/internal/config"
)

// HostChecker validates hosts of sub-requests issued by rendered
// pages. *guard.Guard is the production implementation.
type HostChecker interface {
	CheckHost(ctx context.Context, host string) error
}

// Pool hands out headless-browser pages under a hard concurrency cap.
// The underlying browser is launched lazily, reused across pages, and
// relaunched (serialised, once per acquire) when found disconnected.
// Acquire fails fast on saturation instead of queueing.
type Pool struct {
	cfg   *config.BrowserConfig
	guard HostChecker
	slots chan struct{}

	mu      sync.Mutex
	browser *rod.Browser
}

// Page is an acquired browser page bound to its own incognito context.
type Page struct {
	pool    *Pool
	ctx     *rod.Browser
	page    *rod.Page
	stopHij func()
}

func NewPool(cfg *config.BrowserConfig, g HostChecker) *Pool {
	max := cfg.MaxPages
	if max <= 0 {
		max = 3
	}
	return &Pool{
		cfg:   cfg,
		guard: g,
		slots: make(chan struct{}, max),
	}
}

// AcquirePage reserves a pool slot and opens a fresh page in a new
// incognito context with request interception installed.
func (p *Pool) AcquirePage(ctx context.Context) (*Page, error) {
	select {
	case p.slots <- struct{}{}:
	default:
		return nil, apperr.New(apperr.KindBrowserPoolExhausted, "browser pool exhausted")
	}

	page, err := p.openPage(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}
	return page, nil
}

// Render acquires a page, navigates it to rawURL, and returns the
// post-render HTML snapshot.
func (p *Pool) Render(ctx context.Context, rawURL string) (string, error) {
	pg, err := p.AcquirePage(ctx)
	if err != nil {
		return "", err
	}
	defer p.Release(pg)
	return pg.Navigate(rawURL)
}

// Release tears down the page and its context and frees the slot.
func (p *Pool) Release(pg *Page) {
	if pg == nil {
		return
	}
	if pg.stopHij != nil {
		pg.stopHij()
	}
	if pg.page != nil {
		_ = pg.page.Close()
	}
	if pg.ctx != nil {
		_ = pg.ctx.Close()
	}
	<-p.slots
}

// IsReady reports whether a browser connection is currently usable.
func (p *Pool) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser == nil {
		return false
	}
	_, err := proto.BrowserGetVersion{}.Call(p.browser)
	return err == nil
}

// Close shuts down the shared browser process.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser != nil {
		_ = p.browser.Close()
		p.browser = nil
	}
}

// ensureBrowser returns a connected browser, relaunching at most once
// if the previous connection died. Relaunches are serialised by mu.
func (p *Pool) ensureBrowser() (*rod.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.browser != nil {
		if _, err := (proto.BrowserGetVersion{}).Call(p.browser); err == nil {
			return p.browser, nil
		}
		_ = p.browser.Close()
		p.browser = nil
	}

	b := rod.New()
	if p.cfg.ControlURL != "" {
		b = b.ControlURL(p.cfg.ControlURL)
	}
	if err := b.Connect(); err != nil {
		return nil, apperr.New(apperr.KindBrowserNavigation, "browser launch failed: %v", err)
	}
	p.browser = b
	return b, nil
}

const desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

func (p *Pool) openPage(ctx context.Context) (*Page, error) {
	browser, err := p.ensureBrowser()
	if err != nil {
		return nil, err
	}

	ictx, err := browser.Incognito()
	if err != nil {
		return nil, apperr.New(apperr.KindBrowserNavigation, "browser context failed: %v", err)
	}
	ictx = ictx.Context(ctx)

	page, err := ictx.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = ictx.Close()
		return nil, apperr.New(apperr.KindBrowserNavigation, "page open failed: %v", err)
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: desktopUA}); err != nil {
		_ = page.Close()
		_ = ictx.Close()
		return nil, apperr.New(apperr.KindBrowserNavigation, "page setup failed: %v", err)
	}
	_ = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width: 1366, Height: 768, DeviceScaleFactor: 1,
	})

	// Intercept every sub-request the page issues; anything whose host
	// fails the guard is aborted before a connection is made.
	router := page.HijackRequests()
	err = router.Add("*", "", func(h *rod.Hijack) {
		host := h.Request.URL().Hostname()
		if err := p.guard.CheckHost(ctx, host); err != nil {
			h.Response.Fail(proto.NetworkErrorReasonAccessDenied)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		_ = page.Close()
		_ = ictx.Close()
		return nil, apperr.New(apperr.KindBrowserNavigation, "request interception failed: %v", err)
	}
	go router.Run()

	return &Page{
		pool:    p,
		ctx:     ictx,
		page:    page,
		stopHij: func() { _ = router.Stop() },
	}, nil
}

// Navigate loads url with a two-stage wait and returns the rendered
// HTML: network idle up to the nav timeout, then a retry waiting only
// for DOM content. After either stage it waits for the body's visible
// text to reach a minimum length before snapshotting.
func (pg *Page) Navigate(url string) (string, error) {
	navTimeout := pg.pool.navTimeout()

	if err := pg.page.Timeout(navTimeout).Navigate(url); err != nil {
		return "", apperr.New(apperr.KindBrowserNavigation, "navigation failed: %v", err)
	}

	if err := pg.waitNetworkIdle(navTimeout); err == nil {
		pg.waitBodyText(2 * time.Second)
	} else if err := pg.waitDOMContentLoaded(navTimeout); err == nil {
		pg.waitBodyText(8 * time.Second)
	} else {
		return "", apperr.New(apperr.KindBrowserNavigation, "page did not settle: %v", err)
	}

	html, err := pg.page.HTML()
	if err != nil {
		return "", apperr.New(apperr.KindBrowserNavigation, "snapshot failed: %v", err)
	}
	return html, nil
}

func (p *Pool) navTimeout() time.Duration {
	if p.cfg.NavTimeoutMs > 0 {
		return time.Duration(p.cfg.NavTimeoutMs) * time.Millisecond
	}
	return 15 * time.Second
}

func (pg *Page) waitNetworkIdle(timeout time.Duration) error {
	page := pg.page.Timeout(timeout)
	if err := page.WaitLoad(); err != nil {
		return err
	}
	wait := page.WaitRequestIdle(500*time.Millisecond, nil, nil, nil)
	wait()
	return nil
}

// waitDOMContentLoaded polls readyState instead of subscribing to the
// lifecycle event, which may already have fired by the time we retry.
func (pg *Page) waitDOMContentLoaded(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		res, err := pg.page.Eval(`() => document.readyState`)
		if err == nil {
			state := strings.TrimSpace(res.Value.Str())
			if state == "interactive" || state == "complete" {
				return nil
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	return apperr.New(apperr.KindBrowserNavigation, "DOM never became ready")
}

// waitBodyText waits (best effort) until the visible body text exceeds
// 200 characters, giving SPA shells a moment to hydrate.
func (pg *Page) waitBodyText(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		res, err := pg.page.Eval(`() => document.body ? document.body.innerText.length : 0`)
		if err == nil && res.Value.Int() > 200 {
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
}
