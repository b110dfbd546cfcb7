package convert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"sumi/internal/apperr"
	"sumi/internal/cache"
	"sumi/internal/docs"
	"sumi/internal/extract"
	"sumi/internal/feed"
	"sumi/internal/fetch"
	"sumi/internal/markdown"
	"sumi/internal/metrics"
	"sumi/internal/model"
)

// Fetcher is the tier-1 HTTP fetch.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Payload, error)
}

// PageRenderer is the tier-2 headless browser.
type PageRenderer interface {
	Render(ctx context.Context, rawURL string) (string, error)
}

// ContentLLM is the tier-2.5 model-based extractor.
type ContentLLM interface {
	Configured() bool
	ExtractContent(ctx context.Context, srcHTML string) (string, error)
}

// BaasRenderer is the tier-3 anti-bot provider chain.
type BaasRenderer interface {
	Configured() bool
	Render(ctx context.Context, rawURL string) (html, provider string, err error)
}

// TranscriptSource is the YouTube fast path.
type TranscriptSource interface {
	Transcript(ctx context.Context, rawURL string) (title, md string, ok bool)
}

// URLChecker validates the target before any outbound request.
type URLChecker interface {
	Check(ctx context.Context, rawURL string) error
}

// Converter drives the tiered escalation pipeline for one URL.
type Converter struct {
	guard      URLChecker
	fetcher    Fetcher
	browser    PageRenderer
	llm        ContentLLM
	baas       BaasRenderer
	transcript TranscriptSource
	cache      *cache.Cache
}

func New(guard URLChecker, fetcher Fetcher, browser PageRenderer, llm ContentLLM, baas BaasRenderer, transcript TranscriptSource, c *cache.Cache) *Converter {
	return &Converter{
		guard:      guard,
		fetcher:    fetcher,
		browser:    browser,
		llm:        llm,
		baas:       baas,
		transcript: transcript,
		cache:      c,
	}
}

// candidate is one tier's output before the winner is chosen.
type candidate struct {
	markdown    string
	html        string
	title       string
	excerpt     string
	byline      string
	siteName    string
	method      string
	tier        string
	quality     model.Quality
	readability bool
}

// run tracks the state of one conversion attempt.
type run struct {
	url        string
	opts       model.Options
	start      time.Time
	escalation []string
	cfFlag     bool

	best        *candidate
	fetchErr    error
	browserErr  error
	tier1Status int
}

func (r *run) escalate(format string, args ...any) {
	r.escalation = append(r.escalation, fmt.Sprintf(format, args...))
}

// adopt replaces the current best when the challenger's quality is
// strictly higher (or nothing has been adopted yet).
func (r *run) adopt(c *candidate) bool {
	if r.best == nil || c.quality.Score > r.best.quality.Score {
		r.best = c
		return true
	}
	return false
}

// Convert produces a conversion result for rawURL, consulting the
// cache first. The returned source is "" on a miss.
func (c *Converter) Convert(ctx context.Context, logger *slog.Logger, rawURL string, opts model.Options) (*model.Result, string, error) {
	if err := c.guard.Check(ctx, rawURL); err != nil {
		return nil, "", err
	}

	key := cache.ResultKey(rawURL, opts)
	if c.cache != nil {
		if cached, source, ok := c.cache.GetResult(ctx, key); ok {
			metrics.CacheLookupsTotal.WithLabelValues("hit:" + source).Inc()
			return cached, source, nil
		}
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
	}

	result, err := c.build(ctx, logger, rawURL, opts)
	if err != nil {
		return nil, "", err
	}

	if c.cache != nil {
		c.cache.SetResult(ctx, key, result)
	}
	metrics.ConversionsTotal.WithLabelValues(result.Tier).Inc()
	metrics.ConversionDuration.WithLabelValues(result.Tier).Observe(float64(result.TotalMs) / 1000)
	metrics.QualityScore.Observe(result.Quality.Score)
	return result, "", nil
}

func (c *Converter) build(ctx context.Context, logger *slog.Logger, rawURL string, opts model.Options) (*model.Result, error) {
	r := &run{url: rawURL, opts: opts, start: time.Now()}

	// YouTube fast path: transcript failures fall through to the
	// generic tiers rather than erroring.
	if c.transcript != nil {
		if title, md, ok := c.transcript.Transcript(ctx, rawURL); ok {
			r.best = &candidate{
				markdown: md,
				title:    title,
				method:   "youtube-transcript",
				tier:     "youtube",
				quality:  markdown.Score(md),
			}
			return c.finish(r), nil
		}
	}

	if fastResult, done, err := c.tier1(ctx, logger, r); done {
		return fastResult, err
	}

	c.tier2(ctx, logger, r)
	c.race(ctx, logger, r)

	if r.best == nil {
		return nil, c.synthesizeFailure(r)
	}
	return c.finish(r), nil
}

// tier1 fetches and extracts. The boolean result reports that the
// conversion is already complete (fast paths and hard failures).
func (c *Converter) tier1(ctx context.Context, logger *slog.Logger, r *run) (*model.Result, bool, error) {
	if r.opts.SkipFetch {
		r.escalate("fetch skipped by request")
		return nil, false, nil
	}

	payload, err := c.fetcher.Fetch(ctx, r.url)
	if err != nil {
		// Guard rejections and rate-type errors fail the request
		// immediately; transport-level failures escalate instead.
		switch apperr.KindOf(err) {
		case apperr.KindBlockedURL, apperr.KindPageTooLarge, apperr.KindUnsupportedContentType:
			return nil, true, err
		case apperr.KindUpstreamHTTP:
			if upstream, ok := err.(*apperr.Error); ok {
				r.tier1Status = upstream.UpstreamStatus
			}
		}
		r.fetchErr = err
		r.escalate("fetch failed (%v)", err)
		logger.Warn("tier1 fetch failed", "url", apperr.SanitizeURL(r.url), "error", err.Error())
		return nil, false, nil
	}
	r.tier1Status = payload.Status

	switch payload.Kind {
	case fetch.KindFeed:
		title, md, err := feed.Convert(payload.Body, payload.FinalURL)
		if err != nil {
			return nil, true, err
		}
		r.best = &candidate{markdown: md, title: title, method: "feed", tier: "feed", quality: markdown.Score(md)}
		return c.finish(r), true, nil

	case fetch.KindDocument:
		md, err := docs.Convert(ctx, payload.Body, payload.Format, payload.FinalURL)
		if err != nil {
			return nil, true, err
		}
		r.best = &candidate{
			markdown: md,
			title:    titleFromURL(payload.FinalURL),
			method:   "document",
			tier:     "document:" + string(payload.Format),
			quality:  markdown.Score(md),
		}
		return c.finish(r), true, nil

	case fetch.KindChallenge:
		r.cfFlag = true
		r.escalate("challenge page detected: %s", payload.Reason)
		cand := c.buildHTMLCandidate(string(payload.Body), payload.FinalURL, "fetch")
		if cand != nil {
			r.adopt(cand)
		}
		return nil, false, nil
	}

	cand := c.buildHTMLCandidate(string(payload.Body), payload.FinalURL, "fetch")
	if cand == nil {
		r.fetchErr = apperr.New(apperr.KindParse, "extraction produced nothing")
		r.escalate("fetch failed (extraction produced nothing)")
		return nil, false, nil
	}
	r.adopt(cand)

	if c.challengeTitle(cand) {
		r.cfFlag = true
		r.escalate("challenge page detected: title match")
	}

	if c.goodTier1(cand) && !r.opts.ForceBrowser {
		return c.finish(r), true, nil
	}
	if !c.goodTier1(cand) {
		r.escalate("low quality %.2f via %s", cand.quality.Score, cand.method)
	}
	return nil, false, nil
}

// tier2 renders with the headless browser when the predicates call
// for it. A browser failure after a usable tier-1 result is a silent
// downgrade, recorded only in the escalation log.
func (c *Converter) tier2(ctx context.Context, logger *slog.Logger, r *run) {
	if !c.needsBrowser(r) {
		if c.cfPoisoned(r) {
			r.escalate("CF challenge → trying BaaS")
		}
		return
	}
	if c.browser == nil {
		r.escalate("browser unavailable")
		return
	}

	metrics.BrowserPagesActive.Inc()
	html, err := c.browser.Render(ctx, r.url)
	metrics.BrowserPagesActive.Dec()
	if err != nil {
		if apperr.IsKind(err, apperr.KindBrowserPoolExhausted) {
			metrics.BrowserPoolExhausted.Inc()
		}
		r.browserErr = err
		r.escalate("browser failed: %v", err)
		logger.Warn("tier2 browser failed", "url", apperr.SanitizeURL(r.url), "error", err.Error())
		return
	}

	cand := c.buildHTMLCandidate(html, r.url, "browser")
	if cand == nil {
		r.browserErr = apperr.New(apperr.KindParse, "extraction produced nothing")
		r.escalate("browser failed: extraction produced nothing")
		return
	}
	if r.adopt(cand) {
		metrics.EscalationsTotal.WithLabelValues("fetch", "browser").Inc()
	} else {
		r.escalate("browser result not better (%.2f)", cand.quality.Score)
	}
}

// race runs the LLM and BaaS escalations concurrently when both are
// wanted, then adopts the strictly best candidate.
func (c *Converter) race(ctx context.Context, logger *slog.Logger, r *run) {
	needLLM := c.needsLLM(r)
	needBaas := c.needsBaas(r)
	if !needLLM && !needBaas {
		return
	}
	if needLLM && needBaas {
		r.escalate("quality %.2f → racing LLM + BaaS", c.currentScore(r))
	}

	var llmCand, baasCand *candidate
	var llmNote, baasNote string
	g, gctx := errgroup.WithContext(ctx)

	if needLLM {
		srcHTML := c.bestHTML(r)
		g.Go(func() error {
			md, err := c.llm.ExtractContent(gctx, srcHTML)
			if err != nil {
				llmNote = fmt.Sprintf("LLM failed: %v", err)
				return nil
			}
			md = markdown.Cleanup(markdown.ResolveURLs(md, r.url))
			llmCand = &candidate{
				markdown: md,
				html:     srcHTML,
				method:   "llm-extraction",
				tier:     "llm",
				quality:  markdown.Score(md),
			}
			return nil
		})
	}

	if needBaas {
		g.Go(func() error {
			html, provider, err := c.baas.Render(gctx, r.url)
			if err != nil {
				baasNote = fmt.Sprintf("BaaS failed: %v", err)
				return nil
			}
			cand := c.buildHTMLCandidate(html, r.url, "baas:"+provider)
			if cand == nil {
				baasNote = "BaaS failed: extraction produced nothing"
				return nil
			}
			baasCand = cand
			return nil
		})
	}

	g.Wait()
	if llmNote != "" {
		r.escalate("%s", llmNote)
		logger.Warn("llm escalation failed", "url", apperr.SanitizeURL(r.url))
	}
	if baasNote != "" {
		r.escalate("%s", baasNote)
		logger.Warn("baas escalation failed", "url", apperr.SanitizeURL(r.url))
	}

	from := "fetch"
	if r.best != nil && r.best.tier != "" {
		from = r.best.tier
	}
	if llmCand != nil && r.adopt(llmCand) {
		metrics.EscalationsTotal.WithLabelValues(from, "llm").Inc()
	}
	if baasCand != nil && r.adopt(baasCand) {
		metrics.EscalationsTotal.WithLabelValues(from, baasCand.tier).Inc()
		// A provider that got through means the challenge no longer
		// poisons the result.
		r.cfFlag = false
	}
}

// buildHTMLCandidate runs extraction and markdown conversion over an
// HTML payload for the named tier.
func (c *Converter) buildHTMLCandidate(srcHTML, finalURL, tier string) *candidate {
	view, err := extract.FromHTML(srcHTML, finalURL)
	if err != nil {
		return nil
	}

	var md string
	if view.Markdown != "" {
		md = markdown.Cleanup(markdown.ResolveURLs(view.Markdown, finalURL))
	} else {
		md, err = markdown.Convert(view.ContentHTML, finalURL)
		if err != nil {
			return nil
		}
	}
	if strings.TrimSpace(md) == "" {
		return nil
	}

	return &candidate{
		markdown:    md,
		html:        srcHTML,
		title:       view.Title,
		excerpt:     view.Excerpt,
		byline:      view.Byline,
		siteName:    view.SiteName,
		method:      view.Method,
		tier:        tier,
		quality:     markdown.Score(md),
		readability: primaryMethods[view.Method],
	}
}

var primaryMethods = map[string]bool{
	"readability":         true,
	"readability-cleaned": true,
	"article-extractor":   true,
	"defuddle":            true,
}

func (c *Converter) goodTier1(cand *candidate) bool {
	return primaryMethods[cand.method] || cand.quality.Score >= 0.6
}

func (c *Converter) challengeTitle(cand *candidate) bool {
	return cand.title != "" && markdown.ContainsErrorPhrase(cand.title)
}

func (c *Converter) cfPoisoned(r *run) bool {
	return r.cfFlag && !r.opts.SkipFetch && !r.opts.ForceBrowser
}

func (c *Converter) needsBrowser(r *run) bool {
	if c.cfPoisoned(r) {
		return false
	}
	if r.tier1Status >= 400 && r.tier1Status < 500 && !r.cfFlag {
		return false
	}
	if r.opts.ForceBrowser || r.opts.SkipFetch {
		return true
	}
	if r.best == nil {
		return true
	}
	return r.cfFlag || !c.goodTier1(r.best)
}

func (c *Converter) needsLLM(r *run) bool {
	if c.llm == nil || !c.llm.Configured() {
		return false
	}
	return c.bestHTML(r) != "" && c.currentScore(r) < 0.6
}

func (c *Converter) needsBaas(r *run) bool {
	if c.baas == nil || !c.baas.Configured() || r.opts.SkipBaas {
		return false
	}
	return c.cfPoisoned(r) || c.currentScore(r) < 0.4
}

func (c *Converter) currentScore(r *run) float64 {
	if r.best == nil {
		return 0
	}
	return r.best.quality.Score
}

func (c *Converter) bestHTML(r *run) string {
	if r.best == nil {
		return ""
	}
	return r.best.html
}

// synthesizeFailure names both tier errors when nothing produced a
// usable result.
func (c *Converter) synthesizeFailure(r *run) error {
	fetchMsg := "not attempted"
	if r.fetchErr != nil {
		fetchMsg = r.fetchErr.Error()
	}
	browserMsg := "not attempted"
	if r.browserErr != nil {
		browserMsg = r.browserErr.Error()
	}
	if r.fetchErr != nil && r.browserErr == nil {
		return r.fetchErr
	}
	return apperr.New(apperr.KindInternal, "conversion failed: fetch: %s; browser: %s", fetchMsg, browserMsg)
}

// finish applies the once-per-conversion post-processing: citations,
// prune-to-fit, and the final stamps.
func (c *Converter) finish(r *run) *model.Result {
	best := r.best

	md := best.markdown
	if r.opts.Links == model.LinksCitations {
		md = markdown.Citations(md)
	}
	tokens := markdown.CountTokens(md)

	fitMd := markdown.PruneToFit(md, r.opts.MaxTokens)
	fitTokens := markdown.CountTokens(fitMd)

	result := &model.Result{
		Title:       best.title,
		URL:         r.url,
		Markdown:    md,
		FitMarkdown: fitMd,
		Tokens:      tokens,
		FitTokens:   fitTokens,
		Tier:        best.tier,
		Method:      best.method,
		Quality:     best.quality,
		Readability: best.readability,
		Excerpt:     best.excerpt,
		Byline:      best.byline,
		SiteName:    best.siteName,
		TotalMs:     time.Since(r.start).Milliseconds(),
		CfChallenge: r.cfFlag,
		Escalation:  r.escalation,
	}

	if r.opts.Mode == model.ModeFit {
		result.Markdown = fitMd
		result.Tokens = fitTokens
	}
	return result
}

func titleFromURL(rawURL string) string {
	if i := strings.LastIndexByte(rawURL, '/'); i >= 0 && i+1 < len(rawURL) {
		name := rawURL[i+1:]
		if q := strings.IndexByte(name, '?'); q >= 0 {
			name = name[:q]
		}
		return name
	}
	return rawURL
}
