package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"sumi/internal/apperr"
	"sumi/internal/cache"
	"sumi/internal/model"
)

const landingText = `sumi converts URLs to clean Markdown.

Usage:
  GET /https://example.com/article
  GET /?url=https://example.com/article

Query parameters: mode=fit, links=citations, max_tokens=<int>.
Any other query parameter is forwarded to the target URL.

POST /extract  {"url": ..., "schema": ...}   structured extraction
POST /batch    {"urls": [...], "options": {}} up to 50 URLs
POST /async    {"url": ..., "callback_url": ...} returns a job id
GET  /job/:id  poll an async job
`

// reservedParams are consumed by the gateway; everything else in the
// query string belongs to the target URL.
var reservedParams = map[string]bool{
	"mode":       true,
	"links":      true,
	"max_tokens": true,
	"url":        true,
}

func (s *Server) handleConvert(c *fiber.Ctx) error {
	target, err := targetFromRequest(c)
	if err != nil {
		return s.errorResponse(c, err, "")
	}
	if target == "" {
		c.Set("content-type", "text/plain; charset=utf-8")
		return c.SendString(landingText)
	}

	opts := optionsFromRequest(c)
	logger := s.reqLogger(c)

	// The pipeline runs detached from the client connection so a
	// disconnect mid-conversion still populates the cache.
	result, source, err := s.svc.Convert(context.Background(), logger, target, opts)
	if err != nil {
		return s.errorResponse(c, err, target)
	}

	setConversionHeaders(c, result, source)

	etag := weakETag(result.Markdown)
	c.Set("etag", etag)
	if match := c.Get("If-None-Match"); match != "" && match == etag {
		return c.Status(fiber.StatusNotModified).Send(nil)
	}

	if acceptsJSON(c) {
		return c.JSON(result)
	}
	c.Set("content-type", "text/markdown; charset=utf-8")
	return c.SendString(markdownDocument(result))
}

// targetFromRequest reconstructs the URL to convert from either the
// ?url= form or the path form, reattaching the query parameters that
// belong to the target. An empty target means the landing page.
func targetFromRequest(c *fiber.Ctx) (string, error) {
	target := c.Query("url")
	if target == "" {
		raw := c.OriginalURL()
		if i := strings.IndexByte(raw, '?'); i >= 0 {
			raw = raw[:i]
		}
		decoded, err := url.PathUnescape(raw)
		if err != nil {
			decoded = raw
		}
		target = strings.TrimPrefix(decoded, "/")
	}
	if target == "" {
		return "", nil
	}

	target = repairScheme(target)
	if u, err := url.Parse(target); err != nil || u.Host == "" {
		return "", apperr.New(apperr.KindBadRequest, "Invalid URL")
	}

	if fwd := forwardedQuery(c); fwd != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + fwd
	}
	return target, nil
}

// collapsedSchemeRe matches "https:/host" forms left behind by proxy
// path normalisation.
var collapsedSchemeRe = regexp.MustCompile(`^(https?):/([^/])`)

func repairScheme(target string) string {
	if m := collapsedSchemeRe.FindStringSubmatch(target); m != nil {
		return m[1] + "://" + m[2] + target[len(m[0]):]
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return "https://" + target
	}
	return target
}

func forwardedQuery(c *fiber.Ctx) string {
	var parts []string
	c.Context().QueryArgs().VisitAll(func(k, v []byte) {
		if reservedParams[string(k)] {
			return
		}
		parts = append(parts, url.QueryEscape(string(k))+"="+url.QueryEscape(string(v)))
	})
	return strings.Join(parts, "&")
}

func optionsFromRequest(c *fiber.Ctx) model.Options {
	opts := model.Options{}
	if c.Query("mode") == "fit" {
		opts.Mode = model.ModeFit
	}
	if c.Query("links") == "citations" {
		opts.Links = model.LinksCitations
	}
	if n, err := strconv.Atoi(c.Query("max_tokens")); err == nil && n > 0 {
		opts.MaxTokens = n
	}
	opts.ForceBrowser = c.Get("x-force-browser") == "true"
	opts.SkipFetch = c.Get("x-skip-fetch") == "true"
	opts.SkipBaas = c.Get("x-skip-baas") == "true"
	return opts
}

func setConversionHeaders(c *fiber.Ctx, r *model.Result, source string) {
	c.Set("x-markdown-tokens", strconv.Itoa(r.Tokens))
	c.Set("x-conversion-tier", r.Tier)
	c.Set("x-conversion-time", strconv.FormatInt(r.TotalMs, 10))
	c.Set("x-readability", strconv.FormatBool(r.Readability))
	c.Set("x-extraction-method", r.Method)
	c.Set("x-quality-score", fmt.Sprintf("%.2f", r.Quality.Score))
	c.Set("x-quality-grade", r.Quality.Grade)
	if source != "" {
		c.Set("x-cache", "hit")
	} else {
		c.Set("x-cache", "miss")
	}
	c.Set("vary", "accept, accept-encoding")
	ttl := int(cache.TTLForTier(r.Tier).Seconds())
	c.Set("cache-control", "public, max-age="+strconv.Itoa(ttl))
}

func weakETag(markdown string) string {
	sum := sha256.Sum256([]byte(markdown))
	return `W/"` + hex.EncodeToString(sum[:])[:32] + `"`
}

func acceptsJSON(c *fiber.Ctx) bool {
	return strings.Contains(c.Get("Accept"), "application/json")
}

// markdownDocument renders the text/markdown response: a short header
// block, a blank line, then the body.
func markdownDocument(r *model.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", r.Title)
	fmt.Fprintf(&b, "URL Source: %s\n", r.URL)
	if r.Byline != "" {
		fmt.Fprintf(&b, "Author: %s\n", r.Byline)
	}
	if r.Excerpt != "" {
		fmt.Fprintf(&b, "Description: %s\n", r.Excerpt)
	}
	b.WriteString("\nMarkdown Content:\n")
	b.WriteString(r.Markdown)
	return b.String()
}

func (s *Server) errorResponse(c *fiber.Ctx, err error, target string) error {
	status := apperr.HTTPStatus(err)
	body := fiber.Map{"error": apperr.Sanitize(err.Error())}
	if target != "" {
		body["url"] = apperr.SanitizeURL(target)
	}
	return c.Status(status).JSON(body)
}
