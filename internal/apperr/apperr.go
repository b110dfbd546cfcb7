package apperr

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Kind classifies an error so HTTP handlers and the conversion
// orchestrator can react without string matching.
type Kind string

const (
	KindBlockedURL             Kind = "blocked_url"
	KindUpstreamHTTP           Kind = "upstream_http"
	KindTooManyRedirects       Kind = "too_many_redirects"
	KindPageTooLarge           Kind = "page_too_large"
	KindUnsupportedContentType Kind = "unsupported_content_type"
	KindTimeout                Kind = "timeout"
	KindNetwork                Kind = "network_error"
	KindParse                  Kind = "parse_error"
	KindDocumentConversion     Kind = "document_conversion_failed"
	KindLLMFailure             Kind = "llm_failure"
	KindBaasFailure            Kind = "baas_failure"
	KindBrowserPoolExhausted   Kind = "browser_pool_exhausted"
	KindBrowserNavigation      Kind = "browser_navigation_failed"
	KindCacheUnavailable       Kind = "cache_unavailable"
	KindRateLimited            Kind = "rate_limited"
	KindSchemaInvalid          Kind = "schema_invalid"
	KindJobNotFound            Kind = "job_not_found"
	KindBadRequest             Kind = "bad_request"
	KindInternal               Kind = "internal"
)

// Error carries a kind, a client-safe message, and for upstream HTTP
// failures the upstream status code.
type Error struct {
	Kind           Kind
	Msg            string
	UpstreamStatus int
}

func (e *Error) Error() string {
	if e.Kind == KindUpstreamHTTP && e.UpstreamStatus > 0 {
		return fmt.Sprintf("HTTP_%d: %s", e.UpstreamStatus, e.Msg)
	}
	return e.Msg
}

// Is lets errors.Is match by kind against a prototype error.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New constructs an Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Upstream constructs an upstream-HTTP error that preserves the status.
func Upstream(status int, msg string) *Error {
	return &Error{Kind: KindUpstreamHTTP, Msg: msg, UpstreamStatus: status}
}

// KindOf extracts the Kind from err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error to the response status code.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return 500
	}
	switch e.Kind {
	case KindBlockedURL:
		return 403
	case KindPageTooLarge:
		return 413
	case KindUnsupportedContentType:
		return 415
	case KindTooManyRedirects:
		return 502
	case KindBrowserPoolExhausted:
		return 503
	case KindUpstreamHTTP:
		if e.UpstreamStatus >= 400 && e.UpstreamStatus < 600 {
			return e.UpstreamStatus
		}
		return 502
	case KindRateLimited:
		return 429
	case KindSchemaInvalid, KindBadRequest:
		return 400
	case KindJobNotFound:
		return 404
	default:
		return 500
	}
}

var (
	pathRe  = regexp.MustCompile(`(?:[A-Za-z]:)?(?:[\\/][\w.\-]+){2,}`)
	traceRe = regexp.MustCompile(`\s+at .*?\(?[\w./\\-]+:\d+(?::\d+)?\)?`)
)

const maxErrorLen = 300

// Sanitize strips filesystem paths and stack-trace fragments from an
// error message before it is rendered to a client, and trims it to a
// short budget.
func Sanitize(msg string) string {
	msg = traceRe.ReplaceAllString(msg, "")
	msg = pathRe.ReplaceAllString(msg, "[internal]")
	msg = strings.TrimSpace(msg)
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return msg
}

// SanitizeURL drops query and fragment from a URL echoed in an error
// response and caps its length.
func SanitizeURL(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		u.RawQuery = ""
		u.Fragment = ""
		raw = u.String()
	}
	if len(raw) > 2048 {
		raw = raw[:2048]
	}
	return raw
}
