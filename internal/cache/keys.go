package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"sumi/internal/model"
)

// fingerprint is the 32-hex SHA-256 prefix used in every cache key.
func fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:32]
}

var trackingParams = []string{"fbclid", "gclid", "mc_cid", "mc_eid"}

// NormalizeURL canonicalises a URL for cache keying: tracking
// parameters removed, remaining query sorted, fragment stripped.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""

	q := u.Query()
	for name := range q {
		if strings.HasPrefix(strings.ToLower(name), "utm_") {
			q.Del(name)
			continue
		}
		for _, t := range trackingParams {
			if strings.EqualFold(name, t) {
				q.Del(name)
				break
			}
		}
	}

	if len(q) == 0 {
		u.RawQuery = ""
	} else {
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for _, v := range vals {
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(parts, "&")
	}
	return u.String()
}

// ResultKey fingerprints a conversion request: the normalised target
// plus every option that changes the output.
func ResultKey(rawURL string, opts model.Options) string {
	var suffix strings.Builder
	if opts.Mode == model.ModeFit {
		suffix.WriteString("|mode=fit")
	}
	if opts.Links == model.LinksCitations {
		suffix.WriteString("|links=citations")
	}
	if opts.MaxTokens > 0 {
		fmt.Fprintf(&suffix, "|max_tokens=%d", opts.MaxTokens)
	}
	if opts.ForceBrowser {
		suffix.WriteString("|force_browser")
	}
	if opts.SkipFetch {
		suffix.WriteString("|skip_fetch")
	}
	if opts.SkipBaas {
		suffix.WriteString("|skip_baas")
	}
	return "cache:" + fingerprint(NormalizeURL(rawURL)+suffix.String())
}

// ExtractKey fingerprints an /extract request by target URL and the
// canonicalised schema.
func ExtractKey(rawURL string, schema json.RawMessage) string {
	canonical := canonicalJSON(schema)
	return "extract:" + fingerprint(NormalizeURL(rawURL)) + ":" + fingerprint(canonical)
}

// canonicalJSON re-marshals the schema so formatting differences do
// not split the cache. Go's encoder sorts map keys.
func canonicalJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
