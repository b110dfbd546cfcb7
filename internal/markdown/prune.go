package markdown

import (
	"math"
	"regexp"
	"strings"
)

var boilerplateHeadingRe = regexp.MustCompile(`(?i)cookie|privacy|terms|disclaimer|advertisement|related|popular|trending|sidebar|footer|nav|menu|sign.?up|log.?in|subscribe|newsletter|share|social|comment|copyright`)

var atxHeadingRe = regexp.MustCompile(`(?m)^(#{1,6})\s+(.*)$`)

type section struct {
	heading string
	level   int
	body    string
}

// PruneToFit removes low-value sections from md, yielding the compact
// view served in fit mode. If pruning would discard more than 80% of
// the input, the original is returned untouched. A positive maxTokens
// additionally truncates the result.
func PruneToFit(md string, maxTokens int) string {
	trimmed := strings.TrimSpace(md)
	if trimmed == "" {
		return trimmed
	}

	sections := splitSections(trimmed)

	var kept []string
	for _, s := range sections {
		if sectionScore(s) > 0.15 {
			kept = append(kept, s.text())
		}
	}

	pruned := strings.TrimSpace(strings.Join(kept, "\n\n"))
	if len(pruned) < len(trimmed)/5 {
		pruned = trimmed
	}

	if maxTokens > 0 {
		pruned = truncateToTokens(pruned, maxTokens)
	}
	return pruned
}

func (s section) text() string {
	if s.heading == "" {
		return strings.TrimSpace(s.body)
	}
	return strings.TrimSpace(strings.Repeat("#", s.level) + " " + s.heading + "\n\n" + strings.TrimSpace(s.body))
}

func splitSections(md string) []section {
	locs := atxHeadingRe.FindAllStringSubmatchIndex(md, -1)
	if len(locs) == 0 {
		return []section{{body: md}}
	}

	var out []section
	if locs[0][0] > 0 {
		out = append(out, section{body: md[:locs[0][0]]})
	}
	for i, loc := range locs {
		end := len(md)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		out = append(out, section{
			heading: strings.TrimSpace(md[loc[4]:loc[5]]),
			level:   loc[3] - loc[2],
			body:    md[loc[1]:end],
		})
	}
	return out
}

// sectionScore rates one heading-delimited section. Boilerplate
// headings score zero, link farms near zero, and substantial prose
// approaches one.
func sectionScore(s section) float64 {
	if s.heading != "" && boilerplateHeadingRe.MatchString(s.heading) {
		return 0
	}

	textLen := plainTextLen(s.body)
	if textLen == 0 {
		return 0
	}

	linkChars := 0
	for _, m := range mdLinkTextRe.FindAllStringSubmatch(s.body, -1) {
		linkChars += len(m[1])
	}
	linkDensity := float64(linkChars) / float64(textLen)
	if linkDensity > 1 {
		linkDensity = 1
	}

	if linkDensity > 0.6 {
		return 0.1
	}
	if s.level >= 3 && textLen < 50 {
		return 0.2
	}

	return math.Min(1, float64(textLen)/200) * (1 - linkDensity*0.5)
}

// truncateToTokens cuts md down to roughly maxTokens tokens using the
// document's own characters-per-token ratio, marking the cut with an
// ellipsis.
func truncateToTokens(md string, maxTokens int) string {
	tokens := CountTokens(md)
	if tokens <= maxTokens {
		return md
	}

	charsPerToken := float64(len(md)) / float64(tokens)
	cut := int(float64(maxTokens) * charsPerToken)
	if cut >= len(md) {
		return md
	}
	if cut < 0 {
		cut = 0
	}

	truncated := md[:cut]
	if i := strings.LastIndexByte(truncated, '\n'); i > cut/2 {
		truncated = truncated[:i]
	}
	return strings.TrimSpace(truncated) + "\n\n[...truncated]"
}
