package markdown

import (
	"math"
	"regexp"
	"strings"

	"sumi/internal/model"
)

// Phrases that mark an anti-bot or error page. Shared by the quality
// scorer, the extractor's usable predicate, and the orchestrator's
// challenge-title check.
var ErrorPhrases = []string{
	"just a moment",
	"please enable javascript",
	"please enable cookies",
	"checking your browser",
	"access denied",
	"attention required",
	"verify you are a human",
	"are you a robot",
	"page not found",
	"404 not found",
	"captcha",
	"ddos protection",
	"enable javascript and cookies",
}

// ContainsErrorPhrase reports whether s (case-insensitive) contains
// any known error-page phrase.
func ContainsErrorPhrase(s string) bool {
	low := strings.ToLower(s)
	for _, p := range ErrorPhrases {
		if strings.Contains(low, p) {
			return true
		}
	}
	return false
}

// SPA payload fingerprints. Their presence in the markdown means the
// converter swallowed a framework bootstrap blob instead of content.
var frameworkPatterns = []string{
	"self.__next_f =",
	"__NUXT__",
	"window.__remixContext",
	"ng-version=",
	"___gatsby",
	"q:container",
	"ember-application",
	"astro-island",
	"webpackChunk",
	"window.__INITIAL_STATE__",
}

var boilerplatePhrases = []string{
	"accept cookies",
	"cookie policy",
	"privacy policy",
	"terms of service",
	"terms and conditions",
	"all rights reserved",
	"subscribe to our newsletter",
	"sign up for",
	"advertisement",
	"sponsored content",
	"related articles",
	"share this",
	"follow us",
}

var (
	headingLineRe   = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)
	listLineRe      = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+\S`)
	mdLinkTextRe    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdPunctRe       = regexp.MustCompile("[#*_`>\\[\\]()!|-]")
	blankParagraphs = regexp.MustCompile(`\S\n\s*\n\s*\S`)
)

// plainTextLen measures the printable text left after stripping
// markdown punctuation and link targets.
func plainTextLen(md string) int {
	s := mdLinkTextRe.ReplaceAllString(md, "$1")
	s = mdPunctRe.ReplaceAllString(s, "")
	return len(strings.TrimSpace(s))
}

// Score computes the deterministic quality of a markdown document.
func Score(md string) model.Quality {
	if strings.TrimSpace(md) == "" {
		return model.Quality{Score: 0, Grade: "F"}
	}

	mdLen := len(md)
	textLen := plainTextLen(md)

	length := math.Min(float64(textLen)/1000, 1)
	textDensity := math.Min(float64(textLen)/float64(mdLen), 1)

	structureHits := 0
	if headingLineRe.MatchString(md) {
		structureHits++
	}
	if blankParagraphs.MatchString(md) {
		structureHits++
	}
	if listLineRe.MatchString(md) {
		structureHits++
	}
	structure := [4]float64{0.1, 0.4, 0.7, 1}[structureHits]

	low := strings.ToLower(md)
	hits := 0
	for _, p := range boilerplatePhrases {
		if strings.Contains(low, p) {
			hits++
		}
	}
	boilerplate := math.Max(0, 1-0.15*float64(hits))

	linkChars := 0
	for _, m := range mdLinkTextRe.FindAllStringSubmatch(md, -1) {
		linkChars += len(m[1])
	}
	linkDensity := math.Max(0, 1-2*float64(linkChars)/float64(mdLen))

	challenge := 1.0
	if ContainsErrorPhrase(md) {
		challenge = 0.1
	}

	framework := 1.0
	for _, p := range frameworkPatterns {
		if strings.Contains(md, p) {
			framework = 0.1
			break
		}
	}

	thin := 1.0
	switch {
	case textLen < 300:
		thin = 0.4
	case textLen < 500:
		thin = 0.7
	}

	raw := (0.15*length + 0.25*textDensity + 0.2*structure + 0.2*boilerplate + 0.2*linkDensity) *
		challenge * framework * thin
	raw = math.Max(0, math.Min(raw, 1))
	score := math.Round(raw*100) / 100

	return model.Quality{Score: score, Grade: gradeFor(score)}
}

func gradeFor(score float64) string {
	switch {
	case score >= 0.8:
		return "A"
	case score >= 0.6:
		return "B"
	case score >= 0.4:
		return "C"
	case score >= 0.2:
		return "D"
	default:
		return "F"
	}
}
