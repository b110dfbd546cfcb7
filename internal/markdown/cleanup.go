package markdown

import (
	"regexp"
	"strings"
)

var (
	emptyLinkRe = regexp.MustCompile(`\[\s*\]\([^)]*\)`)

	// Footnote back-references, including the wiki style with an inner
	// escaped bracket pair: [\[2\]](#cite_note-2).
	citeNestedRe = regexp.MustCompile(`\[\\?\[[^\]]*\\?\]\]\(#cite[^)]*\)`)
	citeLinkRe   = regexp.MustCompile(`\[[^\]]*\]\(#cite[^)]*\)`)

	editLinkRe = regexp.MustCompile(`\[\s*edit\s*\]\([^)]*\)`)
	markerRe   = regexp.MustCompile(`\\?\[\s*(citation needed|better source needed|clarification needed)\s*\\?\]`)

	tailHeadingRe = regexp.MustCompile(`(?mi)^#{1,6}\s*(references|notes|citations|footnotes|bibliography|external links|see also)\s*$`)

	multiNewlineRe = regexp.MustCompile(`\n{3,}`)
	trailingWSRe   = regexp.MustCompile(`(?m)[ \t]+$`)
	orphanPairRe   = regexp.MustCompile(`(?m)^\s*\[\s*\]\s*$`)

	numberedRefLineRe = regexp.MustCompile(`^\s*\[?\d+\]?[.):]\s+\S`)
)

// Cleanup applies the post-conversion passes: footnote and edit-link
// removal, truncation at trailing reference sections, and whitespace
// normalisation.
func Cleanup(md string) string {
	md = emptyLinkRe.ReplaceAllString(md, "")
	md = citeNestedRe.ReplaceAllString(md, "")
	md = citeLinkRe.ReplaceAllString(md, "")
	md = editLinkRe.ReplaceAllString(md, "")
	md = markerRe.ReplaceAllString(md, "")

	if loc := tailHeadingRe.FindStringIndex(md); loc != nil {
		md = md[:loc[0]]
	}
	md = stripTrailingReferenceList(md)

	md = multiNewlineRe.ReplaceAllString(md, "\n\n")
	md = trailingWSRe.ReplaceAllString(md, "")
	md = orphanPairRe.ReplaceAllString(md, "")
	md = multiNewlineRe.ReplaceAllString(md, "\n\n")
	return strings.TrimSpace(md)
}

// stripTrailingReferenceList removes a run of numbered reference lines
// at the very end of the document. Only fires for four or more
// consecutive numbered lines where at least half carry a URL, so
// ordinary ordered lists survive.
func stripTrailingReferenceList(md string) string {
	lines := strings.Split(md, "\n")

	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	start := end
	linked := 0
	for start > 0 {
		line := lines[start-1]
		if !numberedRefLineRe.MatchString(line) {
			break
		}
		if strings.Contains(line, "http://") || strings.Contains(line, "https://") {
			linked++
		}
		start--
	}

	count := end - start
	if count < 4 || linked*2 < count {
		return md
	}
	return strings.Join(lines[:start], "\n")
}
