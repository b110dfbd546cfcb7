package markdown

import (
	"strconv"
	"strings"
)

const linkLookahead = 2000

// Citations rewrites inline links to numbered citations with a
// References footer. Images are kept verbatim, as are fragment,
// mailto, tel, javascript, and data links. A URL shared by several
// links keeps one citation number.
func Citations(md string) string {
	var out strings.Builder
	var refs []string
	index := map[string]int{}

	i := 0
	for i < len(md) {
		c := md[i]

		if c == '\\' && i+1 < len(md) {
			out.WriteString(md[i : i+2])
			i += 2
			continue
		}

		if c == '!' && i+1 < len(md) && md[i+1] == '[' {
			if end, ok := matchLink(md, i+1); ok {
				out.WriteString(md[i:end])
				i = end
				continue
			}
		}

		if c == '[' {
			if end, ok := matchLink(md, i); ok {
				text, target := splitLink(md[i:end])
				if preserveInline(target) {
					out.WriteString(md[i:end])
				} else {
					n, seen := index[target]
					if !seen {
						refs = append(refs, target)
						n = len(refs)
						index[target] = n
					}
					out.WriteString(text)
					out.WriteString(" [")
					out.WriteString(strconv.Itoa(n))
					out.WriteString("]")
				}
				i = end
				continue
			}
		}

		out.WriteByte(c)
		i++
	}

	if len(refs) == 0 {
		return out.String()
	}

	out.WriteString("\n\nReferences:\n")
	for n, target := range refs {
		out.WriteString("[")
		out.WriteString(strconv.Itoa(n + 1))
		out.WriteString("]: ")
		out.WriteString(target)
		out.WriteString("\n")
	}
	return strings.TrimRight(out.String(), "\n")
}

func preserveInline(target string) bool {
	t := strings.ToLower(target)
	if strings.HasPrefix(t, "#") {
		return true
	}
	for _, p := range []string{"mailto:", "tel:", "javascript:", "data:"} {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	return false
}

// matchLink reports the index one past a complete `[...](...)` whose
// opening bracket is at start. Bracket and paren depths are tracked,
// backslash escapes honoured, and scanning stops after a bounded
// lookahead.
func matchLink(md string, start int) (int, bool) {
	limit := start + linkLookahead
	if limit > len(md) {
		limit = len(md)
	}

	depth := 0
	i := start
	for ; i < limit; i++ {
		switch md[i] {
		case '\\':
			i++
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				goto bracketDone
			}
		}
	}
	return 0, false

bracketDone:
	if i+1 >= len(md) || md[i+1] != '(' {
		return 0, false
	}

	depth = 0
	for j := i + 1; j < limit; j++ {
		switch md[j] {
		case '\\':
			j++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return j + 1, true
			}
		}
	}
	return 0, false
}

// splitLink decomposes a matched `[text](target)` span. The text may
// itself contain bracket pairs; a trailing quoted title inside the
// parens is dropped.
func splitLink(link string) (text, target string) {
	depth := 0
	open := -1
	for i := 0; i < len(link); i++ {
		switch link[i] {
		case '\\':
			i++
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				open = i
			}
		}
		if open >= 0 {
			break
		}
	}
	close := strings.LastIndexByte(link, ')')
	if open < 0 || close < open {
		return link, ""
	}
	text = link[1:open]
	target = strings.TrimSpace(link[open+2 : close])
	if sp := strings.IndexAny(target, " \t"); sp > 0 {
		target = target[:sp]
	}
	return text, target
}
