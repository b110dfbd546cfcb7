package markdown

import "strings"

// CleanLLMOutput strips reasoning tags and an enclosing code fence
// from raw model output. Unbalanced trailing <think> content is
// dropped entirely.
func CleanLLMOutput(s string) string {
	for {
		open := strings.Index(s, "<think>")
		if open < 0 {
			break
		}
		close := strings.Index(s[open:], "</think>")
		if close < 0 {
			s = s[:open]
			break
		}
		s = s[:open] + s[open+close+len("</think>"):]
	}

	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") && strings.HasSuffix(s, "```") && len(s) > 6 {
		inner := s[3 : len(s)-3]
		if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
			first := strings.TrimSpace(inner[:nl])
			if !strings.ContainsAny(first, " \t") && len(first) < 20 {
				inner = inner[nl+1:]
			}
		}
		if !strings.Contains(inner, "```") {
			s = strings.TrimSpace(inner)
		}
	}
	return s
}
