package bundler

import "strings"

// ExtractKeywords lowercases prompt, splits on non-alphanumeric runs,
// drops stop-words and tokens shorter than minLength, and keeps the
// first cap unique tokens in first-occurrence order.
func ExtractKeywords(prompt string, stopWords []string, minLength, cap int) []string {
	stop := make(map[string]bool, len(stopWords))
	for _, w := range stopWords {
		stop[strings.ToLower(w)] = true
	}

	seen := make(map[string]bool)
	var out []string
	var cur strings.Builder

	flush := func() {
		tok := cur.String()
		cur.Reset()
		if len(tok) < minLength {
			return
		}
		if stop[tok] {
			return
		}
		if seen[tok] {
			return
		}
		seen[tok] = true
		out = append(out, tok)
	}

	for _, r := range strings.ToLower(prompt) {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if isAlnum {
			cur.WriteRune(r)
		} else {
			flush()
		}
		if cap > 0 && len(out) >= cap {
			return out
		}
	}
	flush()

	if cap > 0 && len(out) > cap {
		out = out[:cap]
	}
	return out
}
