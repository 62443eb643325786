package sanitize

import (
	"strings"
	"unicode"
)

// Title strips control characters from s and truncates it to maxLen
// runes. Used to produce a log-safe preview of untrusted message
// content for per-message log lines without control-character
// injection into the log stream.
func Title(s string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if n >= maxLen {
			break
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}
