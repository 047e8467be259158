package renamer

import (
	"strings"
	"unicode"
)

// Sanitize converts arbitrary text into a filesystem-safe base name: path
// separators and control characters are stripped, disallowed runes dropped,
// whitespace runs collapsed to a single hyphen, and the result truncated to
// maxLen runes. Returns "" if nothing safe remains.
func Sanitize(name string, maxLen int) string {
	var b strings.Builder
	space := false
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || unicode.IsSpace(r):
			space = true
		case unicode.IsControl(r):
			// drop
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.':
			if space && b.Len() > 0 {
				b.WriteByte('-')
			}
			space = false
			b.WriteRune(r)
		}
	}

	out := strings.Trim(b.String(), "-._")
	runes := []rune(out)
	if maxLen > 0 && len(runes) > maxLen {
		out = strings.Trim(string(runes[:maxLen]), "-._")
	}
	return out
}
