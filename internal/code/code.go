package code

import (
	"regexp"
	"strings"
)

var reCode = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{0,31}$`)

// IsCode returns true if s matches ^[A-Z0-9][A-Z0-9_-]{0,31}$
func IsCode(s string) bool {
	return reCode.MatchString(s)
}

// Normalize converts s to code form: upper-case, runs of other characters
// collapse to a single '-', capped at 32 chars, leading/trailing separators
// trimmed. Example: "cost center 01" -> "COST-CENTER-01".
func Normalize(s string) string {
	if s == "" {
		return s
	}
	out := make([]rune, 0, len(s))
	prevSep := false
	for _, r := range strings.ToUpper(s) {
		switch {
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			out = append(out, r)
			prevSep = false
		case r == '-' || r == '_':
			if !prevSep {
				out = append(out, r)
				prevSep = true
			}
		default:
			if !prevSep {
				out = append(out, '-')
				prevSep = true
			}
		}
		if len(out) >= 32 {
			break
		}
	}
	return strings.Trim(string(out), "-_")
}
