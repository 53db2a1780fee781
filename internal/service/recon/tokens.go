package recon

import "strings"

// tokenOverlap scores textual similarity of two descriptions as the share
// of shared tokens relative to the smaller token set. Tokens are lower-cased
// alphanumeric runs of at least two characters, so punctuation and bank
// formatting noise do not count.
func tokenOverlap(a, b string) float64 {
	ta := tokenize(a)
	tb := tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	if len(tb) < len(ta) {
		ta, tb = tb, ta
	}
	shared := 0
	for tok := range ta {
		if tb[tok] {
			shared++
		}
	}
	return float64(shared) / float64(len(ta))
}

func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	var sb strings.Builder
	flush := func() {
		if sb.Len() >= 2 {
			out[strings.ToLower(sb.String())] = true
		}
		sb.Reset()
	}
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			sb.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return out
}
