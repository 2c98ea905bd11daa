// Package reduce shrinks normalized bill text to the lines that matter for
// extraction. Reduction is deterministic and idempotent: reducing already
// reduced text returns it unchanged, so cache keys derived from the output
// are stable.
package reduce

import (
	"strings"
	"unicode"
)

// keywords mark lines worth keeping even when they carry no digits. Matched
// case-insensitively as substrings.
var keywords = []string{
	"account", "customer", "service", "meter", "billing", "bill",
	"due", "total", "amount", "balance", "payment", "charge",
	"kwh", "kw", "usage", "energy", "electric", "gas", "water",
	"peak", "off-peak", "on-peak", "demand", "rate", "schedule",
	"period", "from", "to", "date", "address",
	"ladwp", "edison", "sce", "pg&e", "pge", "sdg&e", "smud",
	"department of water", "utility",
}

// Reduce collapses whitespace, drops boilerplate lines, and deduplicates
// repeated non-numeric lines. Every line containing a digit survives, so no
// numeric value present in the input is lost.
func Reduce(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	seen := make(map[string]bool)
	blank := true // suppress leading blanks and blank runs

	for _, line := range lines {
		line = collapseSpaces(line)
		if line == "" {
			if !blank {
				out = append(out, "")
				blank = true
			}
			continue
		}
		if !keep(line) {
			continue
		}
		if !hasDigit(line) {
			key := strings.ToLower(line)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, line)
		blank = false
	}

	// no trailing blank line
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// keep reports whether a line is informative: any digit, or a billing
// keyword.
func keep(line string) bool {
	if hasDigit(line) {
		return true
	}
	lower := strings.ToLower(line)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// collapseSpaces trims the line and folds internal whitespace runs
// (including form feeds and tabs from page breaks) into single spaces.
func collapseSpaces(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
