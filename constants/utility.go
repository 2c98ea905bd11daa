package constants

import "strings"

// NormalizeUtilityName maps the many ways a bill (or the model) spells a
// utility onto one canonical name, so corrections and terminology tables key
// consistently.
func NormalizeUtilityName(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "Unknown"
	}
	lower := strings.ToLower(name)

	switch {
	case strings.Contains(lower, "southern california edison") || lower == "sce":
		return "Southern California Edison"
	case strings.Contains(lower, "los angeles department of water") || lower == "ladwp" || lower == "la dwp":
		return "LADWP"
	case strings.Contains(lower, "pacific gas") || lower == "pge" || lower == "pg&e":
		return "Pacific Gas & Electric"
	case strings.Contains(lower, "san diego gas") || lower == "sdge" || lower == "sdg&e":
		return "San Diego Gas & Electric"
	case strings.Contains(lower, "sacramento municipal") || lower == "smud":
		return "Sacramento Municipal Utility District"
	}
	return name
}
