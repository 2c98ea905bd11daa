package extract

import "strings"

// touSynonyms maps printed time-of-use period labels to canonical buckets.
// LADWP prints High Peak / Low Peak / Base Period; SCE and most others use
// On-Peak / Mid-Peak / Off-Peak. The mapping goes by period meaning, so
// LADWP's "Low Peak" lands on off_peak even though the words suggest
// otherwise.
var touSynonyms = map[string]string{
	"on peak":        "on_peak",
	"on-peak":        "on_peak",
	"onpeak":         "on_peak",
	"peak":           "on_peak",
	"high peak":      "on_peak",
	"high-peak":      "on_peak",
	"mid peak":       "mid_peak",
	"mid-peak":       "mid_peak",
	"midpeak":        "mid_peak",
	"base":           "mid_peak",
	"base period":    "mid_peak",
	"shoulder":       "mid_peak",
	"off peak":       "off_peak",
	"off-peak":       "off_peak",
	"offpeak":        "off_peak",
	"low peak":       "off_peak",
	"low-peak":       "off_peak",
	"super off peak": "off_peak",
	"super off-peak": "off_peak",
}

// CanonicalTOUBucket maps a printed period label to on_peak, mid_peak or
// off_peak; ok is false for unrecognized labels.
func CanonicalTOUBucket(label string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(label))
	key = strings.TrimSuffix(key, " kwh")
	key = strings.TrimSuffix(key, " period")
	if key == "base" {
		return "mid_peak", true
	}
	bucket, ok := touSynonyms[key]
	return bucket, ok
}

// canonicalServiceType normalizes service_type values to the small set we
// store: electric, gas, water, or combined when the bill covers more than
// one service (LADWP bills water and power together).
func canonicalServiceType(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	electric := strings.Contains(s, "electric") || strings.Contains(s, "power")
	gas := strings.Contains(s, "gas")
	water := strings.Contains(s, "water")

	services := 0
	for _, present := range []bool{electric, gas, water} {
		if present {
			services++
		}
	}
	switch {
	case strings.Contains(s, "combined"), services > 1:
		return "combined"
	case electric:
		return "electric"
	case gas:
		return "gas"
	case water:
		return "water"
	}
	return ""
}
