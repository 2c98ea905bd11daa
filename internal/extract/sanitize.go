package extract

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// SanitizeResponse turns raw model output into a flat JSON object matching
// the first-pass schema:
//   - strips markdown fences and surrounding prose
//   - flattens the nested containers models like to invent
//   - renames known key synonyms
//   - coerces numeric kWh fields and string money fields
//
// Returns the cleaned JSON and a note per adjustment made.
func SanitizeResponse(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	body, err := extractJSONObject(raw)
	if err != nil {
		return nil, nil, err
	}

	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	var notes []string
	flattenNested(m, &notes)
	renameSynonyms(m, &notes)
	renameTOUKeys(m, &notes)
	coerceFields(m, &notes)
	dropUnknownKeys(m, &notes)

	if len(notes) > 0 {
		logger.Debug("model response sanitized", "adjustments", notes)
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, nil, fmt.Errorf("sanitize: encode: %w", err)
	}
	return out, notes, nil
}

// extractJSONObject finds the outermost {...} in output that may carry
// ```json fences or prose around it.
func extractJSONObject(raw []byte) ([]byte, error) {
	s := strings.TrimSpace(string(raw))
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("sanitize: no JSON object in model output (%d bytes)", len(raw))
	}
	return []byte(s[start : end+1]), nil
}

// nestedContainers are wrapper objects models produce despite the flat
// schema. Each child key maps to the flat key it should land on.
var nestedContainers = map[string]map[string]string{
	"billing_period": {
		"start": "billing_period_start", "start_date": "billing_period_start", "from": "billing_period_start",
		"end": "billing_period_end", "end_date": "billing_period_end", "to": "billing_period_end",
	},
	"usage": {
		"total": "kwh_total", "total_kwh": "kwh_total", "kwh": "kwh_total",
	},
	"energy": {
		"total": "kwh_total", "total_kwh": "kwh_total",
	},
	"charges": {
		"total": "amount_due", "amount_due": "amount_due", "total_due": "amount_due",
		"due_date": "due_date", "currency": "currency",
	},
	"account": {
		"number": "account_number", "account_number": "account_number",
	},
}

// usageContainers name the nested sections whose child keys are time-of-use
// period labels and resolve through the terminology table.
var usageContainers = map[string]bool{"usage": true, "energy": true}

func flattenNested(m map[string]any, notes *[]string) {
	for container, mapping := range nestedContainers {
		child, ok := m[container].(map[string]any)
		if !ok {
			continue
		}
		for k, v := range child {
			flat, known := mapping[strings.ToLower(k)]
			if !known && usageContainers[container] {
				if bucket, ok := CanonicalTOUBucket(strings.ReplaceAll(strings.ToLower(k), "_", " ")); ok {
					flat, known = bucket+"_kwh", true
				}
			}
			if !known || v == nil {
				continue
			}
			if _, exists := m[flat]; !exists {
				m[flat] = v
				*notes = append(*notes, container+"."+k+"->"+flat)
			}
		}
		delete(m, container)
	}
}

// keySynonyms are top-level renames for keys models substitute for ours.
var keySynonyms = map[string]string{
	"account_no":            "account_number",
	"account":               "account_number",
	"customer_account":      "account_number",
	"utility":               "utility_name",
	"provider":              "utility_name",
	"company":               "utility_name",
	"meter":                 "meter_number",
	"meter_id":              "meter_number",
	"address":               "service_address",
	"rate":                  "rate_schedule",
	"tariff":                "rate_schedule",
	"period_start":          "billing_period_start",
	"period_end":            "billing_period_end",
	"start_date":            "billing_period_start",
	"end_date":              "billing_period_end",
	"total_due":             "amount_due",
	"amount":                "amount_due",
	"total_amount_due":      "amount_due",
	"total_kwh":             "kwh_total",
	"kwh":                   "kwh_total",
	"total_usage_kwh":       "kwh_total",
	"currency_code":         "currency",
	"model_confidence":      "confidence",
	"extraction_confidence": "confidence",
}

func renameSynonyms(m map[string]any, notes *[]string) {
	for from, to := range keySynonyms {
		v, ok := m[from]
		if !ok {
			continue
		}
		if _, exists := m[to]; !exists && v != nil {
			m[to] = v
			*notes = append(*notes, from+"->"+to)
		}
		delete(m, from)
	}
}

// renameTOUKeys folds utility-specific period keys (high_peak_kwh,
// low_peak_kwh, base_period_kwh, ...) onto the canonical buckets. The
// terminology table in terms.go is the single source of truth for these.
func renameTOUKeys(m map[string]any, notes *[]string) {
	renames := make(map[string]string)
	for k := range m {
		if allowedKeys[k] || !strings.HasSuffix(k, "_kwh") {
			continue
		}
		label := strings.ReplaceAll(strings.TrimSuffix(k, "_kwh"), "_", " ")
		if bucket, ok := CanonicalTOUBucket(label); ok {
			renames[k] = bucket + "_kwh"
		}
	}
	for from, to := range renames {
		v := m[from]
		delete(m, from)
		if _, exists := m[to]; !exists && v != nil {
			m[to] = v
			*notes = append(*notes, from+"->"+to)
		}
	}
}

var (
	numericFields = []string{"kwh_total", "on_peak_kwh", "mid_peak_kwh", "off_peak_kwh"}
	stringFields  = []string{
		"account_number", "utility_name", "meter_number", "service_address",
		"rate_schedule", "service_type", "billing_period_start",
		"billing_period_end", "due_date", "amount_due", "currency",
	}
)

func coerceFields(m map[string]any, notes *[]string) {
	for _, k := range numericFields {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			// already fine
		case string:
			s := strings.ReplaceAll(strings.TrimSpace(t), ",", "")
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				m[k] = f
				*notes = append(*notes, k+"(string->number)")
			} else {
				delete(m, k)
				*notes = append(*notes, k+"(unparseable)")
			}
		case nil:
			delete(m, k)
			*notes = append(*notes, k+"(null)")
		default:
			delete(m, k)
			*notes = append(*notes, k+"(type)")
		}
	}

	for _, k := range stringFields {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			s := strings.TrimSpace(t)
			if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") || strings.EqualFold(s, "unknown") {
				delete(m, k)
				*notes = append(*notes, k+"(empty)")
			} else {
				m[k] = s
			}
		case float64:
			m[k] = strconv.FormatFloat(t, 'f', -1, 64)
			*notes = append(*notes, k+"(number->string)")
		case nil:
			delete(m, k)
			*notes = append(*notes, k+"(null)")
		default:
			delete(m, k)
			*notes = append(*notes, k+"(type)")
		}
	}

	// amount_due often arrives as "$245.67" or "245,67"
	if v, ok := m["amount_due"].(string); ok {
		s := strings.TrimSpace(v)
		s = strings.TrimPrefix(s, "$")
		s = strings.ReplaceAll(s, ",", "")
		if s != v {
			*notes = append(*notes, "amount_due(cleaned)")
		}
		m["amount_due"] = s
	}
	if v, ok := m["currency"].(string); ok {
		m["currency"] = strings.ToUpper(v)
	}

	if v, ok := m["confidence"]; ok {
		switch t := v.(type) {
		case float64:
			if t > 1 && t <= 100 {
				m["confidence"] = t / 100
				*notes = append(*notes, "confidence(percent)")
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64); err == nil {
				if f > 1 && f <= 100 {
					f /= 100
				}
				m["confidence"] = f
				*notes = append(*notes, "confidence(string)")
			} else {
				delete(m, "confidence")
				*notes = append(*notes, "confidence(unparseable)")
			}
		default:
			delete(m, "confidence")
			*notes = append(*notes, "confidence(type)")
		}
	}
}

var allowedKeys = func() map[string]bool {
	keys := map[string]bool{"confidence": true}
	for _, k := range numericFields {
		keys[k] = true
	}
	for _, k := range stringFields {
		keys[k] = true
	}
	return keys
}()

func dropUnknownKeys(m map[string]any, notes *[]string) {
	for k := range m {
		if !allowedKeys[k] {
			delete(m, k)
			*notes = append(*notes, k+"(unknown)")
		}
	}
}
