package extract

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// billFieldsSchema is the first-pass contract: every field optional, loose
// enough that an incomplete extraction still passes. Completeness is judged
// in the second pass, not here.
const billFieldsSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"account_number":       {"type": "string", "minLength": 1},
		"utility_name":         {"type": "string", "minLength": 1},
		"meter_number":         {"type": "string"},
		"service_address":      {"type": "string"},
		"rate_schedule":        {"type": "string"},
		"service_type":         {"type": "string"},
		"billing_period_start": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
		"billing_period_end":   {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
		"due_date":             {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
		"amount_due":           {"type": "string", "pattern": "^-?\\d+(\\.\\d{1,2})?$"},
		"currency":             {"type": "string", "minLength": 3, "maxLength": 3},
		"kwh_total":            {"type": "number", "minimum": 0},
		"on_peak_kwh":          {"type": "number", "minimum": 0},
		"mid_peak_kwh":         {"type": "number", "minimum": 0},
		"off_peak_kwh":         {"type": "number", "minimum": 0},
		"confidence":           {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

var compiledSchema = jsonschema.MustCompileString("billfields.json", billFieldsSchema)

// validateAgainstSchema checks sanitized JSON against the first-pass schema.
func validateAgainstSchema(doc []byte) error {
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("schema: decode: %w", err)
	}
	if err := compiledSchema.Validate(v); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
