package extract

import (
	"fmt"
	"strings"
)

// BuildPrompt assembles the extraction prompt. The field list mirrors the
// first-pass schema exactly so the model has no reason to invent keys.
func BuildPrompt(req Request) string {
	var b strings.Builder

	b.WriteString(`You are an expert at reading US electric utility bills (LADWP, Southern California Edison, PG&E, SDG&E, SMUD and similar).
Extract the following fields from the bill and return ONLY a single JSON object, no prose, no markdown fences.

Fields:
- account_number: the customer account number exactly as printed
- utility_name: the issuing utility's name as printed
- meter_number: the meter identifier, if shown
- service_address: the service address, single line
- rate_schedule: the rate or tariff name (e.g. "TOU-D-4-9PM", "R-1B")
- service_type: one of "electric", "gas", "water", "combined" if determinable
- billing_period_start: YYYY-MM-DD
- billing_period_end: YYYY-MM-DD
- due_date: YYYY-MM-DD
- amount_due: total amount due as a decimal string, no currency symbol
- currency: ISO 4217 code, usually "USD"
- kwh_total: total kWh for the billing period, as a number
- on_peak_kwh: on-peak (or "High Peak") kWh, as a number
- mid_peak_kwh: mid-peak (or "Base Period") kWh, as a number
- off_peak_kwh: off-peak (or "Low Peak") kWh, as a number
- confidence: your confidence in this extraction, 0.0 to 1.0

Rules:
- Omit any field you cannot find; never guess or fabricate values.
- Time-of-use buckets go by the period meaning, not the label: "High Peak" is on-peak, "Low Peak" is off-peak, "Base Period" is mid-peak.
- If multiple billing periods appear, use the most recent one.
- amount_due is the current total due, not the previous balance.
`)

	if len(req.Hints) > 0 {
		b.WriteString("\nCorrections reviewers made on similar bills (prefer these when the bill agrees):\n")
		for _, h := range req.Hints {
			fmt.Fprintf(&b, "- %s: %s\n", h.Field, h.Value)
		}
	}

	if req.Text != "" {
		b.WriteString("\nBill text:\n---\n")
		b.WriteString(req.Text)
		b.WriteString("\n---\n")
	} else {
		b.WriteString("\nThe bill is attached as page images.\n")
	}

	return b.String()
}
