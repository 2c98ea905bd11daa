package extract

import "context"

// BillFields is the permissive first-pass shape we accept from the model.
// Numbers arrive as strings or floats depending on the model's mood; the
// sanitizer coerces them before schema validation. Nothing here is trusted
// until the deterministic second pass runs.
type BillFields struct {
	AccountNumber   string   `json:"account_number,omitempty"`
	UtilityName     string   `json:"utility_name,omitempty"`
	MeterNumber     string   `json:"meter_number,omitempty"`
	ServiceAddress  string   `json:"service_address,omitempty"`
	RateSchedule    string   `json:"rate_schedule,omitempty"`
	ServiceType     string   `json:"service_type,omitempty"`
	PeriodStart     string   `json:"billing_period_start,omitempty"` // YYYY-MM-DD
	PeriodEnd       string   `json:"billing_period_end,omitempty"`   // YYYY-MM-DD
	DueDate         string   `json:"due_date,omitempty"`             // YYYY-MM-DD
	AmountDue       string   `json:"amount_due,omitempty"`           // decimal
	Currency        string   `json:"currency,omitempty"`             // ISO 4217
	KwhTotal        *float64 `json:"kwh_total,omitempty"`
	OnPeakKwh       *float64 `json:"on_peak_kwh,omitempty"`
	MidPeakKwh      *float64 `json:"mid_peak_kwh,omitempty"`
	OffPeakKwh      *float64 `json:"off_peak_kwh,omitempty"`
	ModelConfidence float32  `json:"confidence,omitempty"` // 0..1, model's own estimate
}

// Hint is a field/value pair from a past human correction on a similar bill,
// fed back into the prompt.
type Hint struct {
	Field string
	Value string
}

// Request carries everything one model call needs. Exactly one of Text or
// Images is set, matching the extraction method.
type Request struct {
	Text   string
	Images [][]byte // PNG pages, vision method only
	Hints  []Hint

	// OnRetry, when set, observes each transient-failure retry.
	OnRetry func(attempt int) `json:"-"`
}

// Generator is the model boundary. Implementations return the raw model
// output; parsing and validation happen on our side.
type Generator interface {
	Generate(ctx context.Context, req Request) ([]byte, error)
}
