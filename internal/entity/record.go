package entity

import (
	"time"

	"github.com/google/uuid"
)

// ExtractionRecord is the single flat canonical shape produced by the parser.
// Exactly one field name exists per concept; any collaborator that needs a
// different convention maps at its own boundary.
type ExtractionRecord struct {
	ID           uuid.UUID `json:"id"`
	DocumentHash string    `json:"document_hash"`
	ProjectID    string    `json:"project_id"`

	// Account and meter identity.
	AccountNumber string `json:"account_number"`
	UtilityName   string `json:"utility_name"`
	MeterNumber   string `json:"meter_number,omitempty"`

	// Billing period, inclusive calendar dates.
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	// Monetary total in minor units (cents), two-decimal semantics.
	AmountDueCents int64  `json:"amount_due_cents"`
	Currency       string `json:"currency"`

	// Usage totals and time-of-use breakdown, in kWh.
	KwhTotal   float64  `json:"kwh_total"`
	OnPeakKwh  float64  `json:"on_peak_kwh"`
	OffPeakKwh float64  `json:"off_peak_kwh"`
	MidPeakKwh *float64 `json:"mid_peak_kwh,omitempty"`

	// Supplemental fields carried when the bill shows them.
	ServiceAddress string     `json:"service_address,omitempty"`
	RateSchedule   string     `json:"rate_schedule,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	ServiceType    string     `json:"service_type,omitempty"` // electric | water | gas | combined

	Confidence  float32  `json:"confidence,omitempty"`
	NeedsReview bool     `json:"needs_review"`
	Diagnostics []string `json:"diagnostics,omitempty"`

	ExtractedAt time.Time `json:"extracted_at"`
}
