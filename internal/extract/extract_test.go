package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// stubGenerator returns canned responses in order; errs fire before outputs
// run out.
type stubGenerator struct {
	outputs []string
	errs    []error
	calls   int
}

func (s *stubGenerator) Generate(ctx context.Context, req Request) ([]byte, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.outputs) {
		return []byte(s.outputs[i]), nil
	}
	if len(s.outputs) > 0 {
		return []byte(s.outputs[len(s.outputs)-1]), nil
	}
	return nil, errors.New("no canned output")
}

func fastParser(gen Generator) *Parser {
	return NewParser(gen, Options{MaxAttempts: 4, BaseBackoff: time.Millisecond, CallTimeout: time.Second}, nil)
}

func fptr(f float64) *float64 { return &f }

const ladwpResponse = `{
	"account_number": "123-456-7890",
	"utility_name": "Los Angeles Department of Water and Power",
	"billing_period_start": "2024-01-15",
	"billing_period_end": "2024-02-14",
	"amount_due": "245.67",
	"currency": "USD",
	"kwh_total": 460,
	"high_peak_kwh": 120,
	"low_peak_kwh": 340,
	"confidence": 0.93
}`

func TestRawMapsLADWPTerminology(t *testing.T) {
	p := fastParser(&stubGenerator{outputs: []string{ladwpResponse}})

	fields, err := p.Raw(context.Background(), Request{Text: "reduced bill text"})
	if err != nil {
		t.Fatalf("Raw: %v", err)
	}
	if fields.OnPeakKwh == nil || *fields.OnPeakKwh != 120 {
		t.Fatalf("high peak not mapped to on_peak: %+v", fields.OnPeakKwh)
	}
	if fields.OffPeakKwh == nil || *fields.OffPeakKwh != 340 {
		t.Fatalf("low peak not mapped to off_peak: %+v", fields.OffPeakKwh)
	}
	if fields.KwhTotal == nil || *fields.KwhTotal != 460 {
		t.Fatalf("kwh_total = %+v", fields.KwhTotal)
	}
}

func TestRawStripsMarkdownFences(t *testing.T) {
	fenced := "Here is the extraction:\n```json\n" + ladwpResponse + "\n```\nLet me know if you need anything else."
	p := fastParser(&stubGenerator{outputs: []string{fenced}})

	fields, err := p.Raw(context.Background(), Request{Text: "x"})
	if err != nil {
		t.Fatalf("Raw: %v", err)
	}
	if fields.AccountNumber != "123-456-7890" {
		t.Fatalf("account = %q", fields.AccountNumber)
	}
}

func TestRawFlattensNestedResponse(t *testing.T) {
	nested := `{
		"account_number": "555",
		"utility_name": "SCE",
		"billing_period": {"start": "2024-03-01", "end": "2024-03-31"},
		"usage": {"total": 300, "on_peak": 100, "off_peak": 200},
		"amount_due": "$1,234.56"
	}`
	p := fastParser(&stubGenerator{outputs: []string{nested}})

	fields, err := p.Raw(context.Background(), Request{Text: "x"})
	if err != nil {
		t.Fatalf("Raw: %v", err)
	}
	if fields.PeriodStart != "2024-03-01" || fields.PeriodEnd != "2024-03-31" {
		t.Fatalf("period not flattened: %q..%q", fields.PeriodStart, fields.PeriodEnd)
	}
	if fields.KwhTotal == nil || *fields.KwhTotal != 300 {
		t.Fatalf("usage.total not flattened: %+v", fields.KwhTotal)
	}
	if fields.AmountDue != "1234.56" {
		t.Fatalf("amount_due not cleaned: %q", fields.AmountDue)
	}
}

func TestRawRetriesTransientErrors(t *testing.T) {
	gen := &stubGenerator{
		errs:    []error{errors.New("429 rate limit exceeded"), errors.New("503 service unavailable")},
		outputs: []string{"", "", ladwpResponse},
	}
	p := fastParser(gen)

	if _, err := p.Raw(context.Background(), Request{Text: "x"}); err != nil {
		t.Fatalf("Raw after transient errors: %v", err)
	}
	if gen.calls != 3 {
		t.Fatalf("calls = %d, want 3", gen.calls)
	}
}

func TestRawDoesNotRetryPermanentErrors(t *testing.T) {
	gen := &stubGenerator{errs: []error{errors.New("400 invalid api key")}}
	p := fastParser(gen)

	_, err := p.Raw(context.Background(), Request{Text: "x"})
	var perr *ParseError
	if !errors.As(err, &perr) || perr.Kind != KindModel {
		t.Fatalf("err = %v, want KindModel", err)
	}
	if gen.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry)", gen.calls)
	}
}

func TestRawGivesUpAfterMaxAttempts(t *testing.T) {
	transient := errors.New("connection reset by peer")
	gen := &stubGenerator{errs: []error{transient, transient, transient, transient}}
	p := fastParser(gen)

	_, err := p.Raw(context.Background(), Request{Text: "x"})
	var perr *ParseError
	if !errors.As(err, &perr) || perr.Kind != KindModel {
		t.Fatalf("err = %v, want KindModel", err)
	}
	if gen.calls != 4 {
		t.Fatalf("calls = %d, want 4", gen.calls)
	}
}

func TestRawRejectsNonJSON(t *testing.T) {
	p := fastParser(&stubGenerator{outputs: []string{"I could not read this bill, sorry."}})

	_, err := p.Raw(context.Background(), Request{Text: "x"})
	var perr *ParseError
	if !errors.As(err, &perr) || perr.Kind != KindMalformed {
		t.Fatalf("err = %v, want KindMalformed", err)
	}
}

func TestValidateCleanBill(t *testing.T) {
	rec, err := Validate(BillFields{
		AccountNumber:   "123-456-7890",
		UtilityName:     "Los Angeles Department of Water and Power",
		PeriodStart:     "2024-01-15",
		PeriodEnd:       "2024-02-14",
		AmountDue:       "245.67",
		KwhTotal:        fptr(460),
		OnPeakKwh:       fptr(120),
		OffPeakKwh:      fptr(340),
		ModelConfidence: 0.93,
	}, Policy{MinConfidence: 0.6, TOUTolerance: 0.01})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rec.NeedsReview {
		t.Fatalf("clean bill flagged for review: %v", rec.Diagnostics)
	}
	if rec.UtilityName != "LADWP" {
		t.Fatalf("utility not normalized: %q", rec.UtilityName)
	}
	if rec.AmountDueCents != 24567 {
		t.Fatalf("cents = %d", rec.AmountDueCents)
	}
	if rec.Currency != "USD" {
		t.Fatalf("currency = %q", rec.Currency)
	}
}

func TestValidateMissingIdentityIsFatal(t *testing.T) {
	_, err := Validate(BillFields{
		PeriodStart: "2024-01-15",
		PeriodEnd:   "2024-02-14",
		AmountDue:   "10.00",
	}, Policy{MinConfidence: 0.6, TOUTolerance: 0.01})
	var perr *ParseError
	if !errors.As(err, &perr) || perr.Kind != KindIdentity {
		t.Fatalf("err = %v, want KindIdentity", err)
	}
}

func TestValidateTOUMismatchNeedsReview(t *testing.T) {
	rec, err := Validate(BillFields{
		AccountNumber:   "999",
		UtilityName:     "SCE",
		PeriodStart:     "2024-01-01",
		PeriodEnd:       "2024-01-31",
		AmountDue:       "100.00",
		KwhTotal:        fptr(500),
		OnPeakKwh:       fptr(100),
		OffPeakKwh:      fptr(200), // sum 300, far off 500
		ModelConfidence: 0.95,
	}, Policy{MinConfidence: 0.6, TOUTolerance: 0.01})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !rec.NeedsReview {
		t.Fatal("tou mismatch not flagged")
	}
	found := false
	for _, d := range rec.Diagnostics {
		if strings.HasPrefix(d, "tou_mismatch:") {
			found = true
		}
	}
	if !found {
		t.Fatalf("diagnostics = %v", rec.Diagnostics)
	}
}

func TestValidateTOUWithinTolerance(t *testing.T) {
	rec, err := Validate(BillFields{
		AccountNumber:   "999",
		UtilityName:     "SCE",
		PeriodStart:     "2024-01-01",
		PeriodEnd:       "2024-01-31",
		AmountDue:       "100.00",
		KwhTotal:        fptr(460.4),
		OnPeakKwh:       fptr(120),
		OffPeakKwh:      fptr(340), // sum 460, within the 1 kWh floor
		ModelConfidence: 0.9,
	}, Policy{MinConfidence: 0.6, TOUTolerance: 0.01})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for _, d := range rec.Diagnostics {
		if strings.HasPrefix(d, "tou_mismatch:") {
			t.Fatalf("rounding slack flagged: %v", rec.Diagnostics)
		}
	}
}

func TestValidateDerivesTotalFromBuckets(t *testing.T) {
	rec, err := Validate(BillFields{
		AccountNumber:   "1",
		UtilityName:     "LADWP",
		PeriodStart:     "2024-01-01",
		PeriodEnd:       "2024-01-31",
		AmountDue:       "50.00",
		OnPeakKwh:       fptr(120),
		OffPeakKwh:      fptr(340),
		MidPeakKwh:      fptr(40),
		ModelConfidence: 0.9,
	}, Policy{MinConfidence: 0.6, TOUTolerance: 0.01})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rec.KwhTotal != 500 {
		t.Fatalf("derived total = %v, want 500", rec.KwhTotal)
	}
	if !rec.NeedsReview {
		t.Fatal("derived total must still flag review")
	}
}

func TestValidateLowConfidenceNeedsReview(t *testing.T) {
	rec, err := Validate(BillFields{
		AccountNumber:   "1",
		UtilityName:     "PG&E",
		PeriodStart:     "2024-01-01",
		PeriodEnd:       "2024-01-31",
		AmountDue:       "50.00",
		KwhTotal:        fptr(100),
		OnPeakKwh:       fptr(40),
		OffPeakKwh:      fptr(60),
		ModelConfidence: 0.3,
	}, Policy{MinConfidence: 0.6, TOUTolerance: 0.01})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !rec.NeedsReview {
		t.Fatal("low confidence not flagged")
	}
}

func TestValidateInvalidPeriod(t *testing.T) {
	rec, err := Validate(BillFields{
		AccountNumber:   "1",
		UtilityName:     "SCE",
		PeriodStart:     "2024-02-14",
		PeriodEnd:       "2024-01-15", // reversed
		AmountDue:       "50.00",
		KwhTotal:        fptr(100),
		OnPeakKwh:       fptr(40),
		OffPeakKwh:      fptr(60),
		ModelConfidence: 0.9,
	}, Policy{MinConfidence: 0.6, TOUTolerance: 0.01})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !rec.NeedsReview {
		t.Fatal("reversed period not flagged")
	}
}

func TestValidateSingleDayPeriod(t *testing.T) {
	rec, err := Validate(BillFields{
		AccountNumber:   "1",
		UtilityName:     "SCE",
		PeriodStart:     "2024-01-15",
		PeriodEnd:       "2024-01-15", // inclusive dates, one-day period
		AmountDue:       "50.00",
		KwhTotal:        fptr(100),
		OnPeakKwh:       fptr(40),
		OffPeakKwh:      fptr(60),
		ModelConfidence: 0.9,
	}, Policy{MinConfidence: 0.6, TOUTolerance: 0.01})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rec.NeedsReview {
		t.Fatalf("single-day period flagged: %v", rec.Diagnostics)
	}
	if rec.PeriodStart.IsZero() || !rec.PeriodStart.Equal(rec.PeriodEnd) {
		t.Fatalf("period dropped: %v..%v", rec.PeriodStart, rec.PeriodEnd)
	}
}

func TestRawResolvesTOUKeysThroughTerminologyTable(t *testing.T) {
	// super_off_peak_kwh has no hardcoded rename; it can only resolve
	// through the period terminology table.
	resp := `{
		"account_number": "77",
		"utility_name": "SDG&E",
		"super_off_peak_kwh": 210,
		"high_peak_kwh": 90,
		"usage": {"base_period": 30}
	}`
	p := fastParser(&stubGenerator{outputs: []string{resp}})

	fields, err := p.Raw(context.Background(), Request{Text: "x"})
	if err != nil {
		t.Fatalf("Raw: %v", err)
	}
	if fields.OffPeakKwh == nil || *fields.OffPeakKwh != 210 {
		t.Fatalf("super off-peak not mapped: %+v", fields.OffPeakKwh)
	}
	if fields.OnPeakKwh == nil || *fields.OnPeakKwh != 90 {
		t.Fatalf("high peak not mapped: %+v", fields.OnPeakKwh)
	}
	if fields.MidPeakKwh == nil || *fields.MidPeakKwh != 30 {
		t.Fatalf("nested base period not mapped: %+v", fields.MidPeakKwh)
	}
}

func TestCanonicalServiceType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Electric", "electric"},
		{"electric service", "electric"},
		{"Natural Gas", "gas"},
		{"Water", "water"},
		{"Water and Power", "combined"},
		{"electric/gas", "combined"},
		{"Combined", "combined"},
		{"sewer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := canonicalServiceType(tt.in); got != tt.want {
			t.Fatalf("canonicalServiceType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalTOUBucket(t *testing.T) {
	tests := []struct {
		label  string
		bucket string
		ok     bool
	}{
		{"High Peak", "on_peak", true},
		{"Low Peak", "off_peak", true},
		{"Base Period", "mid_peak", true},
		{"On-Peak", "on_peak", true},
		{"Super Off-Peak", "off_peak", true},
		{"Delivery", "", false},
	}
	for _, tt := range tests {
		bucket, ok := CanonicalTOUBucket(tt.label)
		if ok != tt.ok || bucket != tt.bucket {
			t.Fatalf("CanonicalTOUBucket(%q) = %q,%v; want %q,%v", tt.label, bucket, ok, tt.bucket, tt.ok)
		}
	}
}

func TestParseCents(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		err  bool
	}{
		{"245.67", 24567, false},
		{"0.5", 50, false},
		{"100", 10000, false},
		{"-12.34", -1234, false},
		{"1.234", 0, true},
	}
	for _, tt := range tests {
		got, err := parseCents(tt.in)
		if (err != nil) != tt.err {
			t.Fatalf("parseCents(%q) err = %v", tt.in, err)
		}
		if err == nil && got != tt.want {
			t.Fatalf("parseCents(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
