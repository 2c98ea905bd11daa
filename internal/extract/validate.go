package extract

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sitewalk/bill-intake/constants"
	"github.com/sitewalk/bill-intake/internal/entity"
)

// Policy tunes the deterministic second pass.
type Policy struct {
	MinConfidence float32 // below this the record needs review
	TOUTolerance  float64 // relative tolerance for bucket-sum vs total, e.g. 0.01
}

// Validate is the second pass: deterministic, no model involved. It maps
// terminology, checks internal consistency, and produces the final record.
// A bill with no account number AND no utility name is unusable and fails
// with KindIdentity; every other problem becomes a diagnostic plus the
// needs-review flag.
func Validate(fields BillFields, pol Policy) (entity.ExtractionRecord, error) {
	if fields.AccountNumber == "" && fields.UtilityName == "" {
		return entity.ExtractionRecord{}, &ParseError{
			Kind: KindIdentity,
			Err:  fmt.Errorf("neither account number nor utility name extracted"),
		}
	}

	var diags []string
	missing := func(name string) {
		diags = append(diags, "missing:"+name)
	}

	utility := ""
	if fields.UtilityName != "" {
		utility = constants.NormalizeUtilityName(fields.UtilityName)
	}
	rec := entity.ExtractionRecord{
		ID:             uuid.New(),
		AccountNumber:  fields.AccountNumber,
		UtilityName:    utility,
		MeterNumber:    fields.MeterNumber,
		ServiceAddress: fields.ServiceAddress,
		RateSchedule:   fields.RateSchedule,
		ServiceType:    canonicalServiceType(fields.ServiceType),
		Currency:       fields.Currency,
		ExtractedAt:    time.Now().UTC(),
	}
	if rec.Currency == "" {
		rec.Currency = "USD"
	}
	if fields.AccountNumber == "" {
		missing("account_number")
	}
	if fields.UtilityName == "" {
		missing("utility_name")
	}

	// billing period
	start, okStart := parseDay(fields.PeriodStart)
	end, okEnd := parseDay(fields.PeriodEnd)
	if !okStart {
		missing("billing_period_start")
	}
	if !okEnd {
		missing("billing_period_end")
	}
	if okStart && okEnd {
		// dates are inclusive, so a single-day period has start == end
		if end.Before(start) {
			diags = append(diags, "invalid:billing_period")
		} else {
			rec.PeriodStart = start
			rec.PeriodEnd = end
		}
	}
	if due, ok := parseDay(fields.DueDate); ok {
		rec.DueDate = &due
	}

	// money
	if fields.AmountDue == "" {
		missing("amount_due")
	} else if cents, err := parseCents(fields.AmountDue); err != nil {
		diags = append(diags, "invalid:amount_due")
	} else if cents < 0 {
		diags = append(diags, "invalid:amount_due")
	} else {
		rec.AmountDueCents = cents
	}

	// energy buckets
	diags = append(diags, applyUsage(&rec, fields, pol.TOUTolerance)...)

	// confidence: start from the model's own estimate, penalize gaps
	conf := fields.ModelConfidence
	if conf <= 0 {
		conf = 0.5
	}
	conf -= 0.05 * float32(len(diags))
	if conf < 0 {
		conf = 0
	}
	rec.Confidence = conf
	rec.Diagnostics = diags
	rec.NeedsReview = len(diags) > 0 || conf < pol.MinConfidence
	return rec, nil
}

// applyUsage fills the kWh fields and checks the time-of-use sum against
// the printed total. Tolerance is relative with a 1 kWh floor, so small
// bills are not flagged over rounding.
func applyUsage(rec *entity.ExtractionRecord, fields BillFields, tolerance float64) []string {
	var diags []string

	if fields.OnPeakKwh != nil {
		rec.OnPeakKwh = *fields.OnPeakKwh
	} else {
		diags = append(diags, "missing:on_peak_kwh")
	}
	if fields.OffPeakKwh != nil {
		rec.OffPeakKwh = *fields.OffPeakKwh
	} else {
		diags = append(diags, "missing:off_peak_kwh")
	}
	rec.MidPeakKwh = fields.MidPeakKwh

	haveBuckets := fields.OnPeakKwh != nil && fields.OffPeakKwh != nil
	sum := rec.OnPeakKwh + rec.OffPeakKwh
	if fields.MidPeakKwh != nil {
		sum += *fields.MidPeakKwh
	}

	switch {
	case fields.KwhTotal != nil:
		rec.KwhTotal = *fields.KwhTotal
		if haveBuckets {
			tol := math.Max(tolerance*rec.KwhTotal, 1.0)
			if math.Abs(sum-rec.KwhTotal) > tol {
				diags = append(diags, fmt.Sprintf("tou_mismatch:buckets=%.1f,total=%.1f", sum, rec.KwhTotal))
			}
		}
	case haveBuckets:
		// total absent but derivable
		rec.KwhTotal = sum
		diags = append(diags, "derived:kwh_total")
	default:
		diags = append(diags, "missing:kwh_total")
	}

	return diags
}

func parseDay(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// parseCents converts a decimal string to integer cents without float
// rounding.
func parseCents(s string) (int64, error) {
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	whole, frac := s, "0"
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			whole, frac = s[:i], s[i+1:]
			break
		}
	}
	if whole == "" {
		whole = "0"
	}
	switch len(frac) {
	case 0:
		frac = "00"
	case 1:
		frac += "0"
	case 2:
	default:
		return 0, fmt.Errorf("too many decimal places: %q", s)
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, err
	}
	cents := w*100 + f
	if neg {
		cents = -cents
	}
	return cents, nil
}
