package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitewalk/bill-intake/internal/common"
	"github.com/sitewalk/bill-intake/internal/entity"
)

// RecordRepository persists extraction records. One record per
// document+project pair; a re-run replaces the previous extraction.
type RecordRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewRecordRepository(pool *pgxpool.Pool, logger *slog.Logger) *RecordRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordRepository{pool: pool, logger: logger}
}

const recordColumns = `id, document_hash, project_id, account_number, utility_name,
	meter_number, service_address, rate_schedule, service_type,
	period_start, period_end, due_date, amount_due_cents, currency,
	kwh_total, on_peak_kwh, mid_peak_kwh, off_peak_kwh,
	confidence, needs_review, diagnostics, extracted_at`

// Upsert writes the record, replacing any previous extraction for the same
// document+project pair.
func (r *RecordRepository) Upsert(ctx context.Context, rec entity.ExtractionRecord) error {
	var periodStart, periodEnd any
	if !rec.PeriodStart.IsZero() {
		periodStart = rec.PeriodStart
	}
	if !rec.PeriodEnd.IsZero() {
		periodEnd = rec.PeriodEnd
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO extraction_records (`+recordColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		ON CONFLICT (document_hash, project_id) DO UPDATE SET
			id = EXCLUDED.id,
			account_number = EXCLUDED.account_number,
			utility_name = EXCLUDED.utility_name,
			meter_number = EXCLUDED.meter_number,
			service_address = EXCLUDED.service_address,
			rate_schedule = EXCLUDED.rate_schedule,
			service_type = EXCLUDED.service_type,
			period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end,
			due_date = EXCLUDED.due_date,
			amount_due_cents = EXCLUDED.amount_due_cents,
			currency = EXCLUDED.currency,
			kwh_total = EXCLUDED.kwh_total,
			on_peak_kwh = EXCLUDED.on_peak_kwh,
			mid_peak_kwh = EXCLUDED.mid_peak_kwh,
			off_peak_kwh = EXCLUDED.off_peak_kwh,
			confidence = EXCLUDED.confidence,
			needs_review = EXCLUDED.needs_review,
			diagnostics = EXCLUDED.diagnostics,
			extracted_at = EXCLUDED.extracted_at`,
		rec.ID, rec.DocumentHash, rec.ProjectID, rec.AccountNumber, rec.UtilityName,
		rec.MeterNumber, rec.ServiceAddress, rec.RateSchedule, rec.ServiceType,
		periodStart, periodEnd, rec.DueDate, rec.AmountDueCents, rec.Currency,
		rec.KwhTotal, rec.OnPeakKwh, rec.MidPeakKwh, rec.OffPeakKwh,
		rec.Confidence, rec.NeedsReview, rec.Diagnostics, rec.ExtractedAt)
	if err != nil {
		return fmt.Errorf("storing extraction record: %w", err)
	}
	r.logger.Info("extraction record stored",
		"record_id", rec.ID, "project_id", rec.ProjectID, "needs_review", rec.NeedsReview)
	return nil
}

// GetByID fetches one record.
func (r *RecordRepository) GetByID(ctx context.Context, id uuid.UUID) (entity.ExtractionRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM extraction_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return entity.ExtractionRecord{}, fmt.Errorf("record %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return entity.ExtractionRecord{}, fmt.Errorf("loading record: %w", err)
	}
	return rec, nil
}

// GetByDocument fetches the record for a document+project pair.
func (r *RecordRepository) GetByDocument(ctx context.Context, documentHash, projectID string) (entity.ExtractionRecord, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM extraction_records
		 WHERE document_hash = $1 AND project_id = $2`, documentHash, projectID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return entity.ExtractionRecord{}, fmt.Errorf("record for %s/%s: %w", documentHash[:12], projectID, common.ErrNotFound)
	}
	if err != nil {
		return entity.ExtractionRecord{}, fmt.Errorf("loading record: %w", err)
	}
	return rec, nil
}

// ListByProject returns a project's records, newest first.
func (r *RecordRepository) ListByProject(ctx context.Context, projectID string, limit int) ([]entity.ExtractionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM extraction_records
		 WHERE project_id = $1 ORDER BY extracted_at DESC LIMIT $2`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var out []entity.ExtractionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (entity.ExtractionRecord, error) {
	var rec entity.ExtractionRecord
	var periodStart, periodEnd *time.Time
	err := row.Scan(
		&rec.ID, &rec.DocumentHash, &rec.ProjectID, &rec.AccountNumber, &rec.UtilityName,
		&rec.MeterNumber, &rec.ServiceAddress, &rec.RateSchedule, &rec.ServiceType,
		&periodStart, &periodEnd, &rec.DueDate, &rec.AmountDueCents, &rec.Currency,
		&rec.KwhTotal, &rec.OnPeakKwh, &rec.MidPeakKwh, &rec.OffPeakKwh,
		&rec.Confidence, &rec.NeedsReview, &rec.Diagnostics, &rec.ExtractedAt)
	if err != nil {
		return entity.ExtractionRecord{}, err
	}
	if periodStart != nil {
		rec.PeriodStart = *periodStart
	}
	if periodEnd != nil {
		rec.PeriodEnd = *periodEnd
	}
	return rec, nil
}
