package repository

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitewalk/bill-intake/internal/entity"
)

// CorrectionRepository stores reviewer corrections. The table is append
// only: corrections never rewrite past extraction records, they only bias
// future parses through training hints.
type CorrectionRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewCorrectionRepository(pool *pgxpool.Pool, logger *slog.Logger) *CorrectionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &CorrectionRepository{pool: pool, logger: logger}
}

// Append records one review's field edits in a single transaction.
func (r *CorrectionRepository) Append(ctx context.Context, rec entity.ExtractionRecord, reviewer string, diffs []entity.FieldDiff) ([]entity.Correction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting correction tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	out := make([]entity.Correction, 0, len(diffs))
	for _, d := range diffs {
		c := entity.Correction{
			ID:          uuid.New(),
			RecordID:    rec.ID,
			ProjectID:   rec.ProjectID,
			UtilityName: rec.UtilityName,
			Reviewer:    reviewer,
			Field:       d.Field,
			OldValue:    d.OldValue,
			NewValue:    d.NewValue,
			CreatedAt:   now,
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO corrections
				(id, record_id, project_id, utility_name, reviewer, field_name, old_value, new_value, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			c.ID, c.RecordID, c.ProjectID, c.UtilityName, c.Reviewer,
			c.Field, c.OldValue, c.NewValue, c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("storing correction: %w", err)
		}
		out = append(out, c)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing corrections: %w", err)
	}
	r.logger.Info("corrections recorded", "record_id", rec.ID, "fields", len(out))
	return out, nil
}

// ListByRecord returns a record's correction history, newest first.
func (r *CorrectionRepository) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]entity.Correction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, record_id, project_id, utility_name, reviewer, field_name, old_value, new_value, created_at
		FROM corrections WHERE record_id = $1 ORDER BY created_at DESC`, recordID)
	if err != nil {
		return nil, fmt.Errorf("listing corrections: %w", err)
	}
	defer rows.Close()
	return scanCorrections(rows)
}

// TrainingHints returns the most recent correction per field for a utility,
// bounded by limit, newest first. These feed back into the extraction
// prompt. Hints are keyed by utility alone: a reviewer fixing an LADWP bill
// on one project should bias LADWP parses everywhere, so project_id stays
// stored metadata and never scopes the query.
func (r *CorrectionRepository) TrainingHints(ctx context.Context, utilityName string, limit int) ([]entity.Hint, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (field_name) field_name, new_value, created_at
		FROM corrections
		WHERE utility_name = $1
		ORDER BY field_name, created_at DESC`, utilityName)
	if err != nil {
		return nil, fmt.Errorf("loading training hints: %w", err)
	}
	defer rows.Close()

	var hints []entity.Hint
	for rows.Next() {
		var h entity.Hint
		if err := rows.Scan(&h.Field, &h.Value, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning hint: %w", err)
		}
		hints = append(hints, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading training hints: %w", err)
	}

	// newest first across fields, then bound
	sort.Slice(hints, func(a, b int) bool {
		return hints[a].CreatedAt.After(hints[b].CreatedAt)
	})
	if len(hints) > limit {
		hints = hints[:limit]
	}
	return hints, nil
}

func scanCorrections(rows pgx.Rows) ([]entity.Correction, error) {
	var out []entity.Correction
	for rows.Next() {
		var c entity.Correction
		if err := rows.Scan(&c.ID, &c.RecordID, &c.ProjectID, &c.UtilityName,
			&c.Reviewer, &c.Field, &c.OldValue, &c.NewValue, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning correction: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
