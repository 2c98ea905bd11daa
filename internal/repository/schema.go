package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the tables if they do not exist. Statements are
// idempotent so startup can run this unconditionally.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS extraction_records (
			id             UUID PRIMARY KEY,
			document_hash  TEXT NOT NULL,
			project_id     TEXT NOT NULL,
			account_number TEXT NOT NULL DEFAULT '',
			utility_name   TEXT NOT NULL DEFAULT '',
			meter_number   TEXT NOT NULL DEFAULT '',
			service_address TEXT NOT NULL DEFAULT '',
			rate_schedule  TEXT NOT NULL DEFAULT '',
			service_type   TEXT NOT NULL DEFAULT '',
			period_start   DATE,
			period_end     DATE,
			due_date       DATE,
			amount_due_cents BIGINT NOT NULL DEFAULT 0,
			currency       TEXT NOT NULL DEFAULT 'USD',
			kwh_total      DOUBLE PRECISION NOT NULL DEFAULT 0,
			on_peak_kwh    DOUBLE PRECISION NOT NULL DEFAULT 0,
			mid_peak_kwh   DOUBLE PRECISION,
			off_peak_kwh   DOUBLE PRECISION NOT NULL DEFAULT 0,
			confidence     REAL NOT NULL DEFAULT 0,
			needs_review   BOOLEAN NOT NULL DEFAULT FALSE,
			diagnostics    TEXT[] NOT NULL DEFAULT '{}',
			extracted_at   TIMESTAMPTZ NOT NULL,
			UNIQUE (document_hash, project_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_project
			ON extraction_records (project_id, extracted_at DESC)`,
		`CREATE TABLE IF NOT EXISTS corrections (
			id           UUID PRIMARY KEY,
			record_id    UUID NOT NULL REFERENCES extraction_records(id),
			project_id   TEXT NOT NULL,
			utility_name TEXT NOT NULL DEFAULT '',
			reviewer     TEXT NOT NULL DEFAULT '',
			field_name   TEXT NOT NULL,
			old_value    TEXT NOT NULL DEFAULT '',
			new_value    TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_corrections_hints
			ON corrections (project_id, utility_name, created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}
