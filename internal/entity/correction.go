package entity

import (
	"time"

	"github.com/google/uuid"
)

// FieldDiff is one human-edited field on a reviewed extraction record.
type FieldDiff struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// Correction is an append-only amendment to one ExtractionRecord. Past
// records are never rewritten; corrections only bias future parses.
type Correction struct {
	ID          uuid.UUID `json:"id"`
	RecordID    uuid.UUID `json:"record_id"`
	ProjectID   string    `json:"project_id"`
	UtilityName string    `json:"utility_name"`
	Reviewer    string    `json:"reviewer,omitempty"`
	Field       string    `json:"field"`
	OldValue    string    `json:"old_value"`
	NewValue    string    `json:"new_value"`
	CreatedAt   time.Time `json:"created_at"`
}

// Hint is a past correction replayed into the parser prompt as guidance.
type Hint struct {
	Field     string    `json:"field"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}
