// Package jobs tracks asynchronous extraction work: one job per accepted
// request, a bounded worker pool draining them, and a status record callers
// can poll until the job reaches a terminal state.
package jobs

import (
	"time"

	"github.com/google/uuid"

	"github.com/sitewalk/bill-intake/constants"
)

// Job is one extraction request moving through the pipeline.
type Job struct {
	ID           uuid.UUID          `json:"id"`
	DocumentHash string             `json:"document_hash"`
	ProjectID    string             `json:"project_id"`
	Method       string             `json:"method"`
	State        constants.JobState `json:"state"`
	Attempt      int                `json:"attempt"`
	FailureCode  string             `json:"failure_code,omitempty"`
	FailureMsg   string             `json:"failure_message,omitempty"`
	RecordID     *uuid.UUID         `json:"record_id,omitempty"`
	CacheHit     bool               `json:"cache_hit"`
	EnqueuedAt   time.Time          `json:"enqueued_at"`
	StartedAt    *time.Time         `json:"started_at,omitempty"`
	FinishedAt   *time.Time         `json:"finished_at,omitempty"`
}

// claimKey identifies the document+project pair a job works on. At most one
// non-terminal job may hold a key.
func (j Job) claimKey() string {
	return j.DocumentHash + "\x00" + j.ProjectID
}

// Terminal reports whether the job has finished, in any outcome.
func (j Job) Terminal() bool {
	return j.State.Terminal()
}
