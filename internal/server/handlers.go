package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/sitewalk/bill-intake/constants"
	"github.com/sitewalk/bill-intake/internal/common"
	"github.com/sitewalk/bill-intake/internal/contentstore"
	"github.com/sitewalk/bill-intake/internal/entity"
	"github.com/sitewalk/bill-intake/internal/jobs"
)

const maxUploadBytes = 32 << 20 // 32 MiB

// RecordReader serves persisted extraction records.
type RecordReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (entity.ExtractionRecord, error)
	ListByProject(ctx context.Context, projectID string, limit int) ([]entity.ExtractionRecord, error)
}

// CorrectionWriter records reviewer corrections.
type CorrectionWriter interface {
	Append(ctx context.Context, rec entity.ExtractionRecord, reviewer string, diffs []entity.FieldDiff) ([]entity.Correction, error)
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]entity.Correction, error)
}

// Handlers holds the dependencies behind the API.
type Handlers struct {
	Store          *contentstore.Store
	Tracker        *jobs.Store
	Queue          *jobs.Queue
	Records        RecordReader
	Corrections    CorrectionWriter
	Ping           func(ctx context.Context) error
	MaxUploadBytes int64
	Logger         *slog.Logger
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Health reports liveness plus database reachability.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type uploadResponse struct {
	DocumentHash string `json:"document_hash"`
	Deduplicated bool   `json:"deduplicated"`
	MimeType     string `json:"mime_type"`
	ByteSize     int64  `json:"byte_size"`
}

// UploadDocument accepts raw bill bytes. Identical bytes yield the same
// document hash regardless of how often they arrive.
func (h *Handlers) UploadDocument(w http.ResponseWriter, r *http.Request) {
	mime := constants.NormalizeMIME(r.Header.Get("Content-Type"))
	if constants.MapMIMEToFormat(mime) == "" {
		writeError(w, fmt.Errorf("unsupported content type %q: %w", mime, common.ErrInvalidInput))
		return
	}

	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = maxUploadBytes
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		writeError(w, fmt.Errorf("reading upload: %w", common.ErrInvalidInput))
		return
	}
	if len(data) == 0 {
		writeError(w, fmt.Errorf("empty upload: %w", common.ErrInvalidInput))
		return
	}

	doc, deduplicated, err := h.Store.Put(data, mime)
	if err != nil {
		h.logger().Error("storing upload failed", "error", err)
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if deduplicated {
		status = http.StatusOK
	}
	writeJSON(w, status, uploadResponse{
		DocumentHash: doc.ContentHash,
		Deduplicated: deduplicated,
		MimeType:     doc.MimeType,
		ByteSize:     doc.ByteSize,
	})
}

type startExtractionRequest struct {
	DocumentHash string `json:"document_hash"`
	Method       string `json:"method,omitempty"`
}

type startExtractionResponse struct {
	JobID    uuid.UUID          `json:"job_id"`
	State    constants.JobState `json:"state"`
	Existing bool               `json:"existing"`
}

// StartExtraction enqueues a job for a stored document. Submitting the same
// document+project again while a job is active returns that job.
func (h *Handlers) StartExtraction(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project")
	var req startExtractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("decoding request: %w", common.ErrInvalidInput))
		return
	}
	if req.DocumentHash == "" || projectID == "" {
		writeError(w, fmt.Errorf("document_hash and project are required: %w", common.ErrInvalidInput))
		return
	}
	method := req.Method
	if method == "" {
		method = constants.MethodText
	}
	if method != constants.MethodText && method != constants.MethodVision {
		writeError(w, fmt.Errorf("unknown method %q: %w", method, common.ErrInvalidInput))
		return
	}

	exists, err := h.Store.Exists(req.DocumentHash)
	if err != nil {
		writeError(w, err)
		return
	}
	if !exists {
		writeError(w, fmt.Errorf("document %s: %w", req.DocumentHash, common.ErrNotFound))
		return
	}

	job, created := h.Tracker.Enqueue(req.DocumentHash, projectID, method)
	if created {
		if err := h.Queue.Submit(job.ID); err != nil {
			writeError(w, err)
			return
		}
	}

	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, startExtractionResponse{JobID: job.ID, State: job.State, Existing: !created})
}

type jobStatusResponse struct {
	JobID        uuid.UUID          `json:"job_id"`
	State        constants.JobState `json:"state"`
	ProgressHint string             `json:"progress_hint"`
	Attempt      int                `json:"attempt"`
	CacheHit     bool               `json:"cache_hit"`
	RecordID     *uuid.UUID         `json:"record_id,omitempty"`
	FailureCode  string             `json:"failure_code,omitempty"`
	FailureMsg   string             `json:"failure_message,omitempty"`
}

func jobStatus(j jobs.Job) jobStatusResponse {
	return jobStatusResponse{
		JobID:        j.ID,
		State:        j.State,
		ProgressHint: j.State.ProgressHint(),
		Attempt:      j.Attempt,
		CacheHit:     j.CacheHit,
		RecordID:     j.RecordID,
		FailureCode:  j.FailureCode,
		FailureMsg:   j.FailureMsg,
	}
}

// ExtractionStatus is the poll endpoint.
func (h *Handlers) ExtractionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		writeError(w, fmt.Errorf("invalid job id: %w", common.ErrInvalidInput))
		return
	}
	job, err := h.Tracker.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobStatus(job))
}

// ListExtractions returns a project's jobs, newest first.
func (h *Handlers) ListExtractions(w http.ResponseWriter, r *http.Request) {
	out := []jobStatusResponse{}
	for _, j := range h.Tracker.List(r.PathValue("project")) {
		out = append(out, jobStatus(j))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetRecord returns one extraction record.
func (h *Handlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("record_id"))
	if err != nil {
		writeError(w, fmt.Errorf("invalid record id: %w", common.ErrInvalidInput))
		return
	}
	rec, err := h.Records.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListRecords returns a project's extraction records, newest first.
func (h *Handlers) ListRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Records.ListByProject(r.Context(), r.PathValue("project"), 0)
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []entity.ExtractionRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

type correctionsRequest struct {
	RecordID uuid.UUID          `json:"record_id"`
	Reviewer string             `json:"reviewer,omitempty"`
	Diffs    []entity.FieldDiff `json:"diffs"`
}

// SubmitCorrections appends reviewer edits to a record's history. The
// original record stays untouched; the edits feed future parses as hints.
func (h *Handlers) SubmitCorrections(w http.ResponseWriter, r *http.Request) {
	var req correctionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("decoding request: %w", common.ErrInvalidInput))
		return
	}
	if req.RecordID == uuid.Nil || len(req.Diffs) == 0 {
		writeError(w, fmt.Errorf("record_id and diffs are required: %w", common.ErrInvalidInput))
		return
	}
	for _, d := range req.Diffs {
		if d.Field == "" {
			writeError(w, fmt.Errorf("diff with empty field: %w", common.ErrInvalidInput))
			return
		}
	}

	rec, err := h.Records.GetByID(r.Context(), req.RecordID)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := h.Corrections.Append(r.Context(), rec, req.Reviewer, req.Diffs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// ListCorrections returns a record's correction history, newest first.
func (h *Handlers) ListCorrections(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("record_id"))
	if err != nil {
		writeError(w, fmt.Errorf("invalid record id: %w", common.ErrInvalidInput))
		return
	}
	out, err := h.Corrections.ListByRecord(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if out == nil {
		out = []entity.Correction{}
	}
	writeJSON(w, http.StatusOK, out)
}
