package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sitewalk/bill-intake/internal/common"
	"github.com/sitewalk/bill-intake/internal/contentstore"
	"github.com/sitewalk/bill-intake/internal/entity"
	"github.com/sitewalk/bill-intake/internal/jobs"
)

type fakeRecords struct {
	byID map[uuid.UUID]entity.ExtractionRecord
}

func (f *fakeRecords) GetByID(ctx context.Context, id uuid.UUID) (entity.ExtractionRecord, error) {
	rec, ok := f.byID[id]
	if !ok {
		return entity.ExtractionRecord{}, fmt.Errorf("record %s: %w", id, common.ErrNotFound)
	}
	return rec, nil
}

func (f *fakeRecords) ListByProject(ctx context.Context, projectID string, limit int) ([]entity.ExtractionRecord, error) {
	var out []entity.ExtractionRecord
	for _, rec := range f.byID {
		if rec.ProjectID == projectID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeCorrections struct {
	appended []entity.Correction
}

func (f *fakeCorrections) Append(ctx context.Context, rec entity.ExtractionRecord, reviewer string, diffs []entity.FieldDiff) ([]entity.Correction, error) {
	out := make([]entity.Correction, 0, len(diffs))
	for _, d := range diffs {
		c := entity.Correction{
			ID: uuid.New(), RecordID: rec.ID, ProjectID: rec.ProjectID,
			UtilityName: rec.UtilityName, Reviewer: reviewer,
			Field: d.Field, OldValue: d.OldValue, NewValue: d.NewValue,
			CreatedAt: time.Now().UTC(),
		}
		f.appended = append(f.appended, c)
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeCorrections) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]entity.Correction, error) {
	var out []entity.Correction
	for _, c := range f.appended {
		if c.RecordID == recordID {
			out = append(out, c)
		}
	}
	return out, nil
}

type testEnv struct {
	srv         *httptest.Server
	store       *contentstore.Store
	tracker     *jobs.Store
	records     *fakeRecords
	corrections *fakeCorrections
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := contentstore.Open(filepath.Join(t.TempDir(), "content.db"), nil)
	if err != nil {
		t.Fatalf("contentstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	tracker := jobs.NewStore()
	queue := jobs.NewQueue(func(ctx context.Context, jobID uuid.UUID) {}, nil, jobs.WithWorkers(1))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		queue.Shutdown(ctx)
	})

	records := &fakeRecords{byID: map[uuid.UUID]entity.ExtractionRecord{}}
	corrections := &fakeCorrections{}
	h := &Handlers{
		Store:       store,
		Tracker:     tracker,
		Queue:       queue,
		Records:     records,
		Corrections: corrections,
	}
	s := New("127.0.0.1:0", h, nil)
	srv := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store, tracker: tracker, records: records, corrections: corrections}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func (e *testEnv) upload(t *testing.T, data []byte) uploadResponse {
	t.Helper()
	resp, err := http.Post(e.srv.URL+"/api/documents", "application/pdf", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	return decodeBody[uploadResponse](t, resp)
}

func TestUploadDeduplicates(t *testing.T) {
	e := newTestEnv(t)
	data := []byte("%PDF-1.4 same bill")

	first := e.upload(t, data)
	if first.Deduplicated {
		t.Fatal("first upload reported deduplicated")
	}
	second := e.upload(t, data)
	if !second.Deduplicated {
		t.Fatal("identical upload not deduplicated")
	}
	if second.DocumentHash != first.DocumentHash {
		t.Fatal("identical uploads produced different hashes")
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	e := newTestEnv(t)
	resp, err := http.Post(e.srv.URL+"/api/documents", "text/csv", bytes.NewReader([]byte("a,b")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStartExtractionIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	doc := e.upload(t, []byte("%PDF-1.4 bill"))

	resp := e.postJSON(t, "/api/projects/proj-1/extractions", startExtractionRequest{DocumentHash: doc.DocumentHash})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	first := decodeBody[startExtractionResponse](t, resp)
	if first.Existing {
		t.Fatal("first submission reported existing")
	}

	resp = e.postJSON(t, "/api/projects/proj-1/extractions", startExtractionRequest{DocumentHash: doc.DocumentHash})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	second := decodeBody[startExtractionResponse](t, resp)
	if !second.Existing || second.JobID != first.JobID {
		t.Fatalf("duplicate submission made a new job: %+v vs %+v", second, first)
	}
}

func TestStartExtractionUnknownDocument(t *testing.T) {
	e := newTestEnv(t)
	resp := e.postJSON(t, "/api/projects/proj-1/extractions",
		startExtractionRequest{DocumentHash: contentstore.HashBytes([]byte("never uploaded"))})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestExtractionStatusPolling(t *testing.T) {
	e := newTestEnv(t)
	doc := e.upload(t, []byte("%PDF-1.4 bill"))
	resp := e.postJSON(t, "/api/projects/proj-1/extractions", startExtractionRequest{DocumentHash: doc.DocumentHash})
	started := decodeBody[startExtractionResponse](t, resp)

	get, err := http.Get(e.srv.URL + "/api/extractions/" + started.JobID.String())
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	status := decodeBody[jobStatusResponse](t, get)
	if status.JobID != started.JobID {
		t.Fatalf("job id mismatch: %s", status.JobID)
	}
	if status.ProgressHint == "" {
		t.Fatal("progress hint empty")
	}

	missing, err := http.Get(e.srv.URL + "/api/extractions/" + uuid.New().String())
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", missing.StatusCode)
	}
}

func TestSubmitAndListCorrections(t *testing.T) {
	e := newTestEnv(t)
	rec := entity.ExtractionRecord{
		ID: uuid.New(), ProjectID: "proj-1", UtilityName: "LADWP",
		AccountNumber: "123", ExtractedAt: time.Now().UTC(),
	}
	e.records.byID[rec.ID] = rec

	resp := e.postJSON(t, "/api/corrections", correctionsRequest{
		RecordID: rec.ID,
		Reviewer: "reviewer-1",
		Diffs:    []entity.FieldDiff{{Field: "on_peak_kwh", OldValue: "100", NewValue: "120"}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	created := decodeBody[[]entity.Correction](t, resp)
	if len(created) != 1 || created[0].Field != "on_peak_kwh" {
		t.Fatalf("created = %+v", created)
	}
	if created[0].UtilityName != "LADWP" {
		t.Fatal("correction did not inherit record utility")
	}

	get, err := http.Get(e.srv.URL + "/api/records/" + rec.ID.String() + "/corrections")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	listed := decodeBody[[]entity.Correction](t, get)
	if len(listed) != 1 {
		t.Fatalf("listed %d corrections, want 1", len(listed))
	}
}

func TestSubmitCorrectionsValidation(t *testing.T) {
	e := newTestEnv(t)

	// missing diffs
	resp := e.postJSON(t, "/api/corrections", correctionsRequest{RecordID: uuid.New()})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	// unknown record
	resp = e.postJSON(t, "/api/corrections", correctionsRequest{
		RecordID: uuid.New(),
		Diffs:    []entity.FieldDiff{{Field: "amount_due", NewValue: "10.00"}},
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMethodValidation(t *testing.T) {
	e := newTestEnv(t)
	doc := e.upload(t, []byte("%PDF-1.4 bill"))

	resp := e.postJSON(t, "/api/projects/p/extractions",
		startExtractionRequest{DocumentHash: doc.DocumentHash, Method: "telepathy"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
