package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitewalk/bill-intake/constants"
	"github.com/sitewalk/bill-intake/internal/common"
)

// Store holds job state in memory. Jobs are transient by design: a restart
// drops queued work and callers re-submit, while completed extractions
// survive in the cache and the database.
type Store struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*Job
	claims map[string]uuid.UUID // claimKey -> active (non-terminal) job
}

func NewStore() *Store {
	return &Store{
		jobs:   make(map[uuid.UUID]*Job),
		claims: make(map[string]uuid.UUID),
	}
}

// Enqueue creates a queued job for the document+project pair. If a
// non-terminal job already holds that pair the existing job is returned
// with created=false; submitting twice never runs the pipeline twice.
func (s *Store) Enqueue(documentHash, projectID, method string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := Job{
		ID:           uuid.New(),
		DocumentHash: documentHash,
		ProjectID:    projectID,
		Method:       method,
		State:        constants.JobStateQueued,
		Attempt:      1,
		EnqueuedAt:   time.Now().UTC(),
	}
	if activeID, held := s.claims[j.claimKey()]; held {
		return *s.jobs[activeID], false
	}
	s.jobs[j.ID] = &j
	s.claims[j.claimKey()] = j.ID
	return j, true
}

// Get returns a snapshot of the job.
func (s *Store) Get(id uuid.UUID) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	return *j, nil
}

// Advance moves the job to state. Transitions only go forward: an attempt
// to move to a state that ranks at or below the current one is rejected,
// and terminal states never change again.
func (s *Store) Advance(id uuid.UUID, state constants.JobState) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.advanceLocked(id, state)
	if err != nil {
		return Job{}, err
	}
	return *j, nil
}

func (s *Store) advanceLocked(id uuid.UUID, state constants.JobState) (*Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	if j.State.Terminal() {
		return nil, fmt.Errorf("job %s already terminal in %s", id, j.State)
	}
	if state.Rank() <= j.State.Rank() {
		return nil, fmt.Errorf("job %s cannot move %s -> %s", id, j.State, state)
	}

	j.State = state
	now := time.Now().UTC()
	if j.StartedAt == nil && state != constants.JobStateQueued {
		j.StartedAt = &now
	}
	if state.Terminal() {
		j.FinishedAt = &now
		delete(s.claims, j.claimKey())
	}
	return j, nil
}

// Finish marks the job done and records the produced extraction. The result
// fields are written only when the transition is accepted, so a job that is
// already terminal keeps its original outcome.
func (s *Store) Finish(id uuid.UUID, state constants.JobState, recordID uuid.UUID, cacheHit bool) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.advanceLocked(id, state)
	if err != nil {
		return Job{}, err
	}
	rid := recordID
	j.RecordID = &rid
	j.CacheHit = cacheHit
	return *j, nil
}

// Fail marks the job failed with a failure code callers can act on. Like
// Finish, a rejected transition leaves the job untouched.
func (s *Store) Fail(id uuid.UUID, code, msg string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.advanceLocked(id, constants.JobStateFailed)
	if err != nil {
		return Job{}, err
	}
	j.FailureCode = code
	j.FailureMsg = msg
	return *j, nil
}

// MarkRetry bumps the attempt counter without changing state; used when a
// transient model failure restarts the parse inside one job.
func (s *Store) MarkRetry(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Attempt++
	}
}

// List returns all jobs for a project, newest first.
func (s *Store) List(projectID string) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, 16)
	for _, j := range s.jobs {
		if projectID == "" || j.ProjectID == projectID {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].EnqueuedAt.After(out[b].EnqueuedAt)
	})
	return out
}
