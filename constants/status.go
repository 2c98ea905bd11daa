package constants

// JobState is the canonical lifecycle state for an extraction job.
type JobState string

// Stable values (returned verbatim on the status API).
const (
	JobStateQueued      JobState = "queued"
	JobStateNormalizing JobState = "normalizing"
	JobStateReducing    JobState = "reducing"
	JobStateCacheCheck  JobState = "cache_check"
	JobStateParsing     JobState = "parsing"
	JobStateValidating  JobState = "validating"
	JobStateDone        JobState = "done"         // terminal success
	JobStateNeedsReview JobState = "needs_review" // terminal; extracted but flagged for review
	JobStateFailed      JobState = "failed"       // terminal failure
)

// stateRank defines the partial order of the state machine. Pollers must
// never observe a rank decrease within a single attempt.
var stateRank = map[JobState]int{
	JobStateQueued:      0,
	JobStateNormalizing: 1,
	JobStateReducing:    2,
	JobStateCacheCheck:  3,
	JobStateParsing:     4,
	JobStateValidating:  5,
	JobStateDone:        6,
	JobStateNeedsReview: 6,
	JobStateFailed:      6,
}

// Rank returns the position of s in the state ordering, or -1 for unknown states.
func (s JobState) Rank() int {
	r, ok := stateRank[s]
	if !ok {
		return -1
	}
	return r
}

// Terminal reports whether s is an end state.
func (s JobState) Terminal() bool {
	return s == JobStateDone || s == JobStateNeedsReview || s == JobStateFailed
}

var progressHints = map[JobState]string{
	JobStateQueued:      "waiting for a worker",
	JobStateNormalizing: "extracting text from document",
	JobStateReducing:    "trimming boilerplate",
	JobStateCacheCheck:  "checking for a previous extraction",
	JobStateParsing:     "analyzing bill with AI",
	JobStateValidating:  "validating extracted fields",
	JobStateDone:        "extraction complete",
	JobStateNeedsReview: "extraction complete, review recommended",
	JobStateFailed:      "extraction failed",
}

// ProgressHint returns the coarse, human-readable progress message for s.
func (s JobState) ProgressHint() string {
	if h, ok := progressHints[s]; ok {
		return h
	}
	return string(s)
}
