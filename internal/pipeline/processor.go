// Package pipeline orchestrates one extraction job end to end: load the
// document, normalize, reduce, consult the cache, parse, validate, persist.
// Job state advances at each stage boundary so pollers see real progress.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sitewalk/bill-intake/constants"
	"github.com/sitewalk/bill-intake/internal/cache"
	"github.com/sitewalk/bill-intake/internal/contentstore"
	"github.com/sitewalk/bill-intake/internal/entity"
	"github.com/sitewalk/bill-intake/internal/extract"
	"github.com/sitewalk/bill-intake/internal/jobs"
	"github.com/sitewalk/bill-intake/internal/normalize"
	"github.com/sitewalk/bill-intake/internal/reduce"
)

// RecordSink persists finished extraction records.
type RecordSink interface {
	Upsert(ctx context.Context, rec entity.ExtractionRecord) error
}

// HintSource supplies past reviewer corrections for the re-parse round,
// keyed by utility so a correction made anywhere biases that utility's
// bills everywhere.
type HintSource interface {
	TrainingHints(ctx context.Context, utilityName string, limit int) ([]entity.Hint, error)
}

// Config tunes pipeline behavior.
type Config struct {
	Policy    extract.Policy
	HintLimit int
}

// Processor runs jobs. It is safe for concurrent use by the worker pool.
type Processor struct {
	store      *contentstore.Store
	normalizer *normalize.Normalizer
	cache      *cache.Cache
	parser     *extract.Parser
	tracker    *jobs.Store
	records    RecordSink
	hints      HintSource
	cfg        Config
	logger     *slog.Logger
}

func NewProcessor(
	store *contentstore.Store,
	normalizer *normalize.Normalizer,
	extractionCache *cache.Cache,
	parser *extract.Parser,
	tracker *jobs.Store,
	records RecordSink,
	hints HintSource,
	cfg Config,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HintLimit <= 0 {
		cfg.HintLimit = 20
	}
	return &Processor{
		store:      store,
		normalizer: normalizer,
		cache:      extractionCache,
		parser:     parser,
		tracker:    tracker,
		records:    records,
		hints:      hints,
		cfg:        cfg,
		logger:     logger,
	}
}

// Process is the queue handler: it drives one job from queued to a terminal
// state. Every early return goes through fail() so the job never hangs in a
// non-terminal state.
func (p *Processor) Process(ctx context.Context, jobID uuid.UUID) {
	start := time.Now()
	job, err := p.tracker.Get(jobID)
	if err != nil {
		p.logger.Error("job vanished before processing", "job_id", jobID, "error", err)
		return
	}
	log := p.logger.With("job_id", jobID, "project_id", job.ProjectID)

	// normalizing
	if _, err := p.tracker.Advance(jobID, constants.JobStateNormalizing); err != nil {
		log.Error("cannot start job", "error", err)
		return
	}
	data, doc, err := p.store.Get(job.DocumentHash)
	if err != nil {
		p.fail(jobID, "document_missing", err, log)
		return
	}
	norm, err := p.normalizer.Normalize(ctx, data, doc.MimeType, job.Method)
	if err != nil {
		var nerr *normalize.Error
		if errors.As(err, &nerr) {
			p.fail(jobID, string(nerr.Reason), err, log)
		} else {
			p.fail(jobID, "normalize_error", err, log)
		}
		return
	}

	// reducing; the vision method has no text so this is a no-op for it
	if _, err := p.tracker.Advance(jobID, constants.JobStateReducing); err != nil {
		log.Error("state advance failed", "error", err)
		return
	}
	reduced := ""
	if norm.Text != "" {
		reduced = reduce.Reduce(norm.Text)
	}

	// cache_check
	if _, err := p.tracker.Advance(jobID, constants.JobStateCacheCheck); err != nil {
		log.Error("state advance failed", "error", err)
		return
	}
	if reduced != "" {
		textHash := cache.HashText(reduced)
		if entry, hit, err := p.cache.Lookup(ctx, textHash); err != nil {
			log.Warn("cache lookup failed, parsing anyway", "error", err)
		} else if hit {
			log.Info("cache hit, reusing extraction", "text_hash", textHash[:12])
			p.finishWithEntry(ctx, jobID, job, entry, true, log)
			return
		}
	}

	// parsing
	if _, err := p.tracker.Advance(jobID, constants.JobStateParsing); err != nil {
		log.Error("state advance failed", "error", err)
		return
	}
	req := extract.Request{
		Text:    reduced,
		Images:  norm.PageImages,
		OnRetry: func(int) { p.tracker.MarkRetry(jobID) },
	}
	fields, err := p.parser.Raw(ctx, req)
	if err != nil {
		p.failParse(jobID, err, log)
		return
	}

	// validating
	if _, err := p.tracker.Advance(jobID, constants.JobStateValidating); err != nil {
		log.Error("state advance failed", "error", err)
		return
	}
	rec, err := extract.Validate(fields, p.cfg.Policy)
	if err != nil {
		p.failParse(jobID, err, log)
		return
	}

	// One re-parse with reviewer hints when the first round came back
	// flagged and hints exist for this utility.
	if rec.NeedsReview && rec.UtilityName != "" {
		if better, ok := p.reparseWithHints(ctx, req, rec, log); ok {
			rec = better
		}
	}

	entry := cache.Entry{
		Record:      rec,
		Confidence:  rec.Confidence,
		NeedsReview: rec.NeedsReview,
		Diagnostics: rec.Diagnostics,
	}
	if reduced != "" {
		entry.TextHash = cache.HashText(reduced)
		stored, err := p.cache.Store(ctx, entry)
		if err != nil {
			log.Warn("cache store failed", "error", err)
		} else {
			// a concurrent job may have won the race; use its result so
			// identical text always yields identical records
			entry = stored
		}
	}

	p.finishWithEntry(ctx, jobID, job, entry, false, log)
	log.Info("job processed", "elapsed_ms", time.Since(start).Milliseconds(), "needs_review", entry.NeedsReview)
}

// reparseWithHints runs the second extraction round. The hinted result wins
// only when it is strictly cleaner than the first.
func (p *Processor) reparseWithHints(ctx context.Context, req extract.Request, first entity.ExtractionRecord, log *slog.Logger) (entity.ExtractionRecord, bool) {
	hints, err := p.hints.TrainingHints(ctx, first.UtilityName, p.cfg.HintLimit)
	if err != nil {
		log.Warn("loading training hints failed", "error", err)
		return entity.ExtractionRecord{}, false
	}
	if len(hints) == 0 {
		return entity.ExtractionRecord{}, false
	}

	req.Hints = make([]extract.Hint, 0, len(hints))
	for _, h := range hints {
		req.Hints = append(req.Hints, extract.Hint{Field: h.Field, Value: h.Value})
	}
	log.Info("re-parsing with reviewer hints", "hints", len(req.Hints))

	fields, err := p.parser.Raw(ctx, req)
	if err != nil {
		log.Warn("hinted re-parse failed, keeping first result", "error", err)
		return entity.ExtractionRecord{}, false
	}
	rec, err := extract.Validate(fields, p.cfg.Policy)
	if err != nil {
		log.Warn("hinted re-parse invalid, keeping first result", "error", err)
		return entity.ExtractionRecord{}, false
	}
	if len(rec.Diagnostics) < len(first.Diagnostics) ||
		(len(rec.Diagnostics) == len(first.Diagnostics) && rec.Confidence > first.Confidence) {
		return rec, true
	}
	return entity.ExtractionRecord{}, false
}

// finishWithEntry binds the (possibly shared) extraction to this job's
// document, persists it, and closes the job.
func (p *Processor) finishWithEntry(ctx context.Context, jobID uuid.UUID, job jobs.Job, entry cache.Entry, cacheHit bool, log *slog.Logger) {
	// The entry may be shared with jobs for other documents (cache hit, or
	// losing the store race), so the persisted copy always gets its own id.
	rec := entry.Record
	rec.ID = uuid.New()
	rec.DocumentHash = job.DocumentHash
	rec.ProjectID = job.ProjectID

	if err := p.records.Upsert(ctx, rec); err != nil {
		p.fail(jobID, "persist_error", err, log)
		return
	}

	final := constants.JobStateDone
	if entry.NeedsReview {
		final = constants.JobStateNeedsReview
	}
	if _, err := p.tracker.Finish(jobID, final, rec.ID, cacheHit); err != nil {
		log.Error("finishing job failed", "error", err)
	}
}

func (p *Processor) failParse(jobID uuid.UUID, err error, log *slog.Logger) {
	var perr *extract.ParseError
	if errors.As(err, &perr) {
		p.fail(jobID, string(perr.Kind), err, log)
		return
	}
	p.fail(jobID, "parse_error", err, log)
}

func (p *Processor) fail(jobID uuid.UUID, code string, err error, log *slog.Logger) {
	log.Error("job failed", "code", code, "error", err)
	if _, ferr := p.tracker.Fail(jobID, code, err.Error()); ferr != nil {
		log.Error("marking job failed failed", "error", fmt.Errorf("%w (original: %v)", ferr, err))
	}
}
