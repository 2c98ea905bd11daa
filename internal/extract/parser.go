// Package extract turns reduced bill text (or page images) into a validated
// extraction record. The work splits into two passes: a permissive model
// call that yields a raw field guess, and a deterministic validation pass
// that maps terminology, checks consistency, and decides whether a human
// needs to look.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrorKind classifies a parse failure.
type ErrorKind string

const (
	// KindModel covers transport and model failures after retries.
	KindModel ErrorKind = "model"
	// KindMalformed means the output never became valid JSON for our schema.
	KindMalformed ErrorKind = "malformed_output"
	// KindIdentity means the bill carries no usable account or utility
	// identity, so there is nothing to attach an extraction to.
	KindIdentity ErrorKind = "missing_identity"
)

// ParseError is a fatal extraction failure. Quality problems short of fatal
// surface as diagnostics on the record instead.
type ParseError struct {
	Kind ErrorKind
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("extract: %s", e.Kind)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Options tunes retry behavior and the model call budget.
type Options struct {
	MaxAttempts int           // model attempts per Raw call, transient errors only
	BaseBackoff time.Duration // doubled per retry
	CallTimeout time.Duration // per-attempt deadline
}

// Parser drives the two passes.
type Parser struct {
	gen    Generator
	opts   Options
	logger *slog.Logger
}

func NewParser(gen Generator, opts Options, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 90 * time.Second
	}
	return &Parser{gen: gen, opts: opts, logger: logger}
}

// Raw is the first pass: call the model, sanitize its output, and check it
// against the permissive schema. Transient model errors are retried with
// exponential backoff; everything else fails immediately.
func (p *Parser) Raw(ctx context.Context, req Request) (BillFields, error) {
	var raw []byte
	var lastErr error

	backoff := p.opts.BaseBackoff
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
		out, err := p.gen.Generate(callCtx, req)
		cancel()
		if err == nil {
			raw = out
			lastErr = nil
			break
		}
		lastErr = err
		if !IsTransient(err) || attempt == p.opts.MaxAttempts {
			break
		}
		p.logger.Warn("model call failed, retrying",
			"attempt", attempt, "backoff", backoff.String(), "error", err)
		if req.OnRetry != nil {
			req.OnRetry(attempt + 1)
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return BillFields{}, &ParseError{Kind: KindModel, Err: ctx.Err()}
		}
		backoff *= 2
	}
	if lastErr != nil {
		return BillFields{}, &ParseError{Kind: KindModel, Err: lastErr}
	}

	doc, _, err := SanitizeResponse(raw, p.logger)
	if err != nil {
		return BillFields{}, &ParseError{Kind: KindMalformed, Err: err}
	}
	if err := validateAgainstSchema(doc); err != nil {
		return BillFields{}, &ParseError{Kind: KindMalformed, Err: err}
	}

	var fields BillFields
	if err := json.Unmarshal(doc, &fields); err != nil {
		return BillFields{}, &ParseError{Kind: KindMalformed, Err: err}
	}
	return fields, nil
}

// IsTransient reports whether a model error is worth retrying: timeouts,
// rate limits, and upstream 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "resource exhausted", "resource_exhausted",
		"500", "502", "503", "504", "internal error", "unavailable",
		"overloaded", "timeout", "deadline exceeded", "connection reset",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
