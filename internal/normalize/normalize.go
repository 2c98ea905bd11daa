// Package normalize turns an uploaded document into the pipeline's working
// artifacts: plain text for the text method, rendered page images for the
// vision method. Text extraction prefers the document's text layer and falls
// back to OCR when the layer is too sparse to trust.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sitewalk/bill-intake/constants"
)

// FailureReason categorizes a normalization failure for user display.
type FailureReason string

const (
	ReasonCorruptDocument FailureReason = "corrupt_document"
	ReasonNoPages         FailureReason = "no_pages"
	ReasonOCRUnavailable  FailureReason = "ocr_unavailable"
	ReasonUnsupportedType FailureReason = "unsupported_type"
)

// Error is a normalization failure with a distinct reason, never a generic
// wrapper.
type Error struct {
	Reason FailureReason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("normalize: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("normalize: %s", e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func failure(reason FailureReason, err error) *Error {
	return &Error{Reason: reason, Err: err}
}

// Result is the normalized artifact. Text is set for the text method (pages
// separated by \f); PageImages is set for the vision method (PNG per page).
type Result struct {
	Text       string
	PageImages [][]byte
	Pages      int
	UsedOCR    bool
	Duration   time.Duration
}

// Config holds normalization settings.
type Config struct {
	DensityThreshold int // min printable chars per page before OCR kicks in
	DPI              int
	MaxPages         int
	Tesseract        string
	TesseractLang    string
}

// Normalizer extracts text or page images from uploaded documents.
type Normalizer struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

// New builds a Normalizer with the default exec-based OCR runner.
func New(cfg Config, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DensityThreshold <= 0 {
		cfg.DensityThreshold = 200
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 150
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	return &Normalizer{cfg: cfg, runner: execRunner{}, logger: logger}
}

// WithRunner swaps the OCR runner; used by tests to stub tesseract.
func (n *Normalizer) WithRunner(r Runner) *Normalizer {
	n.runner = r
	return n
}

// Normalize produces the artifact for the given method. It has no side
// effects on shared state.
func (n *Normalizer) Normalize(ctx context.Context, data []byte, mimeType, method string) (Result, error) {
	start := time.Now()
	format := constants.MapMIMEToFormat(mimeType)
	if format == "" {
		return Result{}, failure(ReasonUnsupportedType, fmt.Errorf("mime type %q", mimeType))
	}

	var res Result
	var err error
	switch method {
	case constants.MethodVision:
		res, err = n.renderForVision(data, format, mimeType)
	default:
		res, err = n.extractText(ctx, data, format, mimeType)
	}
	if err != nil {
		return Result{}, err
	}
	res.Duration = time.Since(start)
	n.logger.Debug("normalized document",
		"method", method, "pages", res.Pages, "ocr", res.UsedOCR,
		"text_len", len(res.Text), "elapsed_ms", res.Duration.Milliseconds())
	return res, nil
}

// extractText implements the text method: direct text layer first, OCR when
// the layer is below the density threshold or the source is an image.
func (n *Normalizer) extractText(ctx context.Context, data []byte, format, mimeType string) (Result, error) {
	if format == constants.IMAGE {
		png, err := toPNG(data, mimeType)
		if err != nil {
			return Result{}, failure(ReasonCorruptDocument, err)
		}
		text, err := n.ocrImages(ctx, [][]byte{png})
		if err != nil {
			return Result{}, err
		}
		return Result{Text: text, Pages: 1, UsedOCR: true}, nil
	}

	text, pages, err := pdfText(data, n.cfg.MaxPages)
	if err != nil {
		return Result{}, err
	}
	if density(text, pages) >= n.cfg.DensityThreshold {
		return Result{Text: text, Pages: pages}, nil
	}

	n.logger.Info("text layer below density threshold, falling back to ocr",
		"chars", len(strings.TrimSpace(text)), "pages", pages, "threshold", n.cfg.DensityThreshold)
	images, err := pdfPageImages(data, n.cfg.DPI, n.cfg.MaxPages)
	if err != nil {
		return Result{}, err
	}
	ocrText, err := n.ocrImages(ctx, images)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: ocrText, Pages: len(images), UsedOCR: true}, nil
}

// renderForVision implements the vision method: page images only, no text
// extraction.
func (n *Normalizer) renderForVision(data []byte, format, mimeType string) (Result, error) {
	if format == constants.IMAGE {
		png, err := toPNG(data, mimeType)
		if err != nil {
			return Result{}, failure(ReasonCorruptDocument, err)
		}
		return Result{PageImages: [][]byte{png}, Pages: 1}, nil
	}
	images, err := pdfPageImages(data, n.cfg.DPI, n.cfg.MaxPages)
	if err != nil {
		return Result{}, err
	}
	return Result{PageImages: images, Pages: len(images)}, nil
}

// density is printable characters per page.
func density(text string, pages int) int {
	if pages <= 0 {
		return 0
	}
	printable := 0
	for _, r := range text {
		if r > ' ' {
			printable++
		}
	}
	return printable / pages
}
