package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Runner abstracts external command execution so OCR can be stubbed in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
	LookPath(name string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.Bytes(), errb.Bytes(), err
}

func (execRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// ocrImages runs tesseract over each page image and joins the results with
// \f page breaks. A missing binary is reported as ReasonOCRUnavailable.
func (n *Normalizer) ocrImages(ctx context.Context, images [][]byte) (string, error) {
	if _, err := n.runner.LookPath(n.cfg.Tesseract); err != nil {
		return "", failure(ReasonOCRUnavailable, fmt.Errorf("%s not found: %w", n.cfg.Tesseract, err))
	}

	tmpDir, err := os.MkdirTemp("", "billocr-*")
	if err != nil {
		return "", failure(ReasonOCRUnavailable, err)
	}
	defer os.RemoveAll(tmpDir)

	var pages []string
	for i, img := range images {
		path := filepath.Join(tmpDir, fmt.Sprintf("page-%03d.png", i+1))
		if err := os.WriteFile(path, img, 0600); err != nil {
			return "", failure(ReasonOCRUnavailable, err)
		}
		text, err := n.ocrOne(ctx, path)
		if err != nil {
			return "", err
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, "\f"), nil
}

func (n *Normalizer) ocrOne(ctx context.Context, imagePath string) (string, error) {
	// "stdout" makes tesseract print the recognized text instead of writing
	// an output file.
	stdout, stderr, err := n.runner.Run(ctx, n.cfg.Tesseract,
		imagePath, "stdout", "-l", n.cfg.TesseractLang, "--psm", "6")
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(ctx.Err(), context.Canceled) {
			return "", ctx.Err()
		}
		return "", failure(ReasonOCRUnavailable,
			fmt.Errorf("tesseract failed: %w: %s", err, strings.TrimSpace(string(stderr))))
	}
	return string(stdout), nil
}
