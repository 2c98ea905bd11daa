package normalize

import (
	"bytes"
	"fmt"
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// pdfText pulls the text layer from every page, joined with \f page breaks.
func pdfText(data []byte, maxPages int) (string, int, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", 0, failure(ReasonCorruptDocument, fmt.Errorf("opening pdf: %w", err))
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages == 0 {
		return "", 0, failure(ReasonNoPages, nil)
	}
	if maxPages > 0 && pages > maxPages {
		pages = maxPages
	}

	var b strings.Builder
	for i := 0; i < pages; i++ {
		text, err := doc.Text(i)
		if err != nil {
			return "", 0, failure(ReasonCorruptDocument, fmt.Errorf("page %d: %w", i+1, err))
		}
		if i > 0 {
			b.WriteString("\f")
		}
		b.WriteString(text)
	}
	return b.String(), pages, nil
}

// pdfPageImages renders each page to PNG at the configured DPI.
func pdfPageImages(data []byte, dpi, maxPages int) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, failure(ReasonCorruptDocument, fmt.Errorf("opening pdf: %w", err))
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages == 0 {
		return nil, failure(ReasonNoPages, nil)
	}
	if maxPages > 0 && pages > maxPages {
		pages = maxPages
	}

	out := make([][]byte, 0, pages)
	for i := 0; i < pages; i++ {
		img, err := doc.ImageDPI(i, float64(dpi))
		if err != nil {
			return nil, failure(ReasonCorruptDocument, fmt.Errorf("rendering page %d: %w", i+1, err))
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, failure(ReasonCorruptDocument, fmt.Errorf("encoding page %d: %w", i+1, err))
		}
		out = append(out, buf.Bytes())
	}
	return out, nil
}
