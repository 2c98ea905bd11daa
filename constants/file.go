package constants

import "strings"

// Document formats accepted by the pipeline.
const (
	PDF   = "PDF"
	IMAGE = "IMAGE"
)

// Extraction methods.
const (
	MethodText   = "text"
	MethodVision = "vision"
)

// allowedMIMETypes maps accepted upload MIME types to their format.
var allowedMIMETypes = map[string]string{
	"application/pdf": PDF,
	"image/jpeg":      IMAGE,
	"image/jpg":       IMAGE,
	"image/png":       IMAGE,
	"image/gif":       IMAGE,
	"image/heic":      IMAGE,
	"image/heif":      IMAGE,
}

// NormalizeMIME lowercases a MIME type and drops any parameters.
func NormalizeMIME(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return mime
}

// MapMIMEToFormat returns PDF or IMAGE for a supported MIME type, or "" otherwise.
func MapMIMEToFormat(mime string) string {
	return allowedMIMETypes[NormalizeMIME(mime)]
}

// IsHEICMIME reports whether the MIME type indicates HEIC/HEIF content.
func IsHEICMIME(mime string) bool {
	m := NormalizeMIME(mime)
	return m == "image/heic" || m == "image/heif"
}
