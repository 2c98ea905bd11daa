package entity

import "time"

// Document is an immutable uploaded blob, addressed by the SHA-256 of its raw
// bytes. Duplicate uploads resolve to the existing Document by hash.
type Document struct {
	ContentHash string    `json:"content_hash"` // hex SHA-256
	MimeType    string    `json:"mime_type"`
	ByteSize    int64     `json:"byte_size"`
	PageCount   int       `json:"page_count,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
