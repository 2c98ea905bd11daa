// Package cache is the content-addressed extraction cache. Entries are keyed
// by the hex SHA-256 of the reduced bill text, so two different uploads that
// reduce to the same text share one extraction. Entries are write-once.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sitewalk/bill-intake/internal/entity"
)

// Entry is a cached extraction: the record plus the quality signals that
// accompanied it, so a cache hit reproduces the original outcome exactly.
type Entry struct {
	TextHash    string                  `json:"text_hash"`
	Record      entity.ExtractionRecord `json:"record"`
	Confidence  float32                 `json:"confidence"`
	NeedsReview bool                    `json:"needs_review"`
	Diagnostics []string                `json:"diagnostics,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
}

// Cache stores completed extractions keyed by reduced-text hash.
type Cache struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (or creates) the cache database at path.
func Open(path string, log *slog.Logger) (*Cache, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening extraction cache: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS extractions (
			text_hash   TEXT PRIMARY KEY,
			payload     TEXT NOT NULL,
			created_at  TEXT NOT NULL
		)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}
	return &Cache{db: db, log: log}, nil
}

// HashText returns the cache key for reduced text.
func HashText(reduced string) string {
	sum := sha256.Sum256([]byte(reduced))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached entry for the reduced-text hash, or ok=false on
// a miss.
func (c *Cache) Lookup(ctx context.Context, textHash string) (Entry, bool, error) {
	var payload string
	err := c.db.QueryRowContext(ctx,
		`SELECT payload FROM extractions WHERE text_hash = ?`, textHash).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache lookup: %w", err)
	}
	var e Entry
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Entry{}, false, fmt.Errorf("decoding cache entry %s: %w", textHash[:12], err)
	}
	return e, true, nil
}

// Store writes an entry unless one already exists for the same hash; the
// first writer wins and later identical extractions reuse it. Returns the
// entry that ended up in the cache.
func (c *Cache) Store(ctx context.Context, e Entry) (Entry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("encoding cache entry: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO extractions (text_hash, payload, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(text_hash) DO NOTHING`,
		e.TextHash, string(payload), e.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Entry{}, fmt.Errorf("cache store: %w", err)
	}

	stored, ok, err := c.Lookup(ctx, e.TextHash)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, fmt.Errorf("cache store read-back missed %s", e.TextHash[:12])
	}
	c.log.Debug("extraction cached", "text_hash", e.TextHash[:12], "confidence", stored.Confidence)
	return stored, nil
}

// Size returns the number of cached extractions.
func (c *Cache) Size(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM extractions`).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (c *Cache) Close() error { return c.db.Close() }
