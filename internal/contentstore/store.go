package contentstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/sitewalk/bill-intake/internal/common"
	"github.com/sitewalk/bill-intake/internal/entity"
)

const (
	blobBucket = "blobs"
	metaBucket = "documents"
)

// Store is a durable, content-addressed blob store. Documents are keyed by
// the hex SHA-256 of their raw bytes and never mutated after creation.
type Store struct {
	db  *bbolt.DB
	log *slog.Logger
}

// Open opens (or creates) the store at path.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening content store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(blobBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// HashBytes returns the hex SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put stores data and returns its Document. If a document with identical
// bytes already exists the existing Document is returned with deduplicated
// set; the check and insert run in one transaction so concurrent identical
// uploads resolve to a single Document.
func (s *Store) Put(data []byte, mimeType string) (entity.Document, bool, error) {
	hash := HashBytes(data)
	var doc entity.Document
	var deduplicated bool

	err := s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(metaBucket))
		if existing := meta.Get([]byte(hash)); existing != nil {
			deduplicated = true
			return json.Unmarshal(existing, &doc)
		}
		doc = entity.Document{
			ContentHash: hash,
			MimeType:    mimeType,
			ByteSize:    int64(len(data)),
			UploadedAt:  time.Now().UTC(),
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshaling document: %w", err)
		}
		if err := meta.Put([]byte(hash), raw); err != nil {
			return err
		}
		return tx.Bucket([]byte(blobBucket)).Put([]byte(hash), data)
	})
	if err != nil {
		return entity.Document{}, false, err
	}

	if deduplicated {
		s.log.Info("duplicate upload resolved", "content_hash", hash[:12], "bytes", len(data))
	} else {
		s.log.Info("document stored", "content_hash", hash[:12], "mime", mimeType, "bytes", len(data))
	}
	return doc, deduplicated, nil
}

// Get returns the blob and metadata for hash.
func (s *Store) Get(hash string) ([]byte, entity.Document, error) {
	var data []byte
	var doc entity.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket([]byte(metaBucket)).Get([]byte(hash))
		if raw == nil {
			return fmt.Errorf("document %s: %w", hash, common.ErrNotFound)
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		blob := tx.Bucket([]byte(blobBucket)).Get([]byte(hash))
		if blob == nil {
			return fmt.Errorf("blob %s: %w", hash, common.ErrNotFound)
		}
		data = make([]byte, len(blob))
		copy(data, blob)
		return nil
	})
	if err != nil {
		return nil, entity.Document{}, err
	}
	return data, doc, nil
}

// Exists reports whether a document with this hash is stored.
func (s *Store) Exists(hash string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket([]byte(metaBucket)).Get([]byte(hash)) != nil
		return nil
	})
	return found, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
