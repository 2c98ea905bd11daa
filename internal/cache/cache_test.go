package cache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sitewalk/bill-intake/internal/entity"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testEntry(textHash, account string) Entry {
	return Entry{
		TextHash: textHash,
		Record: entity.ExtractionRecord{
			ID:            uuid.New(),
			AccountNumber: account,
			UtilityName:   "LADWP",
			KwhTotal:      460,
			OnPeakKwh:     120,
			OffPeakKwh:    340,
			ExtractedAt:   time.Now().UTC(),
		},
		Confidence: 0.92,
	}
}

func TestLookupMissThenHit(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	hash := HashText("Total kWh 460")

	if _, ok, err := c.Lookup(ctx, hash); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	if _, err := c.Store(ctx, testEntry(hash, "123-456")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, ok, err := c.Lookup(ctx, hash)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Record.AccountNumber != "123-456" {
		t.Fatalf("account = %q", got.Record.AccountNumber)
	}
	if got.Confidence != 0.92 {
		t.Fatalf("confidence = %v", got.Confidence)
	}
}

func TestStoreIsWriteOnce(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	hash := HashText("same reduced text")

	first, err := c.Store(ctx, testEntry(hash, "first-writer"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	second, err := c.Store(ctx, testEntry(hash, "second-writer"))
	if err != nil {
		t.Fatalf("second Store: %v", err)
	}
	if second.Record.AccountNumber != "first-writer" {
		t.Fatalf("second store overwrote first: %q", second.Record.AccountNumber)
	}
	if second.Record.ID != first.Record.ID {
		t.Fatal("read-back returned a different record")
	}

	n, err := c.Size(ctx)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if n != 1 {
		t.Fatalf("size = %d, want 1", n)
	}
}

func TestConcurrentStoreSameHash(t *testing.T) {
	c := openTestCache(t)
	ctx := context.Background()
	hash := HashText("racing extraction")

	const n = 8
	results := make([]Entry, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := c.Store(ctx, testEntry(hash, "racer"))
			if err != nil {
				t.Errorf("Store: %v", err)
				return
			}
			results[i] = got
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		if r.Record.ID != results[0].Record.ID {
			t.Fatal("concurrent stores produced different cached records")
		}
	}
}

func TestHashTextDistinguishesInputs(t *testing.T) {
	if HashText("a") == HashText("b") {
		t.Fatal("distinct texts hashed identically")
	}
	if HashText("stable") != HashText("stable") {
		t.Fatal("hash not deterministic")
	}
}
