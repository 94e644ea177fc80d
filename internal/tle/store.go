package tle

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTTL is the refresh interval for bulk public catalogs.
const DefaultTTL = time.Hour

// Store provides thread-safe access to the current element working set.
// Ingest replaces the whole set; it never merges partial updates.
type Store struct {
	dataset atomic.Pointer[Dataset]
	mu      sync.Mutex // serializes fetch operations
	ttl     time.Duration
	logger  *slog.Logger

	now func() time.Time
}

// NewStore creates an empty Store with the given refresh TTL.
// A non-positive ttl selects DefaultTTL.
func NewStore(ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Ingest parses raw element text and, if at least one triplet is accepted,
// atomically replaces the working set and resets the last-fetch time.
// It returns the number of accepted records.
func (s *Store) Ingest(raw []byte) (int, error) {
	return s.IngestAt(raw, s.now())
}

// IngestAt is Ingest with an explicit acquisition time.
func (s *Store) IngestAt(raw []byte, fetchedAt time.Time) (int, error) {
	records, err := Parse(bytes.NewReader(raw), fetchedAt, s.logger)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("ingest: %w", ErrNoRecords)
	}

	ds := newDataset(records, fetchedAt)
	s.dataset.Store(ds)
	s.logger.Info("element set ingested",
		"count", len(records),
		"epoch_min", ds.EpochRange.Min.Format(time.RFC3339),
		"epoch_max", ds.EpochRange.Max.Format(time.RFC3339),
	)
	return len(records), nil
}

// Get returns the current dataset, or nil if none has been loaded.
func (s *Store) Get() *Dataset {
	return s.dataset.Load()
}

// Records returns the current working set. The slice must not be modified.
func (s *Store) Records() []ElementRecord {
	ds := s.dataset.Load()
	if ds == nil {
		return nil
	}
	return ds.Records
}

// Age reports how stale a satellite's elements are relative to now.
func (s *Store) Age(noradID int, now time.Time) (time.Duration, bool) {
	ds := s.dataset.Load()
	if ds == nil {
		return 0, false
	}
	rec, ok := ds.Lookup(noradID)
	if !ok {
		return 0, false
	}
	return now.Sub(rec.Epoch), true
}

// ShouldRefresh is true when nothing has been fetched yet or the TTL has
// elapsed since the last successful ingest.
func (s *Store) ShouldRefresh(now time.Time) bool {
	ds := s.dataset.Load()
	if ds == nil {
		return true
	}
	return now.Sub(ds.FetchedAt) >= s.ttl
}

// FetchedAt returns the time of the last successful ingest (zero if none).
func (s *Store) FetchedAt() time.Time {
	ds := s.dataset.Load()
	if ds == nil {
		return time.Time{}
	}
	return ds.FetchedAt
}

// AgeHours returns hours since the last ingest, or 0 if none.
func (s *Store) AgeHours(now time.Time) float64 {
	ds := s.dataset.Load()
	if ds == nil {
		return 0
	}
	return now.Sub(ds.FetchedAt).Hours()
}

// Lock acquires the fetch mutex for serializing fetch operations.
func (s *Store) Lock() {
	s.mu.Lock()
}

// Unlock releases the fetch mutex.
func (s *Store) Unlock() {
	s.mu.Unlock()
}
