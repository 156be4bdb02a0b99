// Package progress keeps the live progress of runs so that pollers in
// other requests can read it while a run is executing.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/law-makers/harvest/pkg/models"
)

// Default retention settings
const (
	DefaultRetention     = time.Hour
	DefaultSweepInterval = time.Minute
)

// Store is a keyed table of run progress shared by the writer (the run)
// and any number of readers (pollers).
type Store interface {
	// Set stores rec under runID, stamping UpdatedAt
	Set(runID string, rec models.ProgressRecord)

	// Get returns the record for runID. Unknown runs yield a pending
	// record, never an error.
	Get(runID string) models.ProgressRecord

	// Lookup is Get that also reports whether the run is known
	Lookup(runID string) (models.ProgressRecord, bool)

	// Delete removes runID. Unknown ids are ignored.
	Delete(runID string)

	// CleanupOld removes records not updated within maxAge and returns
	// how many were removed
	CleanupOld(maxAge time.Duration) int

	// Close stops background work
	Close()
}

// MemoryStore is an in-process Store with a background sweeper
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]models.ProgressRecord
	retention time.Duration
	interval  time.Duration
	lastSweep time.Time
	now       func() time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewMemoryStore creates a store that forgets records retention after
// their last update, sweeping every interval
func NewMemoryStore(retention, interval time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &MemoryStore{
		records:   make(map[string]models.ProgressRecord),
		retention: retention,
		interval:  interval,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.lastSweep = s.now()

	go s.sweepLoop()

	return s
}

// Set stores rec under runID. Writes also sweep stale records when the
// last sweep is older than the sweep interval, so crashed runs cannot
// accumulate even if the background sweeper is starved.
func (s *MemoryStore) Set(runID string, rec models.ProgressRecord) {
	now := s.now()
	rec.RunID = runID
	rec.UpdatedAt = now

	s.mu.Lock()
	s.records[runID] = rec
	sweep := now.Sub(s.lastSweep) >= s.interval
	if sweep {
		s.cleanupLocked(now, s.retention)
	}
	s.mu.Unlock()
}

// Get returns the record for runID or a pending record
func (s *MemoryStore) Get(runID string) models.ProgressRecord {
	rec, _ := s.Lookup(runID)
	return rec
}

// Lookup returns the record for runID and whether it exists
func (s *MemoryStore) Lookup(runID string) (models.ProgressRecord, bool) {
	s.mu.RLock()
	rec, ok := s.records[runID]
	s.mu.RUnlock()
	if !ok {
		return models.PendingRecord(runID), false
	}
	return rec, true
}

// Delete removes runID
func (s *MemoryStore) Delete(runID string) {
	s.mu.Lock()
	delete(s.records, runID)
	s.mu.Unlock()
}

// CleanupOld removes records older than maxAge
func (s *MemoryStore) CleanupOld(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked(s.now(), maxAge)
}

// Len returns the number of stored records
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close stops the background sweeper
func (s *MemoryStore) Close() {
	s.cancel()
}

// cleanupLocked must be called with the write lock held
func (s *MemoryStore) cleanupLocked(now time.Time, maxAge time.Duration) int {
	removed := 0
	for id, rec := range s.records {
		if now.Sub(rec.UpdatedAt) > maxAge {
			delete(s.records, id)
			removed++
		}
	}
	s.lastSweep = now
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("Swept stale progress records")
	}
	return removed
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CleanupOld(s.retention)
		case <-s.ctx.Done():
			log.Debug().Msg("Progress sweeper stopped")
			return
		}
	}
}
