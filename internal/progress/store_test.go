package progress

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/law-makers/harvest/pkg/models"
)

// fakeClock lets tests move time without sleeping
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(time.Hour, time.Hour)
	s.now = clock.Now
	s.lastSweep = clock.Now()
	t.Cleanup(s.Close)
	return s, clock
}

func TestGetUnknownIsPending(t *testing.T) {
	s, _ := newTestStore(t)

	rec := s.Get("nope")
	if rec.Status != models.StatusPending {
		t.Errorf("Expected pending status, got %q", rec.Status)
	}
	if rec.RunID != "nope" || rec.Total != 0 || rec.Processed != 0 {
		t.Errorf("Unexpected pending record: %+v", rec)
	}
	if _, ok := s.Lookup("nope"); ok {
		t.Error("Lookup should report unknown runs")
	}
}

func TestSetGetDelete(t *testing.T) {
	s, clock := newTestStore(t)

	s.Set("run-1", models.ProgressRecord{Total: 10, Processed: 3, Status: models.StatusInProgress})
	rec := s.Get("run-1")
	if rec.Total != 10 || rec.Processed != 3 || rec.RunID != "run-1" {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if !rec.UpdatedAt.Equal(clock.Now()) {
		t.Errorf("Expected UpdatedAt to be stamped, got %v", rec.UpdatedAt)
	}

	s.Delete("run-1")
	s.Delete("run-1")
	if _, ok := s.Lookup("run-1"); ok {
		t.Error("Expected record to be deleted")
	}
}

func TestCleanupOld(t *testing.T) {
	s, clock := newTestStore(t)

	s.Set("old", models.ProgressRecord{Status: models.StatusInProgress})
	clock.Advance(45 * time.Minute)
	s.Set("fresh", models.ProgressRecord{Status: models.StatusInProgress})
	clock.Advance(30 * time.Minute)

	if n := s.CleanupOld(time.Hour); n != 1 {
		t.Errorf("Expected 1 record removed, got %d", n)
	}
	if _, ok := s.Lookup("old"); ok {
		t.Error("Expected old record to be swept")
	}
	if _, ok := s.Lookup("fresh"); !ok {
		t.Error("Expected fresh record to survive")
	}
}

func TestSetSweepsOpportunistically(t *testing.T) {
	s, clock := newTestStore(t)

	s.Set("crashed", models.ProgressRecord{Status: models.StatusInProgress})
	clock.Advance(2 * time.Hour)
	s.Set("next", models.ProgressRecord{Status: models.StatusInProgress})

	if s.Len() != 1 {
		t.Errorf("Expected the crashed run to be swept on write, have %d records", s.Len())
	}
}

func TestConcurrentReadWrite(t *testing.T) {
	s, _ := newTestStore(t)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := fmt.Sprintf("run-%d", w)
			for i := 1; i <= 200; i++ {
				s.Set(id, models.ProgressRecord{Total: 200, Processed: i, Status: models.StatusInProgress})
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				rec := s.Get("run-0")
				if rec.Processed > rec.Total && rec.Status != models.StatusPending {
					t.Errorf("Torn record: %+v", rec)
					return
				}
			}
		}()
	}
	wg.Wait()

	if rec := s.Get("run-3"); rec.Processed != 200 {
		t.Errorf("Expected last write to win, got %+v", rec)
	}
}
