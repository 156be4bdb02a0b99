package credential

import (
	"sync"
	"testing"

	"github.com/law-makers/harvest/pkg/models"
)

func TestPoolRotation(t *testing.T) {
	pool := NewPool([]string{"k1", "k2", "k3"})

	for _, want := range []string{"k1", "k2", "k3", "k1"} {
		c, ok := pool.Next()
		if !ok {
			t.Fatalf("Expected %s, got none", want)
		}
		if c.Key != want {
			t.Errorf("Expected %s, got %s", want, c.Key)
		}
	}

	// cursor is at k2
	pool.MarkUnavailable("k2")
	if c, _ := pool.Next(); c.Key != "k3" {
		t.Errorf("Expected k3 (skipping k2), got %s", c.Key)
	}
	if c, _ := pool.Next(); c.Key != "k1" {
		t.Errorf("Expected k1, got %s", c.Key)
	}
	if c, _ := pool.Next(); c.Key != "k3" {
		t.Errorf("Expected k3, got %s", c.Key)
	}

	pool.ResetAll()
	if c, _ := pool.Next(); c.Key != "k1" {
		t.Errorf("Expected k1, got %s", c.Key)
	}
	if c, _ := pool.Next(); c.Key != "k2" {
		t.Errorf("Expected k2 after reset, got %s", c.Key)
	}
}

func TestPoolDropsBlankAndDuplicateKeys(t *testing.T) {
	pool := NewPool([]string{" k1 ", "", "k2", "k1", "   "})
	if pool.Size() != 2 {
		t.Fatalf("Expected 2 credentials, got %d", pool.Size())
	}
	creds := pool.Credentials()
	if creds[0].Key != "k1" || creds[1].Key != "k2" {
		t.Errorf("Unexpected order: %+v", creds)
	}
	if creds[1].Index != 1 {
		t.Errorf("Expected index 1, got %d", creds[1].Index)
	}
}

func TestPoolExhausted(t *testing.T) {
	empty := NewPool(nil)
	if _, ok := empty.Next(); ok {
		t.Fatal("Expected no credential from an empty pool")
	}

	pool := NewPool([]string{"a", "b"})
	pool.MarkUnavailable("a")
	pool.MarkUnavailable("b")
	pool.MarkUnavailable("b") // idempotent

	if _, ok := pool.Next(); ok {
		t.Fatal("Expected no credential when all are unavailable")
	}
	if n := pool.AvailableCount(); n != 0 {
		t.Errorf("Expected 0 available, got %d", n)
	}

	pool.ResetAll()
	if n := pool.AvailableCount(); n != 2 {
		t.Errorf("Expected 2 available after reset, got %d", n)
	}
}

func TestPoolMarkedCredentialNeverReturned(t *testing.T) {
	pool := NewPool([]string{"a", "b", "c"})
	pool.MarkUnavailable("b")

	for i := 0; i < 30; i++ {
		c, ok := pool.Next()
		if !ok {
			t.Fatal("Expected a credential")
		}
		if c.Key == "b" {
			t.Fatalf("Unavailable credential returned on call %d", i)
		}
	}
	if pool.IsAvailable("b") {
		t.Error("Expected b to stay unavailable")
	}
}

func TestPoolNextExcept(t *testing.T) {
	pool := NewPool([]string{"a", "b", "c"})
	exclude := map[string]struct{}{"a": {}, "b": {}}

	c, ok := pool.NextExcept(exclude)
	if !ok || c.Key != "c" {
		t.Fatalf("Expected c, got %q (ok=%v)", c.Key, ok)
	}

	exclude["c"] = struct{}{}
	if _, ok := pool.NextExcept(exclude); ok {
		t.Fatal("Expected none when every key is excluded")
	}
}

func TestPoolAssignDoesNotCountUse(t *testing.T) {
	pool := NewPool([]string{"a", "b"})

	first, ok := pool.Assign()
	if !ok || first.Key != "a" {
		t.Fatalf("Expected a, got %q (ok=%v)", first.Key, ok)
	}
	second, ok := pool.AssignExcept(map[string]struct{}{"a": {}})
	if !ok || second.Key != "b" {
		t.Fatalf("Expected b, got %q (ok=%v)", second.Key, ok)
	}
	for _, st := range pool.Stats() {
		if st.Uses != 0 || !st.LastUsed.IsZero() {
			t.Errorf("Assign must not count a use: %+v", st)
		}
	}

	pool.RecordUse("a")
	pool.RecordUse("a")
	pool.RecordUse("unknown")
	if got := pool.Stats()[0].Uses; got != 2 {
		t.Errorf("Expected 2 recorded uses on a, got %d", got)
	}
}

func TestPoolConcurrentNext(t *testing.T) {
	keys := []string{"k0", "k1", "k2", "k3", "k4"}
	pool := NewPool(keys)

	const callers = 50
	const perCaller = 20

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perCaller; j++ {
				if _, ok := pool.Next(); !ok {
					t.Error("Expected a credential")
					return
				}
			}
		}()
	}
	wg.Wait()

	want := int64(callers * perCaller / len(keys))
	for _, st := range pool.Stats() {
		if st.Uses != want {
			t.Errorf("Credential %s used %d times, want %d", st.Label, st.Uses, want)
		}
	}
}

func TestPoolUpdateQuota(t *testing.T) {
	pool := NewPool([]string{"a", "b"})

	pool.UpdateQuota("a", models.QuotaInfo{Limit: 10, Used: 4, Remaining: 6})
	if !pool.IsAvailable("a") {
		t.Error("Expected a to stay available with remaining quota")
	}

	pool.UpdateQuota("b", models.QuotaInfo{Limit: 10, Used: 10, Remaining: 0})
	if pool.IsAvailable("b") {
		t.Error("Expected b to be unavailable with zero remaining quota")
	}

	stats := pool.Stats()
	if stats[1].Quota == nil || stats[1].Quota.Remaining != 0 {
		t.Errorf("Expected quota snapshot on b, got %+v", stats[1].Quota)
	}
	if stats[1].Quota.CheckedAt.IsZero() {
		t.Error("Expected CheckedAt to be filled in")
	}

	// unknown keys are ignored
	pool.UpdateQuota("zzz", models.QuotaInfo{})
}

func TestMask(t *testing.T) {
	cases := map[string]string{
		"":                   "",
		"abc":                "ab***",
		"apify_api_12345678": "apify_...78",
	}
	for in, want := range cases {
		if got := Mask(in); got != want {
			t.Errorf("Mask(%q) = %q, want %q", in, got, want)
		}
	}
}
