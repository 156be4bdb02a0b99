package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/law-makers/harvest/internal/credential"
	"github.com/law-makers/harvest/internal/extract"
	"github.com/law-makers/harvest/internal/progress"
	"github.com/law-makers/harvest/pkg/models"
)

func testURLs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://example.com/in/p%d", i)
	}
	return out
}

func newStore(t *testing.T) *progress.MemoryStore {
	t.Helper()
	s := progress.NewMemoryStore(time.Hour, time.Minute)
	t.Cleanup(s.Close)
	return s
}

// quotaClient succeeds for every input and reports fixed quotas
type quotaClient struct {
	remaining map[string]float64
	calls     atomic.Int32
}

func (q *quotaClient) Extract(ctx context.Context, input string, cred credential.Credential) (json.RawMessage, error) {
	q.calls.Add(1)
	return json.RawMessage(`[{"ok":true}]`), nil
}

func (q *quotaClient) Quota(ctx context.Context, cred credential.Credential) (models.QuotaInfo, error) {
	r, ok := q.remaining[cred.Key]
	if !ok {
		return models.QuotaInfo{}, errors.New("unknown key")
	}
	return models.QuotaInfo{Limit: 10, Used: 10 - r, Remaining: r}, nil
}

func TestOptimalConcurrency(t *testing.T) {
	tests := []struct {
		available int
		profile   Profile
		want      int
	}{
		{available: 2, profile: DefaultProfiles[Development], want: 6},
		{available: 2, profile: DefaultProfiles[Production], want: 4},
		{available: 10, profile: DefaultProfiles[Development], want: 20},
		{available: 10, profile: DefaultProfiles[Production], want: 8},
		{available: 0, profile: DefaultProfiles[Production], want: 1},
		{available: 3, profile: Profile{}, want: 1},
	}
	for _, tt := range tests {
		if got := OptimalConcurrency(tt.available, tt.profile); got != tt.want {
			t.Errorf("OptimalConcurrency(%d, %+v) = %d, want %d", tt.available, tt.profile, got, tt.want)
		}
	}
}

func TestParseEnvironment(t *testing.T) {
	for in, want := range map[string]Environment{"": Development, "DEV": Development, "prod": Production, "production": Production} {
		got, ok := ParseEnvironment(in)
		if !ok || got != want {
			t.Errorf("ParseEnvironment(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ParseEnvironment("staging"); ok {
		t.Error("Expected staging to be rejected")
	}
}

func TestRunnerConcurrency(t *testing.T) {
	pool := credential.NewPool([]string{"a", "b", "c"})
	r := NewRunner(pool, &quotaClient{}, newStore(t), Options{Environment: Production})

	if got := r.Concurrency(100); got != 6 {
		t.Errorf("Expected 6, got %d", got)
	}
	if got := r.Concurrency(2); got != 2 {
		t.Errorf("Expected concurrency clamped to input size, got %d", got)
	}

	r = NewRunner(pool, &quotaClient{}, newStore(t), Options{MaxConcurrent: 5})
	if got := r.Concurrency(100); got != 5 {
		t.Errorf("Expected override 5, got %d", got)
	}
}

func TestRunnerRun(t *testing.T) {
	pool := credential.NewPool([]string{"a", "b"})
	store := newStore(t)
	in := testURLs(10)

	client := extract.ClientFunc(func(ctx context.Context, input string, cred credential.Credential) (json.RawMessage, error) {
		time.Sleep(5 * time.Millisecond)
		if input == in[3] {
			return nil, errors.New("no contact info found")
		}
		return json.RawMessage(`[{"email":"x@y.z"}]`), nil
	})

	var updates atomic.Int32
	r := NewRunner(pool, client, store, Options{
		MaxConcurrent: 4,
		OnProgress:    func(models.ProgressRecord) { updates.Add(1) },
	})

	resp, err := r.Run(context.Background(), models.BatchRequest{URLs: in, RunID: "run-42"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if resp.RunID != "run-42" {
		t.Errorf("Expected run id run-42, got %s", resp.RunID)
	}
	if len(resp.Outcomes) != len(in) {
		t.Fatalf("Expected %d outcomes, got %d", len(in), len(resp.Outcomes))
	}
	for i, out := range resp.Outcomes {
		if out.Input != in[i] {
			t.Errorf("Outcome %d out of order: %s", i, out.Input)
		}
	}

	s := resp.Summary
	if s.Total != 10 || s.Successful != 9 || s.Failed != 1 {
		t.Errorf("Unexpected summary: %+v", s)
	}
	if s.CredentialsUsed != 2 {
		t.Errorf("Expected both credentials used, got %d", s.CredentialsUsed)
	}
	if s.Concurrency != 4 {
		t.Errorf("Expected concurrency 4, got %d", s.Concurrency)
	}

	rec := store.Get("run-42")
	if rec.Status != models.StatusCompleted || rec.Processed != 10 || rec.Successful != 9 || rec.Failed != 1 || rec.Started != 10 {
		t.Errorf("Unexpected final progress: %+v", rec)
	}
	// initial + 10 starts + 10 items + final
	if got := updates.Load(); got != 22 {
		t.Errorf("Expected 22 progress updates, got %d", got)
	}
}

func TestRunnerGeneratesRunID(t *testing.T) {
	r := NewRunner(credential.NewPool([]string{"a"}), &quotaClient{}, newStore(t), Options{})
	resp, err := r.Run(context.Background(), models.BatchRequest{URLs: testURLs(1)})
	if err != nil {
		t.Fatal(err)
	}
	if resp.RunID == "" {
		t.Error("Expected a generated run id")
	}
}

func TestRunnerNoCredentials(t *testing.T) {
	client := &quotaClient{}
	r := NewRunner(credential.NewPool(nil), client, newStore(t), Options{})

	_, err := r.Run(context.Background(), models.BatchRequest{URLs: testURLs(3)})
	if !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("Expected ErrNoCredentials, got %v", err)
	}
	if client.calls.Load() != 0 {
		t.Error("No item may run without credentials")
	}

	var nilRunner *Runner
	if _, err := nilRunner.Run(context.Background(), models.BatchRequest{}); !errors.Is(err, ErrNilRunner) {
		t.Errorf("Expected ErrNilRunner, got %v", err)
	}
}

func TestRunnerEmptyBatch(t *testing.T) {
	store := newStore(t)
	r := NewRunner(credential.NewPool([]string{"a"}), &quotaClient{}, store, Options{})

	resp, err := r.Run(context.Background(), models.BatchRequest{RunID: "empty"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Outcomes) != 0 || resp.Summary.Total != 0 {
		t.Errorf("Unexpected response: %+v", resp)
	}
	if rec := store.Get("empty"); rec.Status != models.StatusCompleted {
		t.Errorf("Expected completed status, got %q", rec.Status)
	}
}

func TestRunnerResetsPoolEachRun(t *testing.T) {
	pool := credential.NewPool([]string{"a"})
	pool.MarkUnavailable("a")

	client := &quotaClient{}
	r := NewRunner(pool, client, newStore(t), Options{})
	resp, err := r.Run(context.Background(), models.BatchRequest{URLs: testURLs(2)})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Summary.Successful != 2 {
		t.Errorf("Expected previously exhausted credential to be usable again: %+v", resp.Summary)
	}
}

func TestRunnerAllCredentialsExhausted(t *testing.T) {
	pool := credential.NewPool([]string{"a", "b"})
	client := &quotaClient{remaining: map[string]float64{"a": 0, "b": 0}}
	r := NewRunner(pool, client, newStore(t), Options{CheckQuota: true})

	resp, err := r.Run(context.Background(), models.BatchRequest{URLs: testURLs(4)})
	if err != nil {
		t.Fatalf("Run must not fail when items fail: %v", err)
	}
	if resp.Summary.Failed != resp.Summary.Total {
		t.Errorf("Expected every item to fail, got %+v", resp.Summary)
	}
	for _, out := range resp.Outcomes {
		if out.Kind != models.KindPoolExhausted {
			t.Errorf("Expected pool_exhausted, got %q", out.Kind)
		}
	}
	if client.calls.Load() != 0 {
		t.Errorf("Expected no extraction calls, got %d", client.calls.Load())
	}
}

func TestRefreshQuotas(t *testing.T) {
	pool := credential.NewPool([]string{"a", "b", "c"})
	client := &quotaClient{remaining: map[string]float64{"a": 3, "b": 0}}
	r := NewRunner(pool, client, newStore(t), Options{})

	err := r.RefreshQuotas(context.Background())
	if err == nil {
		t.Error("Expected an error for the unknown key c")
	}
	if !pool.IsAvailable("a") || pool.IsAvailable("b") || !pool.IsAvailable("c") {
		t.Errorf("Unexpected availability: %+v", pool.Stats())
	}
}

func TestRunnerCancelled(t *testing.T) {
	store := newStore(t)
	client := extract.ClientFunc(func(ctx context.Context, input string, cred credential.Credential) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	var mu sync.Mutex
	var statuses []models.RunStatus
	r := NewRunner(credential.NewPool([]string{"a"}), client, store, Options{
		MaxConcurrent: 2,
		OnProgress: func(rec models.ProgressRecord) {
			mu.Lock()
			statuses = append(statuses, rec.Status)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	resp, err := r.Run(ctx, models.BatchRequest{URLs: testURLs(6), RunID: "cancel-me"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Summary.Failed != 6 || len(resp.Outcomes) != 6 {
		t.Errorf("Expected 6 failed outcomes, got %+v", resp.Summary)
	}
	if rec := store.Get("cancel-me"); rec.Status != models.StatusFailed || rec.Processed != 6 {
		t.Errorf("Expected failed status with exact counters, got %+v", rec)
	}

	// a poller must never see completed before the final failed
	mu.Lock()
	defer mu.Unlock()
	for i, st := range statuses {
		if st == models.StatusCompleted {
			t.Fatalf("Update %d reported completed on a cancelled run: %v", i, statuses)
		}
	}
	if statuses[len(statuses)-1] != models.StatusFailed {
		t.Errorf("Expected the last update to be failed, got %v", statuses)
	}
}

func TestRunnerRejectsConcurrentRun(t *testing.T) {
	store := newStore(t)
	release := make(chan struct{})
	var calls atomic.Int32
	client := extract.ClientFunc(func(ctx context.Context, input string, cred credential.Credential) (json.RawMessage, error) {
		calls.Add(1)
		<-release
		return json.RawMessage(`[]`), nil
	})
	pool := credential.NewPool([]string{"a", "b", "c", "d"})
	r := NewRunner(pool, client, store, Options{Environment: Production})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Run(context.Background(), models.BatchRequest{URLs: testURLs(16), RunID: "first"})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 8 {
		if time.Now().After(deadline) {
			t.Fatal("First run never filled its workers")
		}
		time.Sleep(time.Millisecond)
	}

	// the first run marks a key exhausted; a second run must not reset it
	pool.MarkUnavailable("a")
	if _, err := r.Run(context.Background(), models.BatchRequest{URLs: testURLs(16), RunID: "second"}); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("Expected ErrRunInProgress, got %v", err)
	}
	if pool.IsAvailable("a") {
		t.Error("A rejected run must not put exhausted keys back into rotation")
	}
	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != 8 {
		t.Errorf("Expected in-flight work to stay at the production cap of 8, got %d", got)
	}
	if rec, ok := store.Lookup("second"); ok {
		t.Errorf("Rejected run must not publish progress: %+v", rec)
	}

	close(release)
	wg.Wait()

	if _, err := r.Run(context.Background(), models.BatchRequest{URLs: testURLs(1), RunID: "third"}); err != nil {
		t.Errorf("Expected a new run after the first finished, got %v", err)
	}
}

func TestProgressPolledDuringRun(t *testing.T) {
	store := newStore(t)
	release := make(chan struct{})
	client := extract.ClientFunc(func(ctx context.Context, input string, cred credential.Credential) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`[1]`), nil
	})
	r := NewRunner(credential.NewPool([]string{"a"}), client, store, Options{MaxConcurrent: 2})

	if rec := store.Get("live"); rec.Status != models.StatusPending {
		t.Fatalf("Expected pending before start, got %+v", rec)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Run(context.Background(), models.BatchRequest{URLs: testURLs(4), RunID: "live"})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for store.Get("live").Status != models.StatusInProgress {
		if time.Now().After(deadline) {
			t.Fatal("Run never reported in_progress")
		}
		time.Sleep(time.Millisecond)
	}
	if rec := store.Get("live"); rec.Total != 4 || rec.Processed != 0 {
		t.Errorf("Unexpected in-flight record: %+v", rec)
	}

	close(release)
	wg.Wait()

	if rec := store.Get("live"); rec.Status != models.StatusCompleted || rec.Successful != 4 {
		t.Errorf("Unexpected final record: %+v", rec)
	}
}
