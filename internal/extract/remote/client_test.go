package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/law-makers/harvest/internal/credential"
	"github.com/law-makers/harvest/internal/extract"
	"github.com/law-makers/harvest/internal/ratelimit"
	"github.com/law-makers/harvest/pkg/models"
)

// fakeAPI is a minimal actor-run API. Runs succeed after pollsUntilDone
// status checks and return dataset.
type fakeAPI struct {
	pollsUntilDone int32
	polls          atomic.Int32
	dataset        string
	finalStatus    string
	statusMessage  string
	startStatus    int
	startBody      string
	lastAuth       atomic.Value
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /acts/{actor}/runs", func(w http.ResponseWriter, r *http.Request) {
		f.lastAuth.Store(r.Header.Get("Authorization"))
		if f.startStatus != 0 {
			w.WriteHeader(f.startStatus)
			w.Write([]byte(f.startBody))
			return
		}
		var body struct {
			StartURLs []struct {
				URL string `json:"url"`
			} `json:"startUrls"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.StartURLs) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":"run1","status":"RUNNING","defaultDatasetId":"ds1"}}`))
	})
	mux.HandleFunc("GET /actor-runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		n := f.polls.Add(1)
		status := "RUNNING"
		if n >= f.pollsUntilDone {
			status = f.finalStatus
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"id":               "run1",
			"status":           status,
			"statusMessage":    f.statusMessage,
			"defaultDatasetId": "ds1",
		}})
	})
	mux.HandleFunc("GET /datasets/{id}/items", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(f.dataset))
	})
	mux.HandleFunc("GET /users/me/limits", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"limits":{"maxMonthlyUsageUsd":5},"current":{"monthlyUsageUsd":5}}}`))
	})
	return mux
}

func newTestClient(t *testing.T, api *fakeAPI, timeout time.Duration) *Client {
	t.Helper()
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)

	c, err := New(Options{
		BaseURL:      server.URL,
		ActorID:      "contact~scraper",
		Timeout:      timeout,
		PollInterval: 5 * time.Millisecond,
		Headers:      map[string]string{"X-Client": "harvest-test"},
		Limiter:      ratelimit.NewKeyLimiter(1000, 100),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

var testCred = credential.Credential{Key: "key-123456789"}

func TestExtractSuccess(t *testing.T) {
	api := &fakeAPI{pollsUntilDone: 2, finalStatus: "SUCCEEDED", dataset: `[{"email":"a@b.c"}]`}
	c := newTestClient(t, api, time.Second)

	payload, err := c.Extract(context.Background(), "https://example.com/in/alice", testCred)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !strings.Contains(string(payload), "a@b.c") {
		t.Errorf("Unexpected payload: %s", payload)
	}
	if got := api.lastAuth.Load(); got != "Bearer key-123456789" {
		t.Errorf("Expected bearer auth, got %v", got)
	}
	if api.polls.Load() < 2 {
		t.Errorf("Expected at least 2 polls, got %d", api.polls.Load())
	}
}

func TestExtractEmptyDatasetIsNotFound(t *testing.T) {
	api := &fakeAPI{pollsUntilDone: 1, finalStatus: "SUCCEEDED", dataset: `[]`}
	c := newTestClient(t, api, time.Second)

	_, err := c.Extract(context.Background(), "https://example.com/in/bob", testCred)
	if kind := extract.Classify(err); kind != models.KindNotFound {
		t.Fatalf("Expected not_found, got %q (%v)", kind, err)
	}
}

func TestExtractQuotaStatus(t *testing.T) {
	api := &fakeAPI{
		startStatus: http.StatusPaymentRequired,
		startBody:   `{"error":{"type":"not-enough-usage-to-run-paid-actor","message":"You have exceeded your monthly usage limit"}}`,
	}
	c := newTestClient(t, api, time.Second)

	_, err := c.Extract(context.Background(), "https://example.com/in/carol", testCred)
	if kind := extract.Classify(err); kind != models.KindQuotaExhausted {
		t.Fatalf("Expected quota_exhausted, got %q (%v)", kind, err)
	}
	var e *extract.Error
	if !errors.As(err, &e) || e.StatusCode != http.StatusPaymentRequired {
		t.Errorf("Expected status 402 on error, got %v", err)
	}
}

func TestExtractFailedRunClassified(t *testing.T) {
	api := &fakeAPI{pollsUntilDone: 1, finalStatus: "FAILED", statusMessage: "Actor failed: monthly usage limit reached"}
	c := newTestClient(t, api, time.Second)

	_, err := c.Extract(context.Background(), "https://example.com/in/dan", testCred)
	if kind := extract.Classify(err); kind != models.KindQuotaExhausted {
		t.Fatalf("Expected quota_exhausted, got %q (%v)", kind, err)
	}
}

func TestExtractTimeout(t *testing.T) {
	api := &fakeAPI{pollsUntilDone: 1 << 20, finalStatus: "SUCCEEDED"}
	c := newTestClient(t, api, 30*time.Millisecond)

	_, err := c.Extract(context.Background(), "https://example.com/in/erin", testCred)
	if kind := extract.Classify(err); kind != models.KindTransientNetwork {
		t.Fatalf("Expected transient_network, got %q (%v)", kind, err)
	}
}

func TestExtractCancelled(t *testing.T) {
	api := &fakeAPI{pollsUntilDone: 1 << 20, finalStatus: "SUCCEEDED"}
	c := newTestClient(t, api, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Extract(ctx, "https://example.com/in/fay", testCred)
	if kind := extract.Classify(err); kind != models.KindCancelled {
		t.Fatalf("Expected cancelled, got %q (%v)", kind, err)
	}
}

func TestQuota(t *testing.T) {
	c := newTestClient(t, &fakeAPI{}, time.Second)

	q, err := c.Quota(context.Background(), testCred)
	if err != nil {
		t.Fatalf("Quota failed: %v", err)
	}
	if q.Limit != 5 || !q.Exhausted() {
		t.Errorf("Unexpected quota: %+v", q)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Options{ActorID: "a"}); err == nil {
		t.Error("Expected error without base URL")
	}
	if _, err := New(Options{BaseURL: "http://x"}); err == nil {
		t.Error("Expected error without actor id")
	}
}
