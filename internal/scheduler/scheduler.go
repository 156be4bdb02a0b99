// Package scheduler runs a backlog of extraction items against a bounded
// number of concurrent workers, rotating credentials on quota failures.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/law-makers/harvest/internal/credential"
	"github.com/law-makers/harvest/internal/extract"
	"github.com/law-makers/harvest/internal/ratelimit"
	"github.com/law-makers/harvest/pkg/models"
)

// DefaultMaxRetries is the number of extra credentials tried for an item
// after a quota failure
const DefaultMaxRetries = 3

// Options configures a Scheduler
type Options struct {
	// MaxConcurrent bounds the number of items in flight. Values below 1 mean 1.
	MaxConcurrent int

	// ItemDelay spaces out item starts. Zero starts items as soon as a slot frees.
	ItemDelay time.Duration

	// MaxRetries caps credential rotations per item. Zero means
	// DefaultMaxRetries, negative disables rotation.
	MaxRetries int

	// OnStart is called when a worker picks up an item
	OnStart func(input string, index int)

	// OnProgress is called after every terminal outcome
	OnProgress func(completed, total int)

	// OnItem is called after every terminal outcome with the item's
	// position in the input list
	OnItem func(input string, outcome models.Outcome, index int)

	// Validate rejects inputs before any credential is spent on them
	Validate func(input string) error

	Logger *zerolog.Logger
}

// Report is the result of one Run
type Report struct {
	// Outcomes has one entry per input, in input order
	Outcomes        []models.Outcome
	Retries         int
	CredentialsUsed int
	PeakInFlight    int
}

// Scheduler drives extract.Client calls for a batch of inputs.
//
// Callbacks are invoked one at a time, never concurrently, so they may
// update shared state without extra locking. They must not block for long:
// while a callback runs no other item can complete.
type Scheduler struct {
	client extract.Client
	pool   *credential.Pool
	opts   Options
	logger *zerolog.Logger
}

// New creates a Scheduler
func New(client extract.Client, pool *credential.Pool, opts Options) *Scheduler {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = &log.Logger
	}
	return &Scheduler{client: client, pool: pool, opts: opts, logger: logger}
}

type workItem struct {
	input   string
	index   int
	cred    credential.Credential
	hasCred bool
}

// Run processes inputs and blocks until every one has an outcome.
//
// Cancelling ctx stops new items from starting; items not yet started are
// reported as cancelled and in-flight items see the cancelled context.
func (s *Scheduler) Run(ctx context.Context, inputs []string) Report {
	if len(inputs) == 0 {
		return Report{Outcomes: []models.Outcome{}}
	}

	backlog := make([]workItem, len(inputs))
	for i, in := range inputs {
		c, ok := s.pool.Assign()
		backlog[i] = workItem{input: in, index: i, cred: c, hasCred: ok}
	}

	st := newRunState(len(inputs), s.opts)
	jobs := make(chan workItem)

	workers := min(s.opts.MaxConcurrent, len(backlog))
	var wg sync.WaitGroup
	for w := 1; w <= workers; w++ {
		wg.Add(1)
		go s.worker(ctx, w, jobs, st, &wg)
	}

	// jobs is unbuffered: an item leaves the backlog only when a worker is
	// free to start it
	pacer := ratelimit.NewPacer(s.opts.ItemDelay)
	dispatched := 0
dispatch:
	for _, item := range backlog {
		if err := pacer.Wait(ctx); err != nil {
			break
		}
		select {
		case jobs <- item:
			dispatched++
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	for _, item := range backlog[dispatched:] {
		st.complete(item, cancelledOutcome(item.input), false)
	}

	if dispatched < len(backlog) {
		s.logger.Warn().
			Int("dispatched", dispatched).
			Int("total", len(backlog)).
			Msg("Run cancelled before the backlog drained")
	}

	return st.report(inputs)
}

func (s *Scheduler) worker(ctx context.Context, id int, jobs <-chan workItem, st *runState, wg *sync.WaitGroup) {
	defer wg.Done()

	for item := range jobs {
		if ctx.Err() != nil {
			st.complete(item, cancelledOutcome(item.input), false)
			continue
		}

		st.begin(item)
		s.logger.Debug().
			Int("worker_id", id).
			Int("index", item.index).
			Str("input", item.input).
			Msg("Item started")

		out := s.process(ctx, item, st)

		s.logger.Debug().
			Int("worker_id", id).
			Int("index", item.index).
			Bool("success", out.Success).
			Str("kind", string(out.Kind)).
			Int("attempts", out.Attempts).
			Dur("duration", out.Duration).
			Msg("Item finished")

		st.complete(item, out, true)
	}
}

// process runs one item to a terminal outcome, rotating credentials on
// quota failures
func (s *Scheduler) process(ctx context.Context, item workItem, st *runState) (out models.Outcome) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error().
				Str("input", item.input).
				Interface("panic", rec).
				Msg("Recovered from panic while processing item")
			out = models.FailedOutcome(item.input, models.KindUnknown, fmt.Sprintf("panic: %v", rec))
		}
		out.Input = item.input
		out.Duration = time.Since(start)
	}()

	if s.opts.Validate != nil {
		if err := s.opts.Validate(item.input); err != nil {
			return models.FailedOutcome(item.input, models.KindInvalidInput, err.Error())
		}
	}

	cred, ok := item.cred, item.hasCred
	if !ok || !s.pool.IsAvailable(cred.Key) {
		// the pre-assigned credential was taken out of rotation after enqueue
		cred, ok = s.pool.Assign()
	}
	if !ok {
		return models.FailedOutcome(item.input, models.KindPoolExhausted, extract.ErrPoolExhausted.Message)
	}

	tried := make(map[string]struct{}, s.opts.MaxRetries+1)
	attempts := 0
	for {
		tried[cred.Key] = struct{}{}
		attempts++
		st.used(cred.Key)
		s.pool.RecordUse(cred.Key)

		payload, err := s.client.Extract(ctx, item.input, cred)
		if err == nil {
			return models.Outcome{
				Input:      item.input,
				Success:    true,
				Payload:    payload,
				Credential: cred.Label(),
				Attempts:   attempts,
			}
		}

		kind := extract.Classify(err)
		out = models.Outcome{
			Input:      item.input,
			Error:      err.Error(),
			Kind:       kind,
			Credential: cred.Label(),
			Attempts:   attempts,
		}
		if !extract.Rotatable(kind) {
			return out
		}

		s.pool.MarkUnavailable(cred.Key)
		s.logger.Info().
			Str("credential", cred.Label()).
			Str("input", item.input).
			Int("attempt", attempts).
			Msg("Credential exhausted, rotating")

		if attempts > s.opts.MaxRetries || ctx.Err() != nil {
			return out
		}
		next, ok := s.pool.AssignExcept(tried)
		if !ok {
			return out
		}
		st.retried()
		cred = next
	}
}

func cancelledOutcome(input string) models.Outcome {
	return models.FailedOutcome(input, models.KindCancelled, "run cancelled before item started")
}

// runState is the shared bookkeeping of one Run
type runState struct {
	mu        sync.Mutex
	opts      Options
	total     int
	completed int
	inFlight  int
	peak      int
	retries   int
	creds     map[string]struct{}
	results   map[string]models.Outcome
}

func newRunState(total int, opts Options) *runState {
	return &runState{
		opts:    opts,
		total:   total,
		creds:   make(map[string]struct{}),
		results: make(map[string]models.Outcome, total),
	}
}

func (r *runState) begin(item workItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight++
	if r.inFlight > r.peak {
		r.peak = r.inFlight
	}
	if r.opts.OnStart != nil {
		r.opts.OnStart(item.input, item.index)
	}
}

func (r *runState) used(key string) {
	r.mu.Lock()
	r.creds[key] = struct{}{}
	r.mu.Unlock()
}

func (r *runState) retried() {
	r.mu.Lock()
	r.retries++
	r.mu.Unlock()
}

func (r *runState) complete(item workItem, out models.Outcome, started bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if started {
		r.inFlight--
	}
	r.results[item.input] = out
	r.completed++

	if r.opts.OnProgress != nil {
		r.opts.OnProgress(r.completed, r.total)
	}
	if r.opts.OnItem != nil {
		r.opts.OnItem(item.input, out, item.index)
	}
}

// report projects the outcomes onto the original input order
func (r *runState) report(inputs []string) Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	outcomes := make([]models.Outcome, len(inputs))
	for i, in := range inputs {
		out, ok := r.results[in]
		if !ok {
			out = models.FailedOutcome(in, models.KindUnknown, models.FailedToProcess)
		}
		outcomes[i] = out
	}

	return Report{
		Outcomes:        outcomes,
		Retries:         r.retries,
		CredentialsUsed: len(r.creds),
		PeakInFlight:    r.peak,
	}
}
