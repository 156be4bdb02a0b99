// internal/engine/runner.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/law-makers/harvest/internal/credential"
	"github.com/law-makers/harvest/internal/extract"
	"github.com/law-makers/harvest/internal/progress"
	"github.com/law-makers/harvest/internal/scheduler"
	"github.com/law-makers/harvest/pkg/models"
)

// Options configures a Runner
type Options struct {
	Environment Environment
	Profiles    map[Environment]Profile

	// MaxConcurrent overrides the computed concurrency when > 0
	MaxConcurrent int
	ItemDelay     time.Duration
	MaxRetries    int

	// CheckQuota refreshes every credential's quota before a run when the
	// client supports it
	CheckQuota bool

	Validate func(input string) error

	// OnProgress observes every progress update of every run
	OnProgress func(rec models.ProgressRecord)

	Logger *zerolog.Logger
}

// Runner drives one batch at a time through the scheduler and publishes
// its progress. Runs share the pool, so a second Run while one is active
// fails with ErrRunInProgress.
type Runner struct {
	pool   *credential.Pool
	client extract.Client
	store  progress.Store
	opts   Options
	logger *zerolog.Logger
	active *semaphore.Weighted
}

// NewRunner creates a Runner
func NewRunner(pool *credential.Pool, client extract.Client, store progress.Store, opts Options) *Runner {
	if opts.Environment == "" {
		opts.Environment = Development
	}
	if opts.Profiles == nil {
		opts.Profiles = DefaultProfiles
	}
	logger := opts.Logger
	if logger == nil {
		logger = &log.Logger
	}
	return &Runner{
		pool:   pool,
		client: client,
		store:  store,
		opts:   opts,
		logger: logger,
		active: semaphore.NewWeighted(1),
	}
}

// Concurrency returns the number of workers the next run would use for
// total items
func (r *Runner) Concurrency(total int) int {
	n := r.opts.MaxConcurrent
	if n <= 0 {
		profile, ok := r.opts.Profiles[r.opts.Environment]
		if !ok {
			profile = DefaultProfiles[Production]
		}
		n = OptimalConcurrency(r.pool.AvailableCount(), profile)
	}
	if total > 0 && n > total {
		n = total
	}
	return max(n, 1)
}

// Pool exposes the credential pool for diagnostics
func (r *Runner) Pool() *credential.Pool {
	return r.pool
}

// Progress exposes the progress store for pollers
func (r *Runner) Progress() progress.Store {
	return r.store
}

// RefreshQuotas asks the client for every credential's remaining quota and
// records it in the pool. Exhausted credentials leave rotation immediately.
func (r *Runner) RefreshQuotas(ctx context.Context) error {
	checker, ok := r.client.(extract.QuotaChecker)
	if !ok {
		return nil
	}

	var errs []error
	for _, c := range r.pool.Credentials() {
		q, err := checker.Quota(ctx, c)
		if err != nil {
			r.logger.Warn().Err(err).Str("credential", c.Label()).Msg("Quota check failed")
			errs = append(errs, fmt.Errorf("%s: %w", c.Label(), err))
			continue
		}
		r.pool.UpdateQuota(c.Key, q)
		r.logger.Debug().
			Str("credential", c.Label()).
			Float64("remaining", q.Remaining).
			Msg("Quota refreshed")
	}
	return errors.Join(errs...)
}

// Run processes one batch. Per-item failures are reported in the response;
// an error is returned only when the batch could not start.
func (r *Runner) Run(ctx context.Context, req models.BatchRequest) (*models.BatchResponse, error) {
	if r == nil || r.pool == nil || r.client == nil || r.store == nil {
		return nil, ErrNilRunner
	}
	if r.pool.Size() == 0 {
		return nil, ErrNoCredentials
	}
	if !r.active.TryAcquire(1) {
		return nil, ErrRunInProgress
	}
	defer r.active.Release(1)

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := r.logger.With().Str("run_id", runID).Logger()
	started := time.Now()

	// every run starts with every credential back in rotation
	r.pool.ResetAll()
	if r.opts.CheckQuota {
		if err := r.RefreshQuotas(ctx); err != nil {
			logger.Warn().Err(err).Msg("Some quota checks failed, continuing")
		}
	}

	total := len(req.URLs)
	concurrency := r.Concurrency(total)

	rec := models.ProgressRecord{
		RunID:     runID,
		Total:     total,
		Status:    models.StatusInProgress,
		StartedAt: started,
	}
	r.publish(rec)

	logger.Info().
		Int("total", total).
		Int("concurrency", concurrency).
		Int("credentials", r.pool.AvailableCount()).
		Str("environment", string(r.opts.Environment)).
		Msg("Run started")

	sched := scheduler.New(r.client, r.pool, scheduler.Options{
		MaxConcurrent: concurrency,
		ItemDelay:     r.opts.ItemDelay,
		MaxRetries:    r.opts.MaxRetries,
		Validate:      r.opts.Validate,
		Logger:        &logger,
		OnStart: func(string, int) {
			rec.Started++
			r.publish(rec)
		},
		OnItem: func(input string, out models.Outcome, index int) {
			rec.Processed++
			if out.Success {
				rec.Successful++
			} else {
				rec.Failed++
			}
			r.publish(rec)
		},
	})

	report := sched.Run(ctx, req.URLs)

	if ctx.Err() != nil {
		rec.Status = models.StatusFailed
	} else {
		rec.Status = models.StatusCompleted
	}
	r.publish(rec)

	summary := models.Summary{
		Total:           total,
		CredentialsUsed: report.CredentialsUsed,
		Retries:         report.Retries,
		Concurrency:     concurrency,
		DurationMS:      time.Since(started).Milliseconds(),
	}
	for _, out := range report.Outcomes {
		if out.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}

	logger.Info().
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Int("retries", summary.Retries).
		Int("credentials_used", summary.CredentialsUsed).
		Int("peak_in_flight", report.PeakInFlight).
		Int64("duration_ms", summary.DurationMS).
		Str("status", string(rec.Status)).
		Msg("Run finished")

	return &models.BatchResponse{
		RunID:    runID,
		Outcomes: report.Outcomes,
		Summary:  summary,
	}, nil
}

func (r *Runner) publish(rec models.ProgressRecord) {
	r.store.Set(rec.RunID, rec)
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(r.store.Get(rec.RunID))
	}
}
