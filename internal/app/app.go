// Package app provides the core application initialization and lifecycle management.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/law-makers/harvest/internal/config"
	"github.com/law-makers/harvest/internal/credential"
	"github.com/law-makers/harvest/internal/engine"
	"github.com/law-makers/harvest/internal/extract"
	"github.com/law-makers/harvest/internal/extract/remote"
	"github.com/law-makers/harvest/internal/progress"
	"github.com/law-makers/harvest/internal/ratelimit"
	urlutil "github.com/law-makers/harvest/internal/utils/url"
)

// Application holds all application dependencies and manages their lifecycle.
//
// It is created once at startup and shared across all CLI commands.
// Use Close() to ensure proper resource cleanup on shutdown.
type Application struct {
	Config      *config.Config
	Logger      *zerolog.Logger
	Keys        *credential.Store
	Pool        *credential.Pool
	RateLimiter ratelimit.RateLimiter
	HTTPClient  *http.Client
	Client      extract.Client
	Progress    *progress.MemoryStore
	Runner      *engine.Runner
	startTime   time.Time
}

// Option customizes New
type Option func(*options)

type options struct {
	client extract.Client
	keys   *credential.Store
	writer io.Writer
}

// WithClient replaces the remote extraction client
func WithClient(c extract.Client) Option {
	return func(o *options) { o.client = c }
}

// WithKeyStore replaces the auto-detected credential store
func WithKeyStore(s *credential.Store) Option {
	return func(o *options) { o.keys = s }
}

// WithLogWriter sends logs to w instead of stderr
func WithLogWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// New creates and initializes a new Application with all dependencies.
//
// It performs the following initialization steps:
//   - Configures logging based on the provided config
//   - Builds the credential pool from configured and stored keys
//   - Creates the per-credential rate limiter and the HTTP client
//   - Creates the remote extraction client
//   - Creates the progress store and the runner
//
// If any step fails, an error is returned and no resources are allocated.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := newLogger(cfg, o.writer)
	logger.Debug().
		Str("level", cfg.LogLevel).
		Bool("json", cfg.JSONLog).
		Msg("Logger initialized")

	env, ok := engine.ParseEnvironment(cfg.Environment)
	if !ok {
		return nil, fmt.Errorf("unknown environment %q", cfg.Environment)
	}

	keyStore := o.keys
	if keyStore == nil && cfg.UseKeyring {
		s, err := credential.NewStore()
		if err != nil {
			logger.Warn().Err(err).Msg("Credential store unavailable, using configured keys only")
		} else {
			keyStore = s
		}
	}

	keys := append([]string(nil), cfg.Credentials...)
	if keyStore != nil && cfg.UseKeyring {
		stored, err := keyStore.LoadAll()
		if err != nil {
			logger.Warn().Err(err).Msg("Some stored credentials could not be loaded")
		}
		keys = append(keys, stored...)
	}
	pool := credential.NewPool(keys)
	logger.Debug().
		Int("configured", len(cfg.Credentials)).
		Int("pooled", pool.Size()).
		Msg("Credential pool initialized")

	limiter := ratelimit.NewKeyLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	logger.Debug().
		Float64("rps", cfg.RateLimitRPS).
		Int("burst", cfg.RateLimitBurst).
		Msg("Rate limiter initialized")

	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
			DisableKeepAlives:   false,
		},
	}
	logger.Debug().
		Dur("timeout", cfg.HTTPTimeout).
		Msg("HTTP client initialized")

	client := o.client
	if client == nil {
		rc, err := remote.New(remote.Options{
			BaseURL:      cfg.APIBaseURL,
			ActorID:      cfg.ActorID,
			Timeout:      cfg.ExtractTimeout,
			PollInterval: cfg.PollInterval,
			Headers:      cfg.Headers,
			HTTPClient:   httpClient,
			Limiter:      limiter,
			Logger:       &logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create extraction client: %w", err)
		}
		client = rc
	}

	store := progress.NewMemoryStore(cfg.ProgressRetention, cfg.SweepInterval)

	profiles := make(map[engine.Environment]engine.Profile, len(engine.DefaultProfiles))
	for e, p := range engine.DefaultProfiles {
		profiles[e] = p
	}
	for name, p := range cfg.Profiles {
		if e, ok := engine.ParseEnvironment(name); ok {
			profiles[e] = engine.Profile{PerCredential: p.PerCredential, Cap: p.Cap}
		}
	}

	runner := engine.NewRunner(pool, client, store, engine.Options{
		Environment:   env,
		Profiles:      profiles,
		MaxConcurrent: cfg.MaxConcurrent,
		ItemDelay:     cfg.ItemDelay,
		MaxRetries:    cfg.MaxRetries,
		CheckQuota:    cfg.CheckQuota,
		Validate:      urlutil.ValidateURL,
		Logger:        &logger,
	})

	app := &Application{
		Config:      cfg,
		Logger:      &logger,
		Keys:        keyStore,
		Pool:        pool,
		RateLimiter: limiter,
		HTTPClient:  httpClient,
		Client:      client,
		Progress:    store,
		Runner:      runner,
		startTime:   time.Now(),
	}

	logger.Info().
		Str("environment", string(env)).
		Int("credentials", pool.Size()).
		Msg("Application initialized successfully")
	return app, nil
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	logLevel := zerolog.ErrorLevel // default: suppress non-verbose info logs
	switch cfg.LogLevel {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	// Treat "info" as non-verbose (don't display info logs unless -v is used)
	default:
		logLevel = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if w == nil {
		w = os.Stderr
	}
	var logWriter io.Writer = w
	if !cfg.JSONLog {
		// Human-friendly console output otherwise
		logWriter = zerolog.ConsoleWriter{Out: w}
	}

	return log.Output(logWriter).With().Timestamp().Logger()
}

// Close gracefully shuts down the application and all its resources.
//
// It stops the progress sweeper and releases idle HTTP connections.
// Any errors during shutdown are logged but do not prevent other shutdown steps.
func (a *Application) Close(ctx context.Context) error {
	a.Logger.Info().Msg("Shutting down application")

	if a.Progress != nil {
		a.Progress.Close()
	}

	// Close HTTP client (connection pooling cleanup)
	if a.HTTPClient != nil {
		a.HTTPClient.CloseIdleConnections()
	}

	uptime := time.Since(a.startTime)
	a.Logger.Info().Dur("uptime", uptime).Msg("Application shutdown complete")
	return nil
}

// Uptime returns how long the application has been running.
func (a *Application) Uptime() time.Duration {
	return time.Since(a.startTime)
}
