// Package remote implements extract.Client against an actor-run style REST
// API: a run is started per input, polled until it finishes, and its
// dataset is returned as the payload.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/law-makers/harvest/internal/credential"
	"github.com/law-makers/harvest/internal/extract"
	"github.com/law-makers/harvest/internal/ratelimit"
	"github.com/law-makers/harvest/internal/retry"
	"github.com/law-makers/harvest/internal/utils/headers"
	"github.com/law-makers/harvest/pkg/models"
)

// Options configures a Client
type Options struct {
	BaseURL      string
	ActorID      string
	Timeout      time.Duration // upper bound for one extraction, including polling
	PollInterval time.Duration
	Headers      map[string]string
	HTTPClient   *http.Client
	Limiter      ratelimit.RateLimiter
	Retry        retry.Config
	Logger       *zerolog.Logger
}

// Client talks to the remote extraction service
type Client struct {
	opts   Options
	http   *http.Client
	logger *zerolog.Logger
}

var (
	_ extract.Client       = (*Client)(nil)
	_ extract.QuotaChecker = (*Client)(nil)
)

// New creates a Client. BaseURL and ActorID are required.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if opts.ActorID == "" {
		return nil, fmt.Errorf("actor id is required")
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = &log.Logger
	}

	return &Client{opts: opts, http: httpClient, logger: logger}, nil
}

type runResponse struct {
	Data struct {
		ID               string `json:"id"`
		Status           string `json:"status"`
		StatusMessage    string `json:"statusMessage"`
		DefaultDatasetID string `json:"defaultDatasetId"`
	} `json:"data"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Extract starts a run for input, waits for it and returns its dataset
func (c *Client) Extract(ctx context.Context, input string, cred credential.Credential) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	started := time.Now()
	run, err := c.startRun(ctx, input, cred)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("run", run.Data.ID).
		Str("input", input).
		Str("credential", cred.Label()).
		Msg("Remote run started")

	run, err = c.waitForRun(ctx, run, cred)
	if err != nil {
		return nil, err
	}

	items, err := c.datasetItems(ctx, run.Data.DefaultDatasetID, cred)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("run", run.Data.ID).
		Dur("elapsed", time.Since(started)).
		Msg("Remote run finished")

	var list []json.RawMessage
	if err := json.Unmarshal(items, &list); err != nil {
		return nil, extract.NewError(models.KindUnknown, "malformed dataset", err)
	}
	if len(list) == 0 {
		return nil, extract.ErrNotFound
	}
	return items, nil
}

func (c *Client) startRun(ctx context.Context, input string, cred credential.Credential) (*runResponse, error) {
	body, err := json.Marshal(map[string]any{
		"startUrls":  []map[string]string{{"url": input}},
		"maxResults": 1,
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/acts/%s/runs", c.opts.BaseURL, url.PathEscape(c.opts.ActorID))
	var run runResponse
	// starting a run is not idempotent, so it is never retried here
	if err := c.do(ctx, http.MethodPost, endpoint, cred, body, &run); err != nil {
		return nil, err
	}
	if run.Data.ID == "" {
		return nil, extract.NewError(models.KindUnknown, "remote run has no id", nil)
	}
	return &run, nil
}

func (c *Client) waitForRun(ctx context.Context, run *runResponse, cred credential.Credential) (*runResponse, error) {
	endpoint := fmt.Sprintf("%s/actor-runs/%s", c.opts.BaseURL, url.PathEscape(run.Data.ID))

	for {
		switch run.Data.Status {
		case "SUCCEEDED":
			return run, nil
		case "FAILED", "ABORTED", "TIMED-OUT":
			msg := run.Data.StatusMessage
			if msg == "" {
				msg = "remote run ended with status " + run.Data.Status
			}
			kind := extract.Classify(fmt.Errorf("%s", msg))
			if kind == models.KindNone || kind == models.KindCancelled {
				kind = models.KindUnknown
			}
			return nil, extract.NewError(kind, msg, nil)
		}

		timer := time.NewTimer(c.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, wrapContext(ctx.Err())
		case <-timer.C:
		}

		var next runResponse
		err := retry.WithRetry(ctx, c.opts.Retry, func(ctx context.Context) error {
			return c.do(ctx, http.MethodGet, endpoint, cred, nil, &next)
		})
		if err != nil {
			return nil, err
		}
		run = &next
	}
}

func (c *Client) datasetItems(ctx context.Context, datasetID string, cred credential.Credential) (json.RawMessage, error) {
	if datasetID == "" {
		return nil, extract.NewError(models.KindUnknown, "remote run has no dataset", nil)
	}
	endpoint := fmt.Sprintf("%s/datasets/%s/items?clean=true", c.opts.BaseURL, url.PathEscape(datasetID))

	var raw json.RawMessage
	err := retry.WithRetry(ctx, c.opts.Retry, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, endpoint, cred, nil, &raw)
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

type limitsResponse struct {
	Data struct {
		Limits struct {
			MaxMonthlyUsageUsd float64 `json:"maxMonthlyUsageUsd"`
		} `json:"limits"`
		Current struct {
			MonthlyUsageUsd float64 `json:"monthlyUsageUsd"`
		} `json:"current"`
	} `json:"data"`
}

// Quota reports the monthly usage limits of cred
func (c *Client) Quota(ctx context.Context, cred credential.Credential) (models.QuotaInfo, error) {
	endpoint := c.opts.BaseURL + "/users/me/limits"

	var resp limitsResponse
	err := retry.WithRetry(ctx, c.opts.Retry, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, endpoint, cred, nil, &resp)
	})
	if err != nil {
		return models.QuotaInfo{}, err
	}

	limit := resp.Data.Limits.MaxMonthlyUsageUsd
	used := resp.Data.Current.MonthlyUsageUsd
	return models.QuotaInfo{
		Limit:     limit,
		Used:      used,
		Remaining: limit - used,
		CheckedAt: time.Now(),
	}, nil
}

// do performs one API call authenticated with cred and decodes the JSON
// response into out
func (c *Client) do(ctx context.Context, method, endpoint string, cred credential.Credential, body []byte, out any) error {
	if c.opts.Limiter != nil {
		if err := c.opts.Limiter.Wait(ctx, cred.Key); err != nil {
			if ctx.Err() != nil {
				return wrapContext(ctx.Err())
			}
			return extract.NewError(models.KindTransientNetwork, "rate limited", err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return extract.NewError(models.KindUnknown, "failed to create request", err)
	}
	headers.Apply(req, c.opts.Headers)
	req.Header.Set("Authorization", "Bearer "+cred.Key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return wrapContext(ctx.Err())
		}
		return extract.NewError(models.KindTransientNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return extract.NewError(models.KindTransientNetwork, "failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return extract.NewError(models.KindUnknown, "failed to decode response", err)
	}
	return nil
}

// statusError classifies a non-2xx API response
func statusError(code int, body []byte) error {
	msg := http.StatusText(code)
	var ae apiError
	if json.Unmarshal(body, &ae) == nil && ae.Error.Message != "" {
		msg = ae.Error.Message
		if ae.Error.Type != "" {
			msg = ae.Error.Type + ": " + msg
		}
	}

	var kind models.ErrorKind
	switch {
	case code == http.StatusPaymentRequired, code == http.StatusTooManyRequests:
		kind = models.KindQuotaExhausted
	case code == http.StatusUnauthorized:
		// a revoked key is as useless as an exhausted one
		kind = models.KindQuotaExhausted
	case code == http.StatusForbidden:
		kind = extract.Classify(fmt.Errorf("%s", msg))
		if kind != models.KindQuotaExhausted {
			kind = models.KindUnknown
		}
	case code == http.StatusNotFound:
		kind = models.KindNotFound
	case code == http.StatusServiceUnavailable:
		kind = models.KindQuotaExhausted
	case code >= 500:
		kind = models.KindTransientNetwork
	default:
		kind = extract.Classify(fmt.Errorf("%s", msg))
		if kind == models.KindNone || kind == models.KindCancelled {
			kind = models.KindUnknown
		}
	}
	return extract.NewError(kind, fmt.Sprintf("HTTP %d: %s", code, msg), nil).WithStatus(code)
}

func wrapContext(err error) error {
	if err == context.DeadlineExceeded {
		return extract.NewError(models.KindTransientNetwork, "extraction timed out", err)
	}
	return extract.NewError(models.KindCancelled, "extraction cancelled", err)
}
