package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/law-makers/harvest/internal/engine"
)

func validate(c *Config) error {
	if _, ok := engine.ParseEnvironment(c.Environment); !ok {
		return fmt.Errorf("unknown environment %q (want development or production)", c.Environment)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be > 0")
	}
	if c.ExtractTimeout <= 0 {
		return fmt.Errorf("extract timeout must be > 0")
	}
	if c.PollInterval <= 0 || c.PollInterval >= c.ExtractTimeout {
		return fmt.Errorf("poll interval must be > 0 and shorter than the extract timeout")
	}
	if c.MaxRetries < 0 || c.MaxRetries > DefaultMaxRetriesCap {
		return fmt.Errorf("max retries must be between 0 and %d", DefaultMaxRetriesCap)
	}
	if c.MaxConcurrent < 0 || c.MaxConcurrent > DefaultMaxConcurrentCap {
		return fmt.Errorf("max concurrent must be between 0 and %d", DefaultMaxConcurrentCap)
	}
	if c.ItemDelay < 0 {
		return fmt.Errorf("item delay must be >= 0")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit rps and burst must be > 0")
	}
	if c.ProgressRetention <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("progress retention and sweep interval must be > 0")
	}
	for env, p := range c.Profiles {
		if _, ok := engine.ParseEnvironment(env); !ok {
			return fmt.Errorf("profile for unknown environment %q", env)
		}
		if p.PerCredential < 1 || p.Cap < 1 {
			return fmt.Errorf("profile %q: per_credential and cap must be >= 1", env)
		}
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid api base url %q", c.APIBaseURL)
	}
	if c.ActorID == "" {
		return fmt.Errorf("actor id must not be empty")
	}
	return nil
}
