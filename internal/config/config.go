package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/law-makers/harvest/internal/utils/headers"
)

// Profile mirrors engine.Profile in the config file
type Profile struct {
	PerCredential int `yaml:"per_credential"`
	Cap           int `yaml:"cap"`
}

// Config holds application configuration values
type Config struct {
	// Logging
	LogLevel string `yaml:"log_level"`
	JSONLog  bool   `yaml:"json_log"`

	// Credentials
	Credentials []string `yaml:"credentials"`
	UseKeyring  bool     `yaml:"use_keyring"`
	CheckQuota  bool     `yaml:"check_quota"`

	// Extraction API
	APIBaseURL     string            `yaml:"api_base_url"`
	ActorID        string            `yaml:"actor_id"`
	HTTPTimeout    time.Duration     `yaml:"http_timeout"`
	ExtractTimeout time.Duration     `yaml:"extract_timeout"`
	PollInterval   time.Duration     `yaml:"poll_interval"`
	Headers        map[string]string `yaml:"headers"`

	// Rate Limiting (per credential)
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	// Scheduling
	Environment   string             `yaml:"environment"`
	Profiles      map[string]Profile `yaml:"profiles"`
	MaxConcurrent int                `yaml:"max_concurrent"`
	MaxRetries    int                `yaml:"max_retries"`
	ItemDelay     time.Duration      `yaml:"item_delay"`

	// Progress
	ProgressRetention time.Duration `yaml:"progress_retention"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`

	// Server
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a Config populated with the default values
func Default() *Config {
	return &Config{
		LogLevel:          DefaultLogLevel,
		JSONLog:           DefaultJSONLog,
		Environment:       DefaultEnvironment,
		APIBaseURL:        DefaultAPIBaseURL,
		ActorID:           DefaultActorID,
		HTTPTimeout:       DefaultHTTPTimeout,
		ExtractTimeout:    DefaultExtractTimeout,
		PollInterval:      DefaultPollInterval,
		MaxRetries:        DefaultMaxRetries,
		ItemDelay:         DefaultItemDelay,
		RateLimitRPS:      DefaultRateLimitRPS,
		RateLimitBurst:    DefaultRateLimitBurst,
		ProgressRetention: DefaultProgressRetention,
		SweepInterval:     DefaultSweepInterval,
		ListenAddr:        DefaultListenAddr,
		UseKeyring:        true,
		Headers:           map[string]string{},
	}
}

// Load builds a Config by combining defaults, an optional .env file, an optional YAML
// config file, environment variables, and CLI flags, in that order.
// Caller should pass the executing *cobra.Command so flags can be read.
func Load(cmd *cobra.Command) (*Config, error) {
	cfg := Default()

	envFile := DefaultEnvFile
	configFile := os.Getenv("HARVEST_CONFIG")
	if cmd != nil {
		if f := cmd.Flags().Lookup("env-file"); f != nil && f.Value.String() != "" {
			envFile = f.Value.String()
		}
		if f := cmd.Flags().Lookup("config"); f != nil && f.Value.String() != "" {
			configFile = f.Value.String()
		}
	}

	// .env never overrides variables already present in the environment
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	if configFile != "" {
		if err := cfg.loadFile(configFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if cmd != nil {
		if err := cfg.applyFlags(cmd); err != nil {
			return nil, err
		}
	}

	cfg.Credentials = normalizeKeys(cfg.Credentials)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("HARVEST_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("HARVEST_API_KEYS"); v != "" {
		c.Credentials = strings.Split(v, ",")
	}
	if v := getenv("HARVEST_API_BASE_URL"); v != "" {
		c.APIBaseURL = v
	}
	if v := getenv("HARVEST_ACTOR_ID"); v != "" {
		c.ActorID = v
	}
	if v := getenv("HARVEST_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := getenv("HARVEST_LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}

	if v := getenv("HARVEST_USE_KEYRING"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("HARVEST_USE_KEYRING: %w", err)
		}
		c.UseKeyring = b
	}
	if v := getenv("HARVEST_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HARVEST_MAX_CONCURRENT: %w", err)
		}
		c.MaxConcurrent = n
	}
	if v := getenv("HARVEST_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HARVEST_MAX_RETRIES: %w", err)
		}
		c.MaxRetries = n
	}
	if v := getenv("HARVEST_ITEM_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HARVEST_ITEM_DELAY: %w", err)
		}
		c.ItemDelay = d
	}
	return nil
}

func (c *Config) applyFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()

	if f := flags.Lookup("timeout"); f != nil {
		if s := f.Value.String(); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("--timeout: %w", err)
			}
			c.ExtractTimeout = d
		}
	}
	if f := flags.Lookup("env"); f != nil {
		if s := f.Value.String(); s != "" {
			c.Environment = s
		}
	}
	if f := flags.Lookup("concurrency"); f != nil && f.Changed {
		n, err := strconv.Atoi(f.Value.String())
		if err != nil {
			return fmt.Errorf("--concurrency: %w", err)
		}
		c.MaxConcurrent = n
	}
	if f := flags.Lookup("addr"); f != nil && f.Changed {
		c.ListenAddr = f.Value.String()
	}
	if f := flags.Lookup("header"); f != nil && f.Changed {
		if c.Headers == nil {
			c.Headers = map[string]string{}
		}
		hs, err := flags.GetStringArray("header")
		if err != nil {
			return err
		}
		for k, v := range headers.ParseHeaders(hs) {
			c.Headers[k] = v
		}
	}
	if f := flags.Lookup("json"); f != nil {
		if f.Value.String() == "true" {
			c.JSONLog = true
		}
	}
	if f := flags.Lookup("quiet"); f != nil {
		if f.Value.String() == "true" {
			c.LogLevel = "error"
		}
	}
	if f := flags.Lookup("verbose"); f != nil {
		if f.Value.String() == "true" {
			c.LogLevel = "debug"
		}
	}
	return nil
}

func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
