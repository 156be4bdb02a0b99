package config

import "time"

// Default constants for application configuration
const (
	DefaultLogLevel          = "info"
	DefaultJSONLog           = false
	DefaultEnvironment       = "development"
	DefaultAPIBaseURL        = "https://api.apify.com/v2"
	DefaultActorID           = "vdrmota~contact-info-scraper"
	DefaultHTTPTimeout       = 30 * time.Second
	DefaultExtractTimeout    = 3 * time.Minute
	DefaultPollInterval      = 3 * time.Second
	DefaultMaxRetries        = 3
	DefaultItemDelay         = 0
	DefaultRateLimitRPS      = 2.0
	DefaultRateLimitBurst    = 4
	DefaultProgressRetention = time.Hour
	DefaultSweepInterval     = time.Minute
	DefaultListenAddr        = ":8080"
	DefaultEnvFile           = ".env"
	DefaultMaxConcurrentCap  = 64
	DefaultMaxRetriesCap     = 10
)
