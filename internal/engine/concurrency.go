// internal/engine/concurrency.go
package engine

import "strings"

// Environment names the deployment the process runs in
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// ParseEnvironment maps common spellings onto an Environment
func ParseEnvironment(s string) (Environment, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dev", "development", "local":
		return Development, true
	case "prod", "production":
		return Production, true
	}
	return "", false
}

// Profile is the concurrency policy of one environment
type Profile struct {
	// PerCredential is the number of simultaneous calls one credential may carry
	PerCredential int
	// Cap is the hard upper bound regardless of pool size
	Cap int
}

// DefaultProfiles are conservative in production: the remote service's real
// per-key concurrency tolerance is unknown.
var DefaultProfiles = map[Environment]Profile{
	Development: {PerCredential: 3, Cap: 20},
	Production:  {PerCredential: 2, Cap: 8},
}

// OptimalConcurrency returns min(available × PerCredential, Cap), never
// less than 1
func OptimalConcurrency(available int, p Profile) int {
	if p.PerCredential < 1 {
		p.PerCredential = 1
	}
	if p.Cap < 1 {
		p.Cap = 1
	}
	n := min(available*p.PerCredential, p.Cap)
	if n < 1 {
		return 1
	}
	return n
}
