// internal/ratelimit/limiter.go
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles calls per key.
//
// The extraction client keys it by credential so that one busy API key
// cannot starve the others sharing a process.
type RateLimiter interface {
	// Wait blocks until a call for key can proceed or ctx is done.
	Wait(ctx context.Context, key string) error

	// Allow reports whether a call for key may proceed right now.
	Allow(key string) bool
}

// KeyLimiter is a token bucket per key
type KeyLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	perKey   rate.Limit
	burst    int
}

// NewKeyLimiter creates a limiter allowing requestsPerSecond per key
func NewKeyLimiter(requestsPerSecond float64, burst int) *KeyLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2.0
	}
	if burst <= 0 {
		burst = 4
	}

	return &KeyLimiter{
		limiters: make(map[string]*rate.Limiter),
		perKey:   rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// Wait blocks until the call for key can proceed
func (kl *KeyLimiter) Wait(ctx context.Context, key string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return kl.getLimiter(key).Wait(ctx)
}

// Allow checks if a call can proceed without blocking
func (kl *KeyLimiter) Allow(key string) bool {
	return kl.getLimiter(key).Allow()
}

// SetLimit overrides the rate for a single key
func (kl *KeyLimiter) SetLimit(key string, requestsPerSecond float64, burst int) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	if limiter, exists := kl.limiters[key]; exists {
		limiter.SetLimit(rate.Limit(requestsPerSecond))
		limiter.SetBurst(burst)
	} else {
		kl.limiters[key] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

func (kl *KeyLimiter) getLimiter(key string) *rate.Limiter {
	kl.mu.RLock()
	limiter, exists := kl.limiters[key]
	kl.mu.RUnlock()

	if exists {
		return limiter
	}

	kl.mu.Lock()
	defer kl.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := kl.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(kl.perKey, kl.burst)
	kl.limiters[key] = limiter
	return limiter
}

// Pacer spaces out successive events by a fixed interval.
// A zero interval never blocks.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a Pacer that lets one event through per interval
func NewPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		return &Pacer{}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next event may happen
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}
