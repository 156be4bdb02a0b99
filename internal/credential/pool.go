// Package credential manages the API keys used against the extraction service.
package credential

import (
	"strings"
	"sync"
	"time"

	"github.com/law-makers/harvest/pkg/models"
)

// Credential is one interchangeable API key handed out by the Pool.
// The value is immutable; mutable usage state lives inside the Pool.
type Credential struct {
	Key   string
	Index int
}

// Label returns a masked form of the key that is safe to log
func (c Credential) Label() string {
	return Mask(c.Key)
}

// IsZero reports whether c is the zero Credential
func (c Credential) IsZero() bool {
	return c.Key == ""
}

// Mask keeps a short prefix of key and hides the rest
func Mask(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return key[:min(2, len(key))] + "***"
	}
	return key[:6] + "..." + key[len(key)-2:]
}

type state struct {
	uses      int64
	lastUsed  time.Time
	available bool
	quota     *models.QuotaInfo
}

// Pool hands out credentials round-robin and tracks their availability.
// All methods are safe for concurrent use.
type Pool struct {
	creds []Credential
	state map[string]*state
	index int
	mu    sync.Mutex
}

// NewPool creates a Pool from keys. Blank and duplicate keys are dropped;
// the order of the remaining keys is kept.
func NewPool(keys []string) *Pool {
	p := &Pool{state: make(map[string]*state)}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := p.state[k]; dup {
			continue
		}
		p.creds = append(p.creds, Credential{Key: k, Index: len(p.creds)})
		p.state[k] = &state{available: true}
	}
	return p
}

// Next returns the next available credential in round-robin order.
// The second return value is false when a full cycle finds none available.
func (p *Pool) Next() (Credential, bool) {
	return p.NextExcept(nil)
}

// NextExcept is Next but skips every key in exclude
func (p *Pool) NextExcept(exclude map[string]struct{}) (Credential, bool) {
	return p.pick(exclude, true)
}

// Assign returns the next available credential like Next without counting
// a use. Callers that assign ahead of the call report it with RecordUse.
func (p *Pool) Assign() (Credential, bool) {
	return p.pick(nil, false)
}

// AssignExcept is Assign but skips every key in exclude
func (p *Pool) AssignExcept(exclude map[string]struct{}) (Credential, bool) {
	return p.pick(exclude, false)
}

// RecordUse counts one call made with key
func (p *Pool) RecordUse(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.state[key]; ok {
		st.uses++
		st.lastUsed = time.Now()
	}
}

func (p *Pool) pick(exclude map[string]struct{}, record bool) (Credential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.creds)
	for i := 0; i < n; i++ {
		c := p.creds[p.index]
		p.index = (p.index + 1) % n

		st := p.state[c.Key]
		if !st.available {
			continue
		}
		if _, skip := exclude[c.Key]; skip {
			continue
		}

		// usage is recorded before the lock is released so two callers
		// can never observe the same cursor position
		if record {
			st.uses++
			st.lastUsed = time.Now()
		}
		return c, true
	}
	return Credential{}, false
}

// MarkUnavailable takes key out of rotation until the next ResetAll
func (p *Pool) MarkUnavailable(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.state[key]; ok {
		st.available = false
	}
}

// IsAvailable reports whether key is currently in rotation
func (p *Pool) IsAvailable(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.state[key]
	return ok && st.available
}

// ResetAll puts every credential back into rotation. Called once per run.
func (p *Pool) ResetAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, st := range p.state {
		st.available = true
	}
}

// AvailableCount returns the number of credentials currently in rotation
func (p *Pool) AvailableCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, st := range p.state {
		if st.available {
			n++
		}
	}
	return n
}

// Size returns the number of configured credentials
func (p *Pool) Size() int {
	return len(p.creds)
}

// Credentials returns the configured credentials in pool order
func (p *Pool) Credentials() []Credential {
	out := make([]Credential, len(p.creds))
	copy(out, p.creds)
	return out
}

// UpdateQuota records the last known remote quota of key. An exhausted
// snapshot takes the credential out of rotation right away.
func (p *Pool) UpdateQuota(key string, info models.QuotaInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.state[key]
	if !ok {
		return
	}
	if info.CheckedAt.IsZero() {
		info.CheckedAt = time.Now()
	}
	st.quota = &info
	if info.Exhausted() {
		st.available = false
	}
}

// Stats returns a snapshot of every credential in pool order
func (p *Pool) Stats() []models.CredentialStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.CredentialStats, 0, len(p.creds))
	for _, c := range p.creds {
		st := p.state[c.Key]
		cs := models.CredentialStats{
			Label:     c.Label(),
			Index:     c.Index,
			Uses:      st.uses,
			LastUsed:  st.lastUsed,
			Available: st.available,
		}
		if st.quota != nil {
			q := *st.quota
			cs.Quota = &q
		}
		out = append(out, cs)
	}
	return out
}
