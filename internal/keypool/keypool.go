// Package keypool manages the pool of Gemini API keys used for quiz
// generation. Keys are handed out round-robin; a key that hits a rate limit
// is pulled from rotation for a cooldown period and re-enters rotation
// lazily, on the first acquisition attempt after the cooldown elapses.
package keypool

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"
)

// Cooldown is how long a key stays out of rotation after a rate-limit failure.
const Cooldown = 5 * time.Minute

// ErrExhausted is returned by Acquire when every key is cooling down.
// Callers should surface this as a "temporarily unavailable, retry later"
// condition rather than a fatal error.
var ErrExhausted = errors.New("keypool: all API keys are cooling down")

// rateLimitMarkers are matched case-sensitively against the error text
// reported after a failed provider call.
var rateLimitMarkers = []string{"rate limit", "quota exceeded", "429"}

type entry struct {
	secret     string
	available  bool
	retryAfter time.Time
}

// Pool is the process-wide set of API keys. All fields are guarded by mu;
// Acquire and ReportOutcome never block beyond the lock and never retry.
type Pool struct {
	mu      sync.Mutex
	entries []entry
	cursor  int
	now     func() time.Time // overridable in tests
}

// New creates a pool from the configured keys. At least one key is required.
func New(secrets []string) (*Pool, error) {
	if len(secrets) == 0 {
		return nil, errors.New("keypool: at least one API key is required")
	}

	entries := make([]entry, len(secrets))
	for i, secret := range secrets {
		entries[i] = entry{secret: secret, available: true}
	}

	return &Pool{entries: entries, now: time.Now}, nil
}

// Size returns the number of configured keys.
func (p *Pool) Size() int {
	return len(p.entries)
}

// Acquire returns the next usable API key for exactly one outbound call.
// The scan starts at the shared cursor and wraps around at most once; entries
// whose cooldown deadline has passed are put back into rotation as a side
// effect of being reached. If a full revolution finds nothing usable,
// Acquire fails with ErrExhausted.
func (p *Pool) Acquire() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.entries)
	for attempts := 0; attempts < n; attempts++ {
		e := &p.entries[p.cursor]

		if !e.available {
			if p.now().Before(e.retryAfter) {
				p.cursor = (p.cursor + 1) % n
				continue
			}
			// Cooldown elapsed; the key re-enters rotation right here.
			e.available = true
			e.retryAfter = time.Time{}
			log.Printf("INFO: API key %s recovered from cooldown", maskSecret(e.secret))
		}

		secret := e.secret
		p.cursor = (p.cursor + 1) % n
		return secret, nil
	}

	// The cursor has wrapped back to where the scan started.
	log.Printf("WARN: API key pool exhausted, all %d key(s) cooling down", n)
	return "", ErrExhausted
}

// ReportOutcome records the result of an outbound call made with the given
// key. A success clears any cooldown. A failure cools the key down only when
// the error text carries a rate-limit marker; any other failure leaves the
// key in rotation, since it is either request-specific or too ambiguous to
// act on. Unknown secrets are ignored (caller-side bug, not pool state).
func (p *Pool) ReportOutcome(secret string, succeeded bool, errDetail string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.entries {
		e := &p.entries[i]
		if e.secret != secret {
			continue
		}

		if succeeded {
			e.available = true
			e.retryAfter = time.Time{}
			return
		}

		if isRateLimited(errDetail) {
			e.available = false
			e.retryAfter = p.now().Add(Cooldown)
			log.Printf("WARN: API key %s rate limited, cooling down until %s",
				maskSecret(e.secret), e.retryAfter.Format(time.RFC3339))
		}
		return
	}
}

func isRateLimited(detail string) bool {
	for _, marker := range rateLimitMarkers {
		if strings.Contains(detail, marker) {
			return true
		}
	}
	return false
}

// maskSecret keeps the last four characters so log lines can be correlated
// with a key without exposing it.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
