package keypool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move the pool's notion of "now" forward.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestPool(t *testing.T, clock *fakeClock, secrets ...string) *Pool {
	t.Helper()
	pool, err := New(secrets)
	require.NoError(t, err)
	if clock != nil {
		pool.now = clock.Now
	}
	return pool
}

func TestNewRequiresAtLeastOneKey(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	_, err = New([]string{})
	require.Error(t, err)

	pool, err := New([]string{"key-a"})
	require.NoError(t, err)
	require.Equal(t, 1, pool.Size())
}

func TestAcquireRoundRobin(t *testing.T) {
	pool := newTestPool(t, nil, "key-a", "key-b", "key-c")

	// With everything available, N consecutive calls return each key exactly
	// once, in pool order, then wrap.
	for _, want := range []string{"key-a", "key-b", "key-c", "key-a"} {
		got, err := pool.Acquire()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRateLimitFailureCoolsKeyDown(t *testing.T) {
	clock := newFakeClock()
	pool := newTestPool(t, clock, "key-a", "key-b")

	got, err := pool.Acquire()
	require.NoError(t, err)
	require.Equal(t, "key-a", got)

	pool.ReportOutcome("key-a", false, "googleapi: Error 429: rate limit exceeded")

	// key-a must not come back until the cooldown elapses.
	for i := 0; i < 4; i++ {
		got, err = pool.Acquire()
		require.NoError(t, err)
		assert.Equal(t, "key-b", got)
	}
}

func TestRateLimitMarkers(t *testing.T) {
	tests := []struct {
		name      string
		errDetail string
		cooled    bool
	}{
		{"http 429", "googleapi: Error 429: Resource has been exhausted", true},
		{"rate limit text", "provider said rate limit reached", true},
		{"quota text", "quota exceeded for project", true},
		{"server error", "500 internal error", false},
		{"invalid key", "API key not valid. Please pass a valid API key.", false},
		{"empty detail", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := newTestPool(t, nil, "key-a")

			_, err := pool.Acquire()
			require.NoError(t, err)
			pool.ReportOutcome("key-a", false, tt.errDetail)

			_, err = pool.Acquire()
			if tt.cooled {
				assert.ErrorIs(t, err, ErrExhausted)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNonRateLimitFailureKeepsKeyEligible(t *testing.T) {
	pool := newTestPool(t, nil, "key-a", "key-b")

	got, err := pool.Acquire()
	require.NoError(t, err)
	pool.ReportOutcome(got, false, "500 internal error")

	// key-a stays in rotation; the cursor has moved on to key-b, and key-a
	// comes straight back on the wrap.
	got, err = pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, "key-b", got)

	got, err = pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, "key-a", got)
}

func TestAcquireExhaustedWhenAllCooling(t *testing.T) {
	pool := newTestPool(t, nil, "key-a", "key-b")

	pool.ReportOutcome("key-a", false, "429")
	pool.ReportOutcome("key-b", false, "quota exceeded")

	_, err := pool.Acquire()
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestCooldownExpiresLazilyOnAcquire(t *testing.T) {
	clock := newFakeClock()
	pool := newTestPool(t, clock, "key-a")

	_, err := pool.Acquire()
	require.NoError(t, err)
	pool.ReportOutcome("key-a", false, "429 rate limit")

	_, err = pool.Acquire()
	require.ErrorIs(t, err, ErrExhausted)

	clock.Advance(Cooldown + time.Second)

	// The first Acquire past the deadline reclaims the key...
	got, err := pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, "key-a", got)

	// ...and the reclamation is idempotent: the next call just works.
	got, err = pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, "key-a", got)
}

func TestSuccessClearsCooldown(t *testing.T) {
	pool := newTestPool(t, nil, "key-a")

	pool.ReportOutcome("key-a", false, "429")
	_, err := pool.Acquire()
	require.ErrorIs(t, err, ErrExhausted)

	// A late success report from an in-flight call clears the cooldown.
	pool.ReportOutcome("key-a", true, "")

	got, err := pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, "key-a", got)
}

func TestReportOutcomeUnknownSecretIsNoOp(t *testing.T) {
	pool := newTestPool(t, nil, "key-a")

	pool.ReportOutcome("no-such-key", false, "429 rate limit")

	got, err := pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, "key-a", got)
}

func TestRateLimitThenRecoveryScenario(t *testing.T) {
	clock := newFakeClock()
	pool := newTestPool(t, clock, "key-a", "key-b")

	got, err := pool.Acquire()
	require.NoError(t, err)
	require.Equal(t, "key-a", got)

	pool.ReportOutcome("key-a", false, "quota exceeded")

	got, err = pool.Acquire()
	require.NoError(t, err)
	require.Equal(t, "key-b", got)

	// Only key-a is cooling, so the pool is not exhausted: key-b is returned
	// again.
	got, err = pool.Acquire()
	require.NoError(t, err)
	require.Equal(t, "key-b", got)

	clock.Advance(Cooldown)

	got, err = pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, "key-a", got)
}

func TestConcurrentAcquireAndReport(t *testing.T) {
	pool := newTestPool(t, nil, "key-a", "key-b", "key-c")
	valid := map[string]bool{"key-a": true, "key-b": true, "key-c": true}

	var wg sync.WaitGroup
	results := make(chan string, 300)

	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				secret, err := pool.Acquire()
				if err != nil {
					// Another goroutine's failure report may have emptied the
					// pool; that is a legal outcome, not a test failure.
					continue
				}
				results <- secret
				if worker%5 == 0 && j == 3 {
					pool.ReportOutcome(secret, false, "429 rate limit")
					pool.ReportOutcome(secret, true, "")
				} else {
					pool.ReportOutcome(secret, true, "")
				}
			}
		}(i)
	}

	wg.Wait()
	close(results)

	for secret := range results {
		require.True(t, valid[secret], "Acquire returned an unknown secret: %q", secret)
	}
}
