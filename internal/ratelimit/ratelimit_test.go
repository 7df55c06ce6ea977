package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// mapStore ignores ttl so window expiry is decided by the limiter alone.
type mapStore struct {
	mu sync.Mutex
	m  map[string]Counter
}

func (s *mapStore) Get(key string) (Counter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.m[key]
	return c, ok
}

func (s *mapStore) Set(key string, c Counter, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = c
}

func newTestLimiter(limit int, window time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := New(limit, window, &mapStore{m: map[string]Counter{}}, WithClock(clock.Now))
	return l, clock
}

func TestLimiterRejectsRequestAfterLimit(t *testing.T) {
	t.Parallel()

	const n = 5
	l, clock := newTestLimiter(n, time.Minute)
	for i := 0; i < n; i++ {
		res := l.Check("u1")
		require.True(t, res.Allowed, "request %d", i+1)
		clock.Advance(time.Second)
	}

	res := l.Check("u1")
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfterMs())
	assert.Equal(t, 55*time.Second, res.RetryAfter)
}

func TestLimiterResetsLazilyAfterWindow(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(1, time.Minute)
	require.True(t, l.Check("u1").Allowed)
	require.False(t, l.Check("u1").Allowed)

	clock.Advance(time.Minute)
	assert.True(t, l.Check("u1").Allowed)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(1, time.Minute)
	require.True(t, l.Check("u1").Allowed)
	assert.True(t, l.Check("u2").Allowed)
	assert.False(t, l.Check("u1").Allowed)
}

func TestRetryAfterMsRoundsUp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(1), Result{RetryAfter: time.Microsecond}.RetryAfterMs())
	assert.Equal(t, int64(1500), Result{RetryAfter: 1500 * time.Millisecond}.RetryAfterMs())
	assert.Equal(t, int64(0), Result{Allowed: true}.RetryAfterMs())
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(time.Minute)
	_, ok := s.Get("u1")
	assert.False(t, ok)

	start := time.Now()
	s.Set("u1", Counter{Count: 2, WindowStart: start}, time.Minute)
	c, ok := s.Get("u1")
	require.True(t, ok)
	assert.Equal(t, 2, c.Count)
	assert.Equal(t, 1, s.Len())

	s.Set("u2", Counter{Count: 1, WindowStart: start}, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	_, ok = s.Get("u2")
	assert.False(t, ok)
}

func TestLimiterWithMemoryStoreConcurrent(t *testing.T) {
	t.Parallel()

	l := New(10, time.Minute, nil)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("u1").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}
