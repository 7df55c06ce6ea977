// Package ratelimit provides a per-key fixed-window request limiter.
package ratelimit

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Counter is the request count of one key in its current window.
type Counter struct {
	Count       int
	WindowStart time.Time
}

// Store holds counters. Implementations must be safe for concurrent use;
// Get followed by Set need not be atomic.
type Store interface {
	Get(key string) (Counter, bool)
	Set(key string, c Counter, ttl time.Duration)
}

// MemoryStore keeps counters in process memory. Entries expire once their
// window is over and are purged by the cache's cleanup loop.
type MemoryStore struct {
	c *cache.Cache
}

// NewMemoryStore creates an in-memory store that purges expired counters
// every cleanupInterval.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{c: cache.New(cache.NoExpiration, cleanupInterval)}
}

// Get returns the counter stored for key.
func (s *MemoryStore) Get(key string) (Counter, bool) {
	v, ok := s.c.Get(key)
	if !ok {
		return Counter{}, false
	}
	c, ok := v.(Counter)
	return c, ok
}

// Set stores c under key for ttl.
func (s *MemoryStore) Set(key string, c Counter, ttl time.Duration) {
	s.c.Set(key, c, ttl)
}

// Len returns the number of stored counters, expired ones included until
// the next cleanup.
func (s *MemoryStore) Len() int {
	return s.c.ItemCount()
}

// Result is the outcome of a Check.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterMs returns RetryAfter in whole milliseconds, rounded up.
func (r Result) RetryAfterMs() int64 {
	if r.RetryAfter <= 0 {
		return 0
	}
	return int64((r.RetryAfter + time.Millisecond - 1) / time.Millisecond)
}

// Limiter allows at most limit requests per key in each fixed window. A
// window starts with the first request after the previous one ended; the
// counter is reset lazily when the next request arrives.
type Limiter struct {
	mu     sync.Mutex
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter. A nil store gets a MemoryStore.
func New(limit int, window time.Duration, store Store, opts ...Option) *Limiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if store == nil {
		store = NewMemoryStore(window)
	}
	l := &Limiter{store: store, limit: limit, window: window, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the maximum number of requests per window.
func (l *Limiter) Limit() int { return l.limit }

// Window returns the window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Check counts one request for key and reports whether it is allowed.
// Rejected requests are not counted.
func (l *Limiter) Check(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.store.Get(key)
	if !ok || now.Sub(c.WindowStart) >= l.window || now.Before(c.WindowStart) {
		c = Counter{WindowStart: now}
	}
	end := c.WindowStart.Add(l.window)
	if c.Count >= l.limit {
		return Result{RetryAfter: end.Sub(now)}
	}
	c.Count++
	l.store.Set(key, c, end.Sub(now))
	return Result{Allowed: true}
}
