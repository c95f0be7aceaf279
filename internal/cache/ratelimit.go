package cache

import (
	"sync"
	"time"
)

// slidingWindowCounter sums timestamped increments within a rolling window using a circular
// buffer of fixed-duration buckets instead of a per-event timestamp list.
type slidingWindowCounter struct {
	mu         sync.Mutex
	buckets    []int64
	bucketSize time.Duration
	numBuckets int
	current    int
	lastUpdate time.Time
}

func newSlidingWindowCounter(windowSize time.Duration, numBuckets int) *slidingWindowCounter {
	if numBuckets <= 0 {
		numBuckets = 10
	}
	if windowSize <= 0 {
		windowSize = 5 * time.Minute
	}
	return &slidingWindowCounter{
		buckets:    make([]int64, numBuckets),
		bucketSize: windowSize / time.Duration(numBuckets),
		numBuckets: numBuckets,
		lastUpdate: time.Now(),
	}
}

func (sw *slidingWindowCounter) increment() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.advance()
	sw.buckets[sw.current]++
}

func (sw *slidingWindowCounter) count() int64 {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.advance()

	var total int64
	for _, c := range sw.buckets {
		total += c
	}
	return total
}

func (sw *slidingWindowCounter) advance() {
	now := time.Now()
	elapsed := now.Sub(sw.lastUpdate)
	bucketsElapsed := int(elapsed / sw.bucketSize)
	if bucketsElapsed <= 0 {
		return
	}
	if bucketsElapsed >= sw.numBuckets {
		for i := range sw.buckets {
			sw.buckets[i] = 0
		}
		sw.current = 0
	} else {
		for i := 0; i < bucketsElapsed; i++ {
			sw.current = (sw.current + 1) % sw.numBuckets
			sw.buckets[sw.current] = 0
		}
	}
	sw.lastUpdate = now
}

// RateLimiter enforces a per-key request budget within a rolling window (spec §4.G: scrapers
// must rate-limit requests against a source's origin to avoid tripping its WAF/anti-bot
// defenses). One counter per source ID, created lazily.
type RateLimiter struct {
	mu         sync.Mutex
	counters   map[string]*slidingWindowCounter
	windowSize time.Duration
	numBuckets int
	limit      int64
}

// NewRateLimiter allows up to limit requests per key within windowSize, tracked across
// numBuckets sub-intervals.
func NewRateLimiter(windowSize time.Duration, numBuckets int, limit int64) *RateLimiter {
	return &RateLimiter{
		counters:   make(map[string]*slidingWindowCounter),
		windowSize: windowSize,
		numBuckets: numBuckets,
		limit:      limit,
	}
}

// Allow reports whether key is still within budget, and if so records one request against it.
// Mirrors the check-then-record pattern of a token bucket without needing a background
// refill goroutine.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	counter, ok := r.counters[key]
	if !ok {
		counter = newSlidingWindowCounter(r.windowSize, r.numBuckets)
		r.counters[key] = counter
	}
	r.mu.Unlock()

	if counter.count() >= r.limit {
		return false
	}
	counter.increment()
	return true
}

// Remaining reports how many requests key has left in the current window.
func (r *RateLimiter) Remaining(key string) int64 {
	r.mu.Lock()
	counter, ok := r.counters[key]
	r.mu.Unlock()
	if !ok {
		return r.limit
	}
	remaining := r.limit - counter.count()
	if remaining < 0 {
		return 0
	}
	return remaining
}
