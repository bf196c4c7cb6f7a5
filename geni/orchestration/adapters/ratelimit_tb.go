package adapters

import (
	"context"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"
)

// TokenBucket is a per-thread admission limiter. Each thread handle gets its own
// bucket; a token is taken for the duration of one router call and returned on release.
type TokenBucket struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int           // max tokens per bucket
	refillRate time.Duration // time between token refills
	idleTTL    time.Duration // buckets untouched this long are dropped
	now        func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
	lastUsed   time.Time
}

// NewTokenBucket creates a new token bucket rate limiter.
func NewTokenBucket(capacity int, refillRate time.Duration) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = time.Second
	}
	return &TokenBucket{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
		idleTTL:    30 * time.Minute,
		now:        time.Now,
	}
}

// Acquire attempts to take a token for the given key.
func (tb *TokenBucket) Acquire(ctx context.Context, key string) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	tb.prune(now)

	b, exists := tb.buckets[key]
	if !exists {
		b = &bucket{tokens: tb.capacity, lastRefill: now}
		tb.buckets[key] = b
	}
	b.lastUsed = now

	// Refill tokens based on elapsed time
	if added := int(now.Sub(b.lastRefill) / tb.refillRate); added > 0 {
		b.tokens = min(b.tokens+added, tb.capacity)
		b.lastRefill = b.lastRefill.Add(time.Duration(added) * tb.refillRate)
	}

	if b.tokens <= 0 {
		return nil, ErrRateLimitExceeded
	}
	b.tokens--

	var once sync.Once
	release = func() {
		once.Do(func() {
			tb.mu.Lock()
			defer tb.mu.Unlock()
			if b, ok := tb.buckets[key]; ok {
				b.tokens = min(b.tokens+1, tb.capacity)
			}
		})
	}
	return release, nil
}

// prune drops idle full buckets. Caller holds tb.mu.
func (tb *TokenBucket) prune(now time.Time) {
	for key, b := range tb.buckets {
		if b.tokens >= tb.capacity && now.Sub(b.lastUsed) > tb.idleTTL {
			delete(tb.buckets, key)
		}
	}
}

// ErrRateLimitExceeded is returned when a thread has no tokens left.
var ErrRateLimitExceeded = &RateLimitError{Message: "rate limit exceeded"}

// RateLimitError reports rejected admission.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// Ensure TokenBucket implements the RateLimiter interface.
var _ ports.RateLimiter = (*TokenBucket)(nil)
