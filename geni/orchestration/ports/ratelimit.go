package orchestrationports

import "context"

// RateLimiter bounds in-flight work per key (a thread handle).
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
