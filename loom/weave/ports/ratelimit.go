package weaveports

import "context"

// RateLimiter throttles calls to the completion backend per key.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
