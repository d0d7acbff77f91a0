package adapters

import (
	"context"
	"fmt"

	ports "github.com/ZanzyTHEbar/loreweave/loom/weave/ports"
)

// RateLimitedCompleter throttles another Completer per model.
type RateLimitedCompleter struct {
	next    ports.Completer
	limiter ports.RateLimiter
}

func NewRateLimitedCompleter(next ports.Completer, limiter ports.RateLimiter) *RateLimitedCompleter {
	return &RateLimitedCompleter{next: next, limiter: limiter}
}

// Complete waits for a token when the limiter can block, and fails fast otherwise.
func (c *RateLimitedCompleter) Complete(ctx context.Context, msgs []ports.RequestMessage, maxTokens int, params ports.SamplingParams) (string, error) {
	var (
		release func()
		err     error
	)
	if w, ok := c.limiter.(interface {
		Wait(ctx context.Context, key string) (func(), error)
	}); ok {
		release, err = w.Wait(ctx, params.Model)
	} else {
		release, err = c.limiter.Acquire(ctx, params.Model)
	}
	if err != nil {
		return "", fmt.Errorf("acquire rate limit for %s: %w", params.Model, err)
	}
	defer release()

	return c.next.Complete(ctx, msgs, maxTokens, params)
}

var _ ports.Completer = (*RateLimitedCompleter)(nil)
