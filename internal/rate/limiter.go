package rate

import (
	"context"
	"fmt"

	xrate "golang.org/x/time/rate"
)

// Limiter gates outbound API calls so we respect Gmail rate limits.
type Limiter interface {
	Wait(ctx context.Context) error
}

// TokenBucket releases a fixed number of tokens per second with a burst of one.
type TokenBucket struct {
	lim *xrate.Limiter
}

// NewTokenBucket returns a limiter that releases rps tokens per second.
// The first call proceeds immediately.
func NewTokenBucket(rps int) *TokenBucket {
	if rps <= 0 {
		rps = 1
	}
	return &TokenBucket{lim: xrate.NewLimiter(xrate.Limit(rps), 1)}
}

// Wait blocks until a token is available or the context is canceled.
func (t *TokenBucket) Wait(ctx context.Context) error {
	if err := t.lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate wait canceled: %w", err)
	}
	return nil
}

// None never blocks. It is used when rate limiting is disabled.
type None struct{}

func (None) Wait(ctx context.Context) error {
	return ctx.Err()
}

// New returns a TokenBucket for rps > 0 and None otherwise.
func New(rps int) Limiter {
	if rps <= 0 {
		return None{}
	}
	return NewTokenBucket(rps)
}

var (
	_ Limiter = (*TokenBucket)(nil)
	_ Limiter = None{}
)
