package ratelimit

import "context"

// RateLimiter throttles calls to the remote invoicing endpoint across all
// worker processes.
type RateLimiter interface {
	Allow(ctx context.Context) (bool, error)
	Wait(ctx context.Context) error
}
