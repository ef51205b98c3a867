package ratelimit

import "context"

// RateLimiter bounds the delivery throughput of each recipient sink.
type RateLimiter interface {
	Allow(ctx context.Context, recipientID string) (bool, error)
	Wait(ctx context.Context, recipientID string) error
}
