package ratelimit

import "context"

// RateLimiter throttles provider calls per tenant.
type RateLimiter interface {
	Allow(ctx context.Context, tenantID string) (bool, error)
	Wait(ctx context.Context, tenantID string) error
}

// Unlimited is used when no shared cache is configured.
type Unlimited struct{}

var _ RateLimiter = Unlimited{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

func (Unlimited) Wait(ctx context.Context, _ string) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
