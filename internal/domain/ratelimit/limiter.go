package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether one more event for key fits in the current budget.
// When it does not, retryAfter tells the caller how long the budget stays
// exhausted.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration)
}
