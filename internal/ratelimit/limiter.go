package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

// Limiter throttles login requests per account
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewLimiter creates a new login limiter.
// requestsPerMinute: sustained logins allowed per minute per account, 0 disables throttling
// burst: max logins in a burst
func NewLimiter(requestsPerMinute int, burst int) *Limiter {
	r := rate.Inf
	if requestsPerMinute > 0 {
		r = rate.Limit(float64(requestsPerMinute) / 60.0)
	}
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// GetLimiter returns the rate limiter for a specific account
func (l *Limiter) GetLimiter(accountID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[accountID]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[accountID] = limiter
	}

	return limiter
}

// Allow reports whether a login may proceed right now
func (l *Limiter) Allow(accountID string) bool {
	return l.GetLimiter(accountID).Allow()
}

// Wait blocks until a login for accountID may proceed or ctx is done
func (l *Limiter) Wait(ctx context.Context, accountID string) error {
	if err := l.GetLimiter(accountID).Wait(ctx); err != nil {
		return fmt.Errorf("%w: login throttled for %s: %v", models.ErrResource, accountID, err)
	}
	return nil
}
