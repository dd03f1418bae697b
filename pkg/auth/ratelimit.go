package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter checks whether a request should be allowed based on
// the identity's service tier.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// RateLimitError is returned by Allow when the caller is over its limit.
type RateLimitError struct {
	Tier       string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: tier %q, retry after %s", ErrTooManyRequests, e.Tier, e.RetryAfter)
}

// Unwrap lets errors.Is match ErrTooManyRequests.
func (e *RateLimitError) Unwrap() error { return ErrTooManyRequests }

// TierConfig holds rate limit settings for a service tier.
type TierConfig struct {
	RequestsPerMinute int
	Burst             int // 0 means RequestsPerMinute
}

// InProcessLimiter keeps one token bucket per subject and tier in memory.
type InProcessLimiter struct {
	tiers       map[string]TierConfig
	defaultTier TierConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewInProcessLimiter creates a rate limiter with per-tier configuration.
// Tiers not listed use defaultTier; a RequestsPerMinute of 0 disables limiting.
func NewInProcessLimiter(tiers map[string]TierConfig, defaultTier TierConfig) *InProcessLimiter {
	return &InProcessLimiter{
		tiers:       tiers,
		defaultTier: defaultTier,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Allow takes a token from the caller's bucket.
func (l *InProcessLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := identity.TierName()
	tc := l.defaultTier
	if c, ok := l.tiers[tier]; ok {
		tc = c
	}
	if tc.RequestsPerMinute <= 0 {
		return nil
	}

	lim := l.limiter(identity.Subject+":"+tier, tc)
	r := lim.Reserve()
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return &RateLimitError{Tier: tier, RetryAfter: delay}
	}
	return nil
}

func (l *InProcessLimiter) limiter(key string, tc TierConfig) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		burst := tc.Burst
		if burst <= 0 {
			burst = tc.RequestsPerMinute
		}
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(tc.RequestsPerMinute)), burst)
		l.limiters[key] = lim
	}
	return lim
}

