package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig bounds a named token-bucket limiter.
type RateLimiterConfig struct {
	Name      string
	Rate      float64       // requests per second
	Burst     int           // maximum burst size
	WaitLimit time.Duration // maximum time a caller will wait for a token
}

func (c *RateLimiterConfig) applyDefaults() {
	if c.Rate == 0 {
		c.Rate = 10
	}
	if c.Burst == 0 {
		c.Burst = 20
	}
}

var (
	rateLimiters     = make(map[string]*rate.Limiter)
	rateLimiterMutex sync.RWMutex
)

// GetRateLimiter returns the named limiter, creating it with config on first
// use; later calls for the same name ignore config and return the existing
// limiter.
func GetRateLimiter(name string, config RateLimiterConfig) *rate.Limiter {
	rateLimiterMutex.RLock()
	limiter, ok := rateLimiters[name]
	rateLimiterMutex.RUnlock()
	if ok {
		return limiter
	}

	rateLimiterMutex.Lock()
	defer rateLimiterMutex.Unlock()
	if limiter, ok := rateLimiters[name]; ok {
		return limiter
	}

	config.applyDefaults()
	limiter = rate.NewLimiter(rate.Limit(config.Rate), config.Burst)
	rateLimiters[name] = limiter
	return limiter
}

// ExecuteWithRateLimiter waits for a token from the named limiter, then runs
// fn. Waiting longer than config.WaitLimit (when set) fails the call.
func ExecuteWithRateLimiter(ctx context.Context, name string, config RateLimiterConfig, fn func() (interface{}, error)) (interface{}, error) {
	limiter := GetRateLimiter(name, config)

	waitCtx := ctx
	if config.WaitLimit > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, config.WaitLimit)
		defer cancel()
	}

	if err := limiter.Wait(waitCtx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}
	return fn()
}
