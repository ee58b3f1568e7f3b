package provider

import (
	"context"
	"sync"
	"time"

	"mailpilot/internal/domain"
)

// RateLimiter is a token bucket for throttling inference API calls.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 5
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	return &RateLimiter{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     ratePerMinute / 60.0,
		lastTime: time.Now(),
	}
}

func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(rl.lastTime).Seconds()
		rl.tokens += elapsed * rl.rate
		if rl.tokens > rl.max {
			rl.tokens = rl.max
		}
		rl.lastTime = now

		if rl.tokens >= 1.0 {
			rl.tokens -= 1.0
			rl.mu.Unlock()
			return nil
		}

		waitSec := (1.0 - rl.tokens) / rl.rate
		rl.mu.Unlock()

		timer := time.NewTimer(time.Duration(waitSec * float64(time.Second)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// throttled wraps an inference backend with a rate limiter.
type throttled struct {
	domain.Inference
	limiter *RateLimiter
}

// Throttle bounds the request rate of an inference backend. A nil
// limiter returns the backend unchanged.
func Throttle(inf domain.Inference, limiter *RateLimiter) domain.Inference {
	if limiter == nil {
		return inf
	}
	return &throttled{Inference: inf, limiter: limiter}
}

func (t *throttled) Generate(ctx context.Context, prompt string, params domain.GenerateParams) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return t.Inference.Generate(ctx, prompt, params)
}
