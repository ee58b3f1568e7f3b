package pipeline

import (
	"context"
	"math/rand"
	"time"

	"mailpilot/internal/config"
)

// RetryPolicy bounds transient-failure retries per (email, stage).
// Attempt n (1-based) waits BaseDelay * Multiplier^(n-1) plus jitter
// before running.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Multiplier: 2}
}

func PolicyFromConfig(rc config.RetryConfig) RetryPolicy {
	p := RetryPolicy{
		MaxAttempts: rc.MaxAttempts,
		BaseDelay:   time.Duration(rc.BaseDelaySecs * float64(time.Second)),
		Multiplier:  rc.Multiplier,
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 2 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	return p
}

// Delay returns the wait before the given attempt (1-based). Jitter is
// added to prevent thundering herd against a recovering provider.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	base := time.Duration(d)
	jitter := time.Duration(rand.Int63n(int64(base/2) + 1))
	return base + jitter
}

// sleep waits for d or until the context ends, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
