package pipeline

import (
	"context"
	"testing"
	"time"

	"mailpilot/internal/config"
)

func TestRetryPolicy_DelayGrowth(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Multiplier: 2}

	cases := []struct {
		attempt int
		min     time.Duration
		max     time.Duration // base*mult^(n-1) * 1.5 (jitter cap)
	}{
		{1, 2 * time.Second, 3 * time.Second},
		{2, 4 * time.Second, 6 * time.Second},
		{3, 8 * time.Second, 12 * time.Second},
		{0, 2 * time.Second, 3 * time.Second}, // clamped to 1
	}
	for _, tc := range cases {
		for i := 0; i < 20; i++ {
			d := p.Delay(tc.attempt)
			if d < tc.min || d > tc.max {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", tc.attempt, d, tc.min, tc.max)
			}
		}
	}
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.RetryConfig{MaxAttempts: 5, BaseDelaySecs: 0.5, Multiplier: 3})
	if p.MaxAttempts != 5 || p.BaseDelay != 500*time.Millisecond || p.Multiplier != 3 {
		t.Errorf("got %+v", p)
	}
}

func TestPolicyFromConfig_ClampsInvalid(t *testing.T) {
	p := PolicyFromConfig(config.RetryConfig{MaxAttempts: 0, BaseDelaySecs: -1, Multiplier: 0.1})
	if p.MaxAttempts != 3 || p.BaseDelay != 2*time.Second || p.Multiplier != 2 {
		t.Errorf("invalid values must fall back to defaults, got %+v", p)
	}
}

func TestSleep_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleep(ctx, time.Minute); err == nil {
		t.Fatal("expected context error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("sleep did not return promptly: %v", elapsed)
	}
}

func TestSleep_Completes(t *testing.T) {
	if err := sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleep: %v", err)
	}
}
