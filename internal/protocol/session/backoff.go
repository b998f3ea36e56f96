package session

import (
	"context"
	"math/rand"
	"time"
)

// Delay returns how long to wait after failed connect attempt n (1-based).
// The first retry waits InitialDelay; each later one grows by Multiplier up
// to MaxDelay. Jitter scales the result into [0.5, 1.5). A nil rng pins the
// jitter factor to 0.5.
func (b BackoffConfig) Delay(n int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	growth := max(b.Multiplier, 1.0)
	delay := float64(b.InitialDelay)
	for i := 1; i < n; i++ {
		delay *= growth
		if b.MaxDelay > 0 && delay >= float64(b.MaxDelay) {
			delay = float64(b.MaxDelay)
			break
		}
	}
	if b.Jitter {
		factor := 0.5
		if rng != nil {
			factor += rng.Float64()
		}
		delay *= factor
	}
	return time.Duration(delay)
}

// Wait blocks for Delay(n, rng) or until ctx is done.
func (b BackoffConfig) Wait(ctx context.Context, n int, rng *rand.Rand) error {
	d := b.Delay(n, rng)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
