package diameter

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Delay returns the redial delay for attempt N (1-based). Jitter scales the
// delay into [0.5, 1.5) of its nominal value.
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	delay := float64(b.InitialDelay)
	if attempt > 1 {
		mult := math.Max(b.Multiplier, 1.0)
		delay *= math.Pow(mult, float64(attempt-1))
	}
	if b.MaxDelay > 0 {
		delay = math.Min(delay, float64(b.MaxDelay))
	}
	if b.Jitter && rng != nil {
		delay *= 0.5 + rng.Float64()
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
