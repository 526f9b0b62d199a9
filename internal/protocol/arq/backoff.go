package arq

import (
	"math"
	"math/rand"
	"time"
)

// NextBackoffDelay returns the dial retry delay for attempt N (1-based).
// ARQ retransmission does not back off; it always waits AckTimeout.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	mult := math.Max(cfg.Multiplier, 1.0)
	delay := float64(cfg.InitialDelay)
	if attempt > 1 {
		delay *= math.Pow(mult, float64(attempt-1))
	}
	if cfg.MaxDelay > 0 {
		delay = math.Min(delay, float64(cfg.MaxDelay))
	}
	if cfg.Jitter {
		f := 1.0
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}
