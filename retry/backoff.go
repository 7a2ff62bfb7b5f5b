// Package retry provides a generic retry helper with exponential backoff and
// jitter. The Redis event publisher uses it to ride out short outages.
package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// backoff returns the delay for the given attempt (0-indexed). The result is
// capped at cfg.MaxDelay before jitter is applied.
func backoff(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if cfg.MaxDelay > 0 {
		delay = math.Min(delay, float64(cfg.MaxDelay))
	}
	if cfg.Jitter > 0 {
		delay += delay * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(math.Max(delay, 0))
}
