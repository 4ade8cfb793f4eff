package delivery

import (
	"math/rand"
	"time"
)

// backoffTiers is the escalating retry delay sequence. Retries past the
// last tier keep its delay.
var backoffTiers = []time.Duration{
	5 * time.Second,
	25 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

// Backoff returns the delay before retry number attempt (1-based), with
// ±20% jitter so a channel-wide outage does not end in a synchronized
// retry storm.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	idx := attempt - 1
	if idx >= len(backoffTiers) {
		idx = len(backoffTiers) - 1
	}
	base := backoffTiers[idx]

	// Uniform in [0.8, 1.2].
	factor := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(base) * factor)
}
