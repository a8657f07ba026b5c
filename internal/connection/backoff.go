package connection

import (
	"math"
	"time"
)

// backoffDelay computes the reconnect delay for a 1-based attempt number:
// base × 1.5^(attempt−1), capped at max. Strictly increasing until the cap.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(base) * math.Pow(1.5, float64(attempt-1))
	if delay > float64(max) {
		return max
	}
	return time.Duration(delay)
}
