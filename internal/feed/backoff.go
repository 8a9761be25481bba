package feed

import "time"

// maxShift keeps base<<attempt from overflowing on long outages.
const maxShift = 30

// Backoff returns the reconnect delay for a zero-based attempt:
// base*2^attempt plus jitter (a fraction of one second, in [0,1)), capped
// at ceiling. A non-positive ceiling means no cap.
func Backoff(attempt int, base, ceiling time.Duration, jitter float64) time.Duration {
	attempt = min(max(attempt, 0), maxShift)
	jitter = min(max(jitter, 0), 1)

	d := base<<attempt + time.Duration(jitter*float64(time.Second))
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}
