package queue

import (
	"math"
	"math/rand"
	"time"
)

const maxBackoff = 30 * time.Second

// backoffDuration returns 2^attempt seconds plus up to 50% jitter, capped at maxBackoff.
func backoffDuration(attempt int) time.Duration {
	base := math.Pow(2, float64(attempt))
	jitter := rand.Float64() * base * 0.5
	secs := base + jitter
	if secs >= maxBackoff.Seconds() {
		return maxBackoff
	}
	return time.Duration(secs * float64(time.Second))
}
