package worker

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff is a bounded, jittered exponential backoff policy.
type Backoff struct {
	// Initial is the delay after the first failure.
	Initial time.Duration
	// Max caps the delay; zero means no cap.
	Max time.Duration
	// Multiplier grows the delay per attempt (default 2.0 if <= 0).
	Multiplier float64
	// Jitter randomizes each delay by up to this fraction in either
	// direction, e.g. 0.2 for +-20%.
	Jitter float64
}

// DefaultBackoff is used when Config.Backoff is zero.
var DefaultBackoff = Backoff{
	Initial:    500 * time.Millisecond,
	Max:        time.Minute,
	Multiplier: 2,
	Jitter:     0.2,
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(b.Initial) * math.Pow(mult, float64(attempt))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		j := min(b.Jitter, 1)
		d *= 1 - j + 2*j*rand.Float64()
		if b.Max > 0 && d > float64(b.Max) {
			d = float64(b.Max)
		}
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
