package session

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: Min * Factor^attempt, spread by up to
// ±Jitter of itself and capped at Max.
type Backoff struct {
	Min         time.Duration
	Max         time.Duration
	Factor      float64
	Jitter      float64
	MaxAttempts int
}

// DefaultBackoff is the reconnect policy of a Conn.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:         time.Second,
		Max:         5 * time.Second,
		Factor:      2,
		Jitter:      0.25,
		MaxAttempts: 10,
	}
}

// Duration is the delay before attempt, without jitter.
func (b Backoff) Duration(attempt int) time.Duration {
	d := float64(b.Min) * math.Pow(b.Factor, float64(attempt))
	if d > float64(math.MaxInt64) {
		return b.Max
	}
	return time.Duration(d)
}

// WithJitter spreads d using r, a number in [0, 1): below one half d is
// shortened, above it is lengthened, by r*Jitter*d. The result never
// exceeds Max.
func (b Backoff) WithJitter(d time.Duration, r float64) time.Duration {
	deviation := time.Duration(math.Floor(r * b.Jitter * float64(d)))
	switch {
	case r < 0.5:
		d -= deviation
	case r > 0.5:
		d += deviation
	}
	return min(d, b.Max)
}

// Next returns the jittered delay before attempt.
func (b Backoff) Next(attempt int) time.Duration {
	return b.WithJitter(b.Duration(attempt), rand.Float64())
}

// Exhausted reports whether attempt exceeds the attempt budget.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt > b.MaxAttempts
}
