package queuekit

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy maps a retry count to the delay before the next attempt.
type BackoffStrategy interface {
	// Delay returns the wait before attempt retryCount+1. retryCount is
	// the number of failures so far, starting at 0.
	Delay(retryCount int) time.Duration
}

// maxBackoffShift bounds the exponent so base<<n cannot overflow int64
// for any realistic base delay.
const maxBackoffShift = 32

// ExponentialBackoff implements exponential backoff with jitter. The
// unjittered delay grows as Base * 2^retryCount and is capped at Max; the
// jittered result is perturbed by +/- Jitter/2 of the capped value and
// floored at Base so it never returns a near-zero delay.
type ExponentialBackoff struct {
	// Base is the delay for the first retry. Must be positive.
	Base time.Duration

	// Max caps the unjittered delay.
	Max time.Duration

	// Jitter is the total random perturbation as a fraction of the capped
	// delay (0.3 means +/- 15%). Zero disables jitter.
	Jitter float64

	// rng, when set, makes the jitter deterministic. Nil uses the shared
	// package source.
	rng *rand.Rand
}

// NewExponentialBackoff returns a strategy with the package defaults:
// 250ms base, 5 minute cap, 30% jitter.
func NewExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		Base:   250 * time.Millisecond,
		Max:    5 * time.Minute,
		Jitter: 0.3,
	}
}

// NewSeededBackoff returns a strategy whose jitter draws from a fixed seed.
// Intended for tests that need reproducible delays.
func NewSeededBackoff(base, max time.Duration, jitter float64, seed int64) *ExponentialBackoff {
	return &ExponentialBackoff{
		Base:   base,
		Max:    max,
		Jitter: jitter,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// raw returns the unjittered, capped delay for retryCount.
func (b *ExponentialBackoff) raw(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > maxBackoffShift {
		retryCount = maxBackoffShift
	}

	d := float64(b.Base) * math.Pow(2, float64(retryCount))
	if d > float64(b.Max) || math.IsInf(d, 1) {
		d = float64(b.Max)
	}
	return time.Duration(d)
}

// Delay implements BackoffStrategy.
func (b *ExponentialBackoff) Delay(retryCount int) time.Duration {
	d := b.raw(retryCount)

	if b.Jitter > 0 {
		jitterRange := float64(d) * b.Jitter
		var draw float64
		if b.rng != nil {
			draw = b.rng.Float64()
		} else {
			draw = rand.Float64()
		}
		d = time.Duration(float64(d) - jitterRange/2 + draw*jitterRange)
	}

	// Never hand back a delay shorter than the base; a near-zero delay
	// defeats the point of backing off.
	if d < b.Base {
		d = b.Base
	}
	return d
}
