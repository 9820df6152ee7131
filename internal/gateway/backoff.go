package gateway

import (
	"math/rand"
	"time"
)

// backoff computes the delay before each reconnect attempt: capped
// exponential doubling with jitter so many instances restarting at once
// do not retry in lockstep.
type backoff struct {
	base    time.Duration
	max     time.Duration
	attempt int
	jitter  func(time.Duration) time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{
		base:   base,
		max:    max,
		jitter: defaultJitter,
	}
}

// next returns the delay for the current attempt and advances the
// counter. The underlying (pre-jitter) delay doubles per call until it
// reaches the cap.
func (b *backoff) next() time.Duration {
	d := b.base
	for i := 0; i < b.attempt && d < b.max; i++ {
		d *= 2
	}
	if d > b.max {
		d = b.max
	}
	b.attempt++
	return b.jitter(d)
}

func (b *backoff) reset() {
	b.attempt = 0
}

// defaultJitter spreads a delay within ±20% of its value.
func defaultJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := int64(2 * d / 5)
	if spread <= 0 {
		return d
	}
	return d - d/5 + time.Duration(rand.Int63n(spread+1))
}
