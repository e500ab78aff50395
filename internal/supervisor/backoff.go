package supervisor

import (
	"math/rand/v2"
	"time"
)

// Default backoff parameters.
const (
	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffCap  = 30 * time.Second
)

// Backoff computes exponential retry delays: the k-th consecutive failure
// (counting from zero) waits min(Base*2^k, Cap). The attempt counter only
// goes back to zero on [Backoff.Reset].
//
// A Backoff is owned by a single goroutine and is not safe for concurrent use.
type Backoff struct {
	base   time.Duration
	cap    time.Duration
	jitter float64

	attempt int
	rand    func() float64
}

// NewBackoff returns a policy with the given base and cap. base defaults to
// 1s and cap to 30s if zero; cap is raised to base when smaller. jitter is a
// fraction in [0, 1]: each delay is perturbed by up to ±jitter of itself and
// then clamped to cap. Zero jitter yields exact delays.
func NewBackoff(base, cap time.Duration, jitter float64) *Backoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if cap <= 0 {
		cap = DefaultBackoffCap
	}
	if cap < base {
		cap = base
	}
	jitter = min(max(jitter, 0), 1)
	return &Backoff{base: base, cap: cap, jitter: jitter, rand: rand.Float64}
}

// Next returns the delay for the current attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	d := b.base
	for i := 0; i < b.attempt && d < b.cap; i++ {
		d *= 2
	}
	d = min(d, b.cap)
	b.attempt++

	if b.jitter > 0 {
		j := time.Duration(float64(d) * b.jitter * (b.rand()*2 - 1))
		if s := d + j; s > 0 {
			d = min(s, b.cap)
		}
	}
	return d
}

// Reset returns the counter to zero. Call it only after a session reached
// the connected state.
func (b *Backoff) Reset() { b.attempt = 0 }

// Attempt returns the number of delays handed out since the last reset.
func (b *Backoff) Attempt() int { return b.attempt }

// Base returns the first delay.
func (b *Backoff) Base() time.Duration { return b.base }

// Cap returns the maximum delay.
func (b *Backoff) Cap() time.Duration { return b.cap }
