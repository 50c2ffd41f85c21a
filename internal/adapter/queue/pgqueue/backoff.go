// Package pgqueue drains the durable job table with a pool of workers.
// The relational store is the only serialization point: claims and status
// transitions are conditional updates in the jobs repository, so at-least-
// once delivery with idempotent handlers is the contract.
package pgqueue

import (
	"math/rand"
	"time"
)

// Backoff computes the delay before retry attempt n (1-based):
// exponential from base with full jitter, capped.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
	rng  *rand.Rand
}

// NewBackoff constructs a Backoff. rng may be nil for a time-seeded source;
// tests inject a seeded one for reproducible delays.
func NewBackoff(base, cap time.Duration, rng *rand.Rand) *Backoff {
	if base <= 0 {
		base = 2 * time.Second
	}
	if cap < base {
		cap = 5 * time.Minute
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // jitter does not need crypto randomness
	}
	return &Backoff{Base: base, Cap: cap, rng: rng}
}

// Delay returns the backoff for the given attempt with +/-25% jitter.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			d = b.Cap
			break
		}
	}
	jitter := 0.75 + b.rng.Float64()*0.5
	d = time.Duration(float64(d) * jitter)
	if d > b.Cap {
		d = b.Cap
	}
	return d
}
