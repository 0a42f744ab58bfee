package stream

import (
	"math"
	"time"
)

// Backoff computes reconnect delays: Base * Multiplier^attempt, capped at Max,
// then spread by ±Jitter.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64 // fraction, 0.2 = ±20%; negative disables
}

// DefaultBackoff is 1s doubling to 30s with ±20% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

func (b Backoff) withDefaults() Backoff {
	def := DefaultBackoff()
	if b.Base <= 0 {
		b.Base = def.Base
	}
	if b.Max <= 0 {
		b.Max = def.Max
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	if b.Multiplier < 1 {
		b.Multiplier = def.Multiplier
	}
	if b.Jitter == 0 || b.Jitter >= 1 {
		b.Jitter = def.Jitter
	}
	return b
}

// Delay returns the wait before retry number attempt (0-based). rnd must be
// in [0, 1) and picks the point inside the jitter band.
func (b Backoff) Delay(attempt int, rnd float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(b.Base) * math.Pow(b.Multiplier, float64(attempt))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	d *= 1 + max(b.Jitter, 0)*(2*rnd-1)
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
