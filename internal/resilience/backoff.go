package resilience

import (
	"math/rand"
	"time"

	"github.com/jpillora/backoff"
)

const (
	backoffBase = 1 * time.Second
	backoffCap  = 300 * time.Second
)

// ReconnectBackoff computes reconnection delays: min(300s, 2^attempt) plus a
// random jitter in [0s, 1s) to avoid thundering herds.
type ReconnectBackoff struct {
	b      *backoff.Backoff
	jitter func() float64 // Returns [0,1), overridable in tests
}

// NewReconnectBackoff creates a backoff calculator with the standard curve.
func NewReconnectBackoff() *ReconnectBackoff {
	return &ReconnectBackoff{
		b: &backoff.Backoff{
			Min:    backoffBase,
			Max:    backoffCap,
			Factor: 2,
			Jitter: false,
		},
		jitter: rand.Float64,
	}
}

// Base returns the deterministic delay for a given attempt, without jitter.
func (r *ReconnectBackoff) Base(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return r.b.ForAttempt(float64(attempt))
}

// Delay returns the full delay for a given attempt, jitter included. The cap
// bounds the jittered delay, not just the exponential term.
func (r *ReconnectBackoff) Delay(attempt int) time.Duration {
	d := r.Base(attempt) + time.Duration(r.jitter()*float64(time.Second))
	if d > backoffCap {
		d = backoffCap
	}
	return d
}
