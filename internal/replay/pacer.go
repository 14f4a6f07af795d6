// Package replay paces and sends the records of a contiguous send buffer.
package replay

import (
	"runtime"
	"time"
)

// DefaultSpinThreshold is the remaining wait below which the pacer stops
// sleeping and spins.
const DefaultSpinThreshold = 20 * time.Millisecond

// Pacer waits for deadlines with a sleep phase followed by a spin phase.
type Pacer struct {
	SpinThreshold time.Duration
}

func NewPacer(threshold time.Duration) *Pacer {
	if threshold <= 0 {
		threshold = DefaultSpinThreshold
	}
	return &Pacer{SpinThreshold: threshold}
}

// WaitUntil returns once deadline has passed.
func (p *Pacer) WaitUntil(deadline time.Time) {
	threshold := p.SpinThreshold
	if threshold <= 0 {
		threshold = DefaultSpinThreshold
	}
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		if remaining > threshold {
			time.Sleep(remaining - threshold)
			continue
		}
		runtime.Gosched()
	}
}
