// velocity.go
package rotary

import (
	"sync"
	"time"

	"github.com/jangala-dev/rotary-go/x/mathx"
)

// Velocity counts recent same-direction detents inside a sliding window,
// for fast-spin detection. Safe for concurrent use from callback
// goroutines.
type Velocity struct {
	mu     sync.Mutex
	window time.Duration
	steps  []velocityStep
}

type velocityStep struct {
	at  time.Time
	dir Direction
}

// NewVelocity returns a tracker over the given window. Windows of zero or
// less fall back to 250ms.
func NewVelocity(window time.Duration) *Velocity {
	if window <= 0 {
		window = 250 * time.Millisecond
	}
	return &Velocity{window: window, steps: make([]velocityStep, 0, 16)}
}

// Record notes one detent and returns how many detents in the same
// direction landed inside the window, this one included.
func (v *Velocity) Record(d Direction) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-v.window)

	kept := v.steps[:0]
	for _, s := range v.steps {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	kept = append(kept, velocityStep{at: now, dir: d})
	v.steps = kept

	n := 0
	for _, s := range kept {
		if s.dir == d {
			n++
		}
	}
	return n
}

// StepScaler maps detent velocity to an accelerated step size: slow turns
// step by base, and from the third same-direction detent inside the
// window the step ramps linearly, reaching max by the tenth.
type StepScaler struct {
	base, max        int
	threshold, burst int
	vel              *Velocity
}

func NewStepScaler(base, max int, window time.Duration) *StepScaler {
	return &StepScaler{base: base, max: max, threshold: 2, burst: 10, vel: NewVelocity(window)}
}

// Step records one detent and returns the scaled step size for it.
func (s *StepScaler) Step(d Direction) int {
	n := s.vel.Record(d)
	if n <= s.threshold {
		return s.base
	}
	return mathx.Map(n, s.threshold, s.burst, s.base, s.max)
}
