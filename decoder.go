// decoder.go
package rotary

import "sync"

// Direction of one detent step.
type Direction uint8

const (
	Clockwise Direction = iota + 1
	CounterClockwise
)

func (d Direction) String() string {
	switch d {
	case Clockwise:
		return "cw"
	case CounterClockwise:
		return "ccw"
	default:
		return "none"
	}
}

// Step returns +1 for Clockwise and -1 for CounterClockwise.
func (d Direction) Step() int {
	if d == CounterClockwise {
		return -1
	}
	return 1
}

func (d Direction) flip() Direction {
	if d == Clockwise {
		return CounterClockwise
	}
	return Clockwise
}

// phase identifies which encoder signal produced an edge.
type phase uint8

const (
	phaseCLK phase = iota
	phaseDT
)

// state is the decoder memory: the last sampled phase levels and the level
// both phases held at the last counted detent. mu serialises the whole
// read-decide-update step across concurrently delivered edges; lastRest
// must only advance inside that step, or a burst of edges for one detent
// counts twice.
type state struct {
	mu       sync.Mutex
	clk, dt  bool
	lastRest bool
}

// advance folds freshly sampled levels into the state and reports a
// completed detent. Caller holds mu.
func (s *state) advance(clk, dt bool, p phase) (Direction, bool) {
	s.clk, s.dt = clk, dt
	d, ok := decode(s.lastRest, clk, dt, p)
	if ok {
		s.lastRest = clk
	}
	return d, ok
}

// decode applies one sampled edge. At rest both phases read the same
// level; between detents they disagree and nothing is emitted, which is
// what absorbs contact flicker. A detent counts only when the settled
// level differs from the previous resting level. The signal whose edge
// completed the transition gives the direction: with the common KY-040
// wiring the DT edge lands last when travelling clockwise.
func decode(lastRest, clk, dt bool, p phase) (Direction, bool) {
	if clk != dt || clk == lastRest {
		return 0, false
	}
	if p == phaseCLK {
		return CounterClockwise, true
	}
	return Clockwise, true
}
