package rotary

import (
	"testing"
	"time"
)

func TestVelocityCountsSameDirection(t *testing.T) {
	v := NewVelocity(time.Hour)
	if n := v.Record(Clockwise); n != 1 {
		t.Fatalf("first cw = %d, want 1", n)
	}
	if n := v.Record(Clockwise); n != 2 {
		t.Fatalf("second cw = %d, want 2", n)
	}
	if n := v.Record(CounterClockwise); n != 1 {
		t.Fatalf("ccw after cw = %d, want 1", n)
	}
	if n := v.Record(Clockwise); n != 3 {
		t.Fatalf("third cw = %d, want 3", n)
	}
}

func TestVelocityPrunesOldSteps(t *testing.T) {
	v := NewVelocity(5 * time.Millisecond)
	v.Record(Clockwise)
	time.Sleep(15 * time.Millisecond)
	if n := v.Record(Clockwise); n != 1 {
		t.Fatalf("stale step survived the window: %d", n)
	}
}

func TestStepScalerRamp(t *testing.T) {
	s := NewStepScaler(1, 8, time.Hour)
	steps := make([]int, 0, 12)
	for i := 0; i < 12; i++ {
		steps = append(steps, s.Step(Clockwise))
	}
	if steps[0] != 1 || steps[1] != 1 {
		t.Fatalf("slow turns should step by base: %v", steps[:2])
	}
	if steps[3] <= steps[1] {
		t.Fatalf("ramp not rising: %v", steps)
	}
	if steps[9] != 8 || steps[11] != 8 {
		t.Fatalf("sustained spin should hit the cap: %v", steps)
	}
	// Direction change falls back to base.
	if got := s.Step(CounterClockwise); got != 1 {
		t.Fatalf("reversal step = %d, want 1", got)
	}
}
