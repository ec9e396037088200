package rotary

import (
	"errors"
	"testing"
	"time"

	"github.com/jangala-dev/rotary-go/gpio"
	"github.com/jangala-dev/rotary-go/gpio/gpiotest"
)

// Classic Pi header wiring for a KY-040.
const (
	clkPin = 17
	dtPin  = 27
	btnPin = 22
)

// Each sequence is one level per column; both strings advance together,
// CLK stepped before DT within a column.
func TestQuadratureSequences(t *testing.T) {
	cases := []struct {
		name    string
		clk, dt string
		cw, ccw int
	}{
		{"one clockwise detent", "011", "001", 1, 0},
		{"one counter clockwise detent", "001", "011", 0, 1},
		{"dt flicker absorbed", "00001", "01011", 0, 1},
		{"clk flicker absorbed", "00011", "01001", 1, 0},
		{"full cycle each way", "011000110", "001101100", 2, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bank := gpiotest.NewBank()
			var cw, ccw int
			enc, err := Open(bank, Config{CLK: clkPin, DT: dtPin}, Handlers{
				OnClockwise:        func() { cw++ },
				OnCounterClockwise: func() { ccw++ },
			})
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer enc.Close()

			bank.Play([]int{clkPin, dtPin}, []string{tc.clk, tc.dt})
			if cw != tc.cw || ccw != tc.ccw {
				t.Fatalf("turns = (%d cw, %d ccw), want (%d, %d)", cw, ccw, tc.cw, tc.ccw)
			}
			if want := int64(tc.cw - tc.ccw); enc.Position() != want {
				t.Fatalf("Position = %d, want %d", enc.Position(), want)
			}
		})
	}
}

func TestPhaseFlickerAlone(t *testing.T) {
	bank := gpiotest.NewBank()
	events := 0
	enc, err := Open(bank, Config{CLK: clkPin, DT: dtPin}, Handlers{
		OnClockwise:        func() { events++ },
		OnCounterClockwise: func() { events++ },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer enc.Close()

	// CLK bouncing with DT quiet never completes a detent.
	bank.Play([]int{clkPin, dtPin}, []string{"0101010", "0000000"})
	if events != 0 || enc.Position() != 0 {
		t.Fatalf("flicker produced %d events, position %d", events, enc.Position())
	}
}

func TestReverseDirection(t *testing.T) {
	bank := gpiotest.NewBank()
	var cw, ccw int
	enc, err := Open(bank, Config{CLK: clkPin, DT: dtPin, ReverseDirection: true}, Handlers{
		OnClockwise:        func() { cw++ },
		OnCounterClockwise: func() { ccw++ },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer enc.Close()

	// Normally one clockwise detent; reversed wiring reports ccw.
	bank.Play([]int{clkPin, dtPin}, []string{"011", "001"})
	if cw != 0 || ccw != 1 {
		t.Fatalf("turns = (%d cw, %d ccw), want (0, 1)", cw, ccw)
	}
	if enc.Position() != -1 {
		t.Fatalf("Position = %d, want -1", enc.Position())
	}
}

func TestOpenRefusesBetweenDetents(t *testing.T) {
	bank := gpiotest.NewBank()
	bank.Pin(clkPin).Set(true) // DT stays low: phases disagree

	_, err := Open(bank, Config{CLK: clkPin, DT: dtPin}, Handlers{})
	if !errors.Is(err, ErrNotInRestingState) {
		t.Fatalf("err = %v, want ErrNotInRestingState", err)
	}
	if bank.Pin(clkPin).Watching() != gpio.EdgeNone || bank.Pin(dtPin).Watching() != gpio.EdgeNone {
		t.Fatal("edge notifier left registered after refused open")
	}
	if !bank.Pin(clkPin).Released() || !bank.Pin(dtPin).Released() {
		t.Fatal("pins not handed back after refused open")
	}
}

func TestOpenUnwindsOnWatchFailure(t *testing.T) {
	bank := gpiotest.NewBank()
	bank.Pin(dtPin).FailIRQ = errors.New("irq exhausted")

	_, err := Open(bank, Config{CLK: clkPin, DT: dtPin}, Handlers{})
	if err == nil {
		t.Fatal("Open succeeded with a failing pin")
	}
	if bank.Pin(clkPin).Watching() != gpio.EdgeNone {
		t.Fatal("clk notifier survived the unwind")
	}
	if !bank.Pin(clkPin).Released() || !bank.Pin(dtPin).Released() {
		t.Fatal("pins not released during unwind")
	}
}

type noPins struct{}

func (noPins) ByNumber(int) (gpio.EventPin, bool) { return nil, false }

func TestOpenMissingPin(t *testing.T) {
	_, err := Open(noPins{}, Config{CLK: clkPin, DT: dtPin}, Handlers{})
	if !errors.Is(err, ErrMissingPin) {
		t.Fatalf("err = %v, want ErrMissingPin", err)
	}
}

func TestConfigValidation(t *testing.T) {
	bank := gpiotest.NewBank()
	bad := []Config{
		{CLK: 5, DT: 5},
		{CLK: 5, DT: 6, Button: 5},
		{CLK: 5, DT: 6, Dispatch: DispatchShared + 1},
	}
	for i, cfg := range bad {
		if _, err := Open(bank, cfg, Handlers{}); !errors.Is(err, ErrBadConfig) {
			t.Errorf("config %d: err = %v, want ErrBadConfig", i, err)
		}
	}
}

func TestCloseIsTerminal(t *testing.T) {
	bank := gpiotest.NewBank()
	enc, err := Open(bank, Config{CLK: clkPin, DT: dtPin, Button: btnPin}, Handlers{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := enc.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Close = %v, want ErrClosed", err)
	}
	for _, n := range []int{clkPin, dtPin, btnPin} {
		if bank.Pin(n).Watching() != gpio.EdgeNone {
			t.Errorf("pin %d still watched after Close", n)
		}
		if !bank.Pin(n).Released() {
			t.Errorf("pin %d not released after Close", n)
		}
	}
}

func TestButtonEvents(t *testing.T) {
	bank := gpiotest.NewBank()
	bank.Pin(btnPin).Set(true) // pulled-up idle before open

	var downs, ups int
	enc, err := Open(bank, Config{
		CLK: clkPin, DT: dtPin, Button: btnPin,
		ButtonPull: gpio.PullUp, ButtonInvert: true,
	}, Handlers{
		OnButtonDown: func() { downs++ },
		OnButtonUp:   func() { ups++ },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer enc.Close()

	if got := bank.Pin(btnPin).Pull(); got != gpio.PullUp {
		t.Fatalf("button pull = %v, want up", got)
	}
	bank.Pin(btnPin).Set(false) // press shorts to ground
	bank.Pin(btnPin).Set(true)  // release
	bank.Pin(btnPin).Set(false) // press again
	if downs != 2 || ups != 1 {
		t.Fatalf("events = (%d down, %d up), want (2, 1)", downs, ups)
	}
}

func TestButtonDebounceSuppressesChatter(t *testing.T) {
	bank := gpiotest.NewBank()
	bank.Pin(btnPin).Set(true)

	var downs, ups int
	enc, err := Open(bank, Config{
		CLK: clkPin, DT: dtPin, Button: btnPin,
		ButtonPull: gpio.PullUp, ButtonInvert: true,
		ButtonDebounce: time.Hour,
	}, Handlers{
		OnButtonDown: func() { downs++ },
		OnButtonUp:   func() { ups++ },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer enc.Close()

	bank.Pin(btnPin).Set(false) // accepted press
	bank.Pin(btnPin).Set(true)  // chatter inside the window
	bank.Pin(btnPin).Set(false)
	if downs != 1 || ups != 0 {
		t.Fatalf("events = (%d down, %d up), want (1, 0)", downs, ups)
	}
}
