// rotary.go
// Package rotary decodes two-phase quadrature rotary encoders (KY-040 and
// friends) from GPIO edge events and delivers detent and button callbacks
// under a selectable dispatch policy.
//
// Hardware access goes through gpio.PinFactory; platform/sysfs,
// platform/pcf8574 and platform/rp2 provide backends, gpio/gpiotest the
// fake used in tests.
package rotary

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jangala-dev/rotary-go/gpio"
)

// Encoder owns its claimed pins from Open until Close and turns their
// edge interrupts into detent callbacks.
type Encoder struct {
	cfg  Config
	h    Handlers
	log  *slog.Logger
	disp dispatcher

	clk gpio.EventPin
	dt  gpio.EventPin
	btn gpio.EventPin // nil without a button

	st  state
	pos atomic.Int64

	btnMu      sync.Mutex
	btnPressed bool
	btnLast    time.Time

	closeMu sync.Mutex
	closed  bool
}

// Open claims the configured pins, checks the shaft sits on a detent,
// starts the selected dispatcher and arms the edge notifiers. On any
// failure everything acquired so far is unwound; in particular a shaft
// caught between detents fails with ErrNotInRestingState before any
// notifier is registered.
func Open(pins gpio.PinFactory, cfg Config, h Handlers) (*Encoder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Encoder{cfg: cfg, h: h, log: cfg.logger()}

	var undo []func()
	fail := func(err error) (*Encoder, error) {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return nil, err
	}
	claim := func(n int, pull gpio.Pull, label string) (gpio.EventPin, error) {
		p, ok := pins.ByNumber(n)
		if !ok {
			return nil, fmt.Errorf("%s pin %d: %w", label, n, ErrMissingPin)
		}
		undo = append(undo, func() { releasePin(p) })
		if err := p.ConfigureInput(pull); err != nil {
			return nil, fmt.Errorf("configure %s pin %d: %w", label, n, err)
		}
		return p, nil
	}

	var err error
	if e.clk, err = claim(cfg.CLK, cfg.PhasePull, "clk"); err != nil {
		return fail(err)
	}
	if e.dt, err = claim(cfg.DT, cfg.PhasePull, "dt"); err != nil {
		return fail(err)
	}

	// The decoder needs a settled detent to count from.
	clkLvl, dtLvl := e.clk.Get(), e.dt.Get()
	if clkLvl != dtLvl {
		return fail(fmt.Errorf("clk=%t dt=%t: %w", clkLvl, dtLvl, ErrNotInRestingState))
	}
	e.st.clk, e.st.dt, e.st.lastRest = clkLvl, dtLvl, clkLvl

	if cfg.Button != 0 {
		if e.btn, err = claim(cfg.Button, cfg.ButtonPull, "button"); err != nil {
			return fail(err)
		}
		e.btnPressed = e.pressed(e.btn.Get())
	}

	// Dispatcher before notifiers: an edge may land the instant SetIRQ
	// returns.
	e.disp = newDispatcher(cfg.Dispatch)
	undo = append(undo, e.disp.stop)

	if err := e.clk.SetIRQ(gpio.EdgeBoth, e.onCLK); err != nil {
		return fail(fmt.Errorf("watch clk pin %d: %w", cfg.CLK, err))
	}
	undo = append(undo, func() { _ = e.clk.ClearIRQ() })
	if err := e.dt.SetIRQ(gpio.EdgeBoth, e.onDT); err != nil {
		return fail(fmt.Errorf("watch dt pin %d: %w", cfg.DT, err))
	}
	undo = append(undo, func() { _ = e.dt.ClearIRQ() })
	if e.btn != nil {
		if err := e.btn.SetIRQ(gpio.EdgeBoth, e.onButton); err != nil {
			return fail(fmt.Errorf("watch button pin %d: %w", cfg.Button, err))
		}
	}
	return e, nil
}

// Position returns the net detent count since Open: +1 per clockwise
// step, -1 per counter-clockwise step, after ReverseDirection is applied.
func (e *Encoder) Position() int64 { return e.pos.Load() }

// Close deregisters the edge notifiers, releases the pins and stops the
// dispatcher, letting queued callbacks drain first. A second Close
// returns ErrClosed; a closed encoder cannot be re-armed.
func (e *Encoder) Close() error {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return ErrClosed
	}
	e.closed = true
	e.closeMu.Unlock()

	if err := e.clk.ClearIRQ(); err != nil {
		e.log.Warn("rotary: clear clk notifier", "pin", e.cfg.CLK, "err", err)
	}
	if err := e.dt.ClearIRQ(); err != nil {
		e.log.Warn("rotary: clear dt notifier", "pin", e.cfg.DT, "err", err)
	}
	if e.btn != nil {
		if err := e.btn.ClearIRQ(); err != nil {
			e.log.Warn("rotary: clear button notifier", "pin", e.cfg.Button, "err", err)
		}
	}
	releasePin(e.clk)
	releasePin(e.dt)
	if e.btn != nil {
		releasePin(e.btn)
	}
	e.disp.stop()
	return nil
}

func (e *Encoder) onCLK() { e.onPhase(phaseCLK) }
func (e *Encoder) onDT()  { e.onPhase(phaseDT) }

// onPhase runs on the backend's event goroutine. Both phases are re-read
// under the state lock: cheap mechanical contacts flap, and the level
// that matters is the one current at decode time, not the one that raised
// the interrupt. The callback is dispatched after the lock is dropped.
func (e *Encoder) onPhase(p phase) {
	e.st.mu.Lock()
	d, ok := e.st.advance(e.clk.Get(), e.dt.Get(), p)
	e.st.mu.Unlock()
	if !ok {
		return
	}
	if e.cfg.ReverseDirection {
		d = d.flip()
	}
	e.pos.Add(int64(d.Step()))

	var fn func()
	name := "OnClockwise"
	if d == Clockwise {
		fn = e.h.OnClockwise
	} else {
		fn, name = e.h.OnCounterClockwise, "OnCounterClockwise"
	}
	if fn != nil {
		e.disp.invoke(safeCall(e.log, name, fn))
	}
}

// onButton dedups on logical state and applies the debounce window, so a
// bouncing switch does not spray duplicates through the dispatcher.
func (e *Encoder) onButton() {
	pressed := e.pressed(e.btn.Get())
	now := time.Now()
	e.btnMu.Lock()
	if pressed == e.btnPressed {
		e.btnMu.Unlock()
		return
	}
	if e.cfg.ButtonDebounce > 0 && now.Sub(e.btnLast) < e.cfg.ButtonDebounce {
		e.btnMu.Unlock()
		return
	}
	e.btnPressed = pressed
	e.btnLast = now
	e.btnMu.Unlock()

	var fn func()
	name := "OnButtonDown"
	if pressed {
		fn = e.h.OnButtonDown
	} else {
		fn, name = e.h.OnButtonUp, "OnButtonUp"
	}
	if fn != nil {
		e.disp.invoke(safeCall(e.log, name, fn))
	}
}

func (e *Encoder) pressed(level bool) bool {
	if e.cfg.ButtonInvert {
		return !level
	}
	return level
}

func releasePin(p gpio.Pin) {
	if r, ok := p.(gpio.Releaser); ok {
		_ = r.Release()
	}
}
