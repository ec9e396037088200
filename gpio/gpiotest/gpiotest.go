// gpio/gpiotest/gpiotest.go
// Package gpiotest provides in-memory pins for exercising code that
// consumes the gpio capability interfaces.
package gpiotest

import (
	"errors"
	"sync"

	"github.com/jangala-dev/rotary-go/gpio"
)

// ErrIRQBusy is returned by SetIRQ while a handler is already registered.
var ErrIRQBusy = errors.New("gpiotest: irq already registered")

// Pin implements gpio.EventPin and gpio.Releaser. Set fires the registered
// handler synchronously, on the caller's goroutine, whenever the level
// actually changes and the change matches the watched edge.
type Pin struct {
	mu       sync.Mutex
	number   int
	level    bool
	pull     gpio.Pull
	irqEdge  gpio.Edge
	irqFunc  func()
	released bool

	// Failure injection for teardown tests. Set before handing the pin out.
	FailConfigure error
	FailIRQ       error
}

func (p *Pin) ConfigureInput(pull gpio.Pull) error {
	if p.FailConfigure != nil {
		return p.FailConfigure
	}
	p.mu.Lock()
	p.pull = pull
	p.mu.Unlock()
	return nil
}

func (p *Pin) Get() bool {
	p.mu.Lock()
	v := p.level
	p.mu.Unlock()
	return v
}

func (p *Pin) Number() int { return p.number }

func (p *Pin) SetIRQ(edge gpio.Edge, handler func()) error {
	if p.FailIRQ != nil {
		return p.FailIRQ
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.irqFunc != nil {
		return ErrIRQBusy
	}
	p.irqEdge = edge
	p.irqFunc = handler
	return nil
}

func (p *Pin) ClearIRQ() error {
	p.mu.Lock()
	p.irqEdge = gpio.EdgeNone
	p.irqFunc = nil
	p.mu.Unlock()
	return nil
}

func (p *Pin) Release() error {
	p.mu.Lock()
	p.released = true
	p.mu.Unlock()
	return nil
}

// Set drives the pin level. The handler is invoked after the level is
// stored and outside the pin lock, like a real ISR delivering after the
// line has moved.
func (p *Pin) Set(level bool) {
	p.mu.Lock()
	old := p.level
	p.level = level
	irq := p.irqFunc
	want := irqWanted(p.irqEdge, edgeFrom(old, level))
	p.mu.Unlock()
	if want && irq != nil {
		irq()
	}
}

// Watching reports the currently registered edge (EdgeNone when idle).
func (p *Pin) Watching() gpio.Edge {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.irqFunc == nil {
		return gpio.EdgeNone
	}
	return p.irqEdge
}

// Released reports whether Release has been called.
func (p *Pin) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// Pull reports the bias from the last ConfigureInput.
func (p *Pin) Pull() gpio.Pull {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pull
}

func edgeFrom(old, new bool) gpio.Edge {
	switch {
	case !old && new:
		return gpio.EdgeRising
	case old && !new:
		return gpio.EdgeFalling
	default:
		return gpio.EdgeNone
	}
}

func irqWanted(cfg, seen gpio.Edge) bool {
	if seen == gpio.EdgeNone {
		return false
	}
	return cfg == gpio.EdgeBoth || cfg == seen
}

// Bank is a gpio.PinFactory over stable fake pins. Every number resolves;
// pins start low with no handler.
type Bank struct {
	mu   sync.Mutex
	pins map[int]*Pin
}

func NewBank() *Bank { return &Bank{pins: make(map[int]*Pin)} }

func (b *Bank) ByNumber(n int) (gpio.EventPin, bool) { return b.Pin(n), true }

// Pin returns the fake behind a number, creating it on first use.
func (b *Bank) Pin(n int) *Pin {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pins[n]
	if !ok {
		p = &Pin{number: n}
		b.pins[n] = p
	}
	return p
}

// Play steps the named pins through '0'/'1' level strings, column by
// column and pin by pin within each column. A step that leaves a level
// unchanged fires no edge. All sequences must share one length.
func (b *Bank) Play(pins []int, seqs []string) {
	if len(pins) != len(seqs) || len(pins) == 0 {
		panic("gpiotest: pins and seqs must pair up")
	}
	cols := len(seqs[0])
	for _, s := range seqs {
		if len(s) != cols {
			panic("gpiotest: sequences of unequal length")
		}
	}
	for col := 0; col < cols; col++ {
		for i, n := range pins {
			switch seqs[i][col] {
			case '0':
				b.Pin(n).Set(false)
			case '1':
				b.Pin(n).Set(true)
			default:
				panic("gpiotest: sequence must be '0'/'1'")
			}
		}
	}
}
