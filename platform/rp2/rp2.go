//go:build rp2040 || rp2350

// platform/rp2/rp2.go
// Package rp2 exposes the RP2040/RP2350 GP pins (GP0..GP28) as event
// pins. machine.Pin interrupts run in ISR context, where handlers must
// not allocate or block, so the ISR installed here only posts the pin
// number to a small queue; a pump goroutine calls the registered
// handler outside interrupt context, where it is free to lock and read
// pins. Edges that arrive while the queue is full are dropped and
// counted (ISRDrops).
package rp2

import (
	"errors"
	"fmt"
	"machine"
	"sync"
	"sync/atomic"

	"github.com/jangala-dev/rotary-go/gpio"
)

const (
	minPin = 0  // GP0
	maxPin = 28 // GP28

	isrDepth = 16
)

var (
	// ErrBadPin reports a pin number outside GP0..GP28.
	ErrBadPin = errors.New("rp2: pin out of range")

	// ErrBusy reports a second edge notifier on one pin.
	ErrBusy = errors.New("rp2: edge notifier already registered")
)

// Bank hands out the GP pins and owns the interrupt pump. One Bank per
// program; pins keep their identity across Pin calls.
type Bank struct {
	mu   sync.Mutex
	pins map[int]*Pin

	isrQ  chan int // written by ISRs; sends never block
	once  sync.Once
	drops uint32
}

// New prepares the pin bank. The pump goroutine starts on the first
// SetIRQ and runs for the life of the program.
func New() *Bank {
	return &Bank{
		pins: make(map[int]*Pin),
		isrQ: make(chan int, isrDepth),
	}
}

// Pin returns GPn, creating it on first use.
func (b *Bank) Pin(n int) (*Pin, error) {
	if n < minPin || n > maxPin {
		return nil, fmt.Errorf("pin %d: %w", n, ErrBadPin)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.pins[n]
	if p == nil {
		p = &Pin{bank: b, n: n, hw: machine.Pin(n)}
		b.pins[n] = p
	}
	return p, nil
}

// ByNumber implements gpio.PinFactory.
func (b *Bank) ByNumber(n int) (gpio.EventPin, bool) {
	p, err := b.Pin(n)
	if err != nil {
		return nil, false
	}
	return p, true
}

// ISRDrops reports edges discarded because the queue was full. A nonzero
// count means handlers run slower than edges arrive.
func (b *Bank) ISRDrops() uint32 { return atomic.LoadUint32(&b.drops) }

func (b *Bank) startPump() {
	b.once.Do(func() { go b.pump() })
}

func (b *Bank) pump() {
	for n := range b.isrQ {
		b.mu.Lock()
		p := b.pins[n]
		b.mu.Unlock()
		if p == nil {
			continue
		}
		p.mu.Lock()
		h := p.handler
		p.mu.Unlock()
		if h != nil {
			h()
		}
	}
}

// Pin is one GP pin.
type Pin struct {
	bank *Bank
	n    int
	hw   machine.Pin

	mu      sync.Mutex
	handler func()
}

// ConfigureInput sets the pin to input with the requested pull. The
// RP2 pads have both pulls in silicon, so every gpio.Pull maps cleanly.
func (p *Pin) ConfigureInput(pull gpio.Pull) error {
	var mode machine.PinMode
	switch pull {
	case gpio.PullUp:
		mode = machine.PinInputPullup
	case gpio.PullDown:
		mode = machine.PinInputPulldown
	default:
		mode = machine.PinInput
	}
	p.hw.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (p *Pin) Get() bool { return p.hw.Get() }

func (p *Pin) Number() int { return p.n }

// SetIRQ arms the hardware interrupt. The handler is stored before the
// interrupt is enabled so the pump can find it for an edge that lands
// the instant SetInterrupt returns.
func (p *Pin) SetIRQ(edge gpio.Edge, handler func()) error {
	change, err := toPinChange(edge)
	if err != nil {
		return fmt.Errorf("pin %d: %w", p.n, err)
	}
	if handler == nil {
		return fmt.Errorf("pin %d: bad edge request", p.n)
	}

	p.mu.Lock()
	if p.handler != nil {
		p.mu.Unlock()
		return fmt.Errorf("pin %d: %w", p.n, ErrBusy)
	}
	p.handler = handler
	p.mu.Unlock()

	p.bank.startPump()

	n := p.n
	bank := p.bank
	isr := func(machine.Pin) {
		select {
		case bank.isrQ <- n:
		default:
			atomic.AddUint32(&bank.drops, 1)
		}
	}
	if err := p.hw.SetInterrupt(change, isr); err != nil {
		p.mu.Lock()
		p.handler = nil
		p.mu.Unlock()
		return fmt.Errorf("pin %d: set interrupt: %w", p.n, err)
	}
	return nil
}

// ClearIRQ disables the interrupt and drops the handler. Posts already
// in the queue are discarded by the pump once the handler is gone.
func (p *Pin) ClearIRQ() error {
	p.mu.Lock()
	p.handler = nil
	p.mu.Unlock()
	var zero machine.PinChange
	return p.hw.SetInterrupt(zero, nil)
}

func toPinChange(edge gpio.Edge) (machine.PinChange, error) {
	switch edge {
	case gpio.EdgeRising:
		return machine.PinRising, nil
	case gpio.EdgeFalling:
		return machine.PinFalling, nil
	case gpio.EdgeBoth:
		return machine.PinToggle, nil
	default:
		var zero machine.PinChange
		return zero, fmt.Errorf("unsupported edge %v", edge)
	}
}
