// platform/pcf8574/pcf8574.go
// Package pcf8574 exposes the pins of a PCF8574 I²C port expander as
// gpio.EventPins, so an encoder can live behind the I²C bus instead of
// on MCU pins. The expander's quasi-bidirectional port only drives weak
// highs: inputs accept PullUp or PullNone, never PullDown.
//
// Edge delivery rides the shared active-low INT line (Attach) or a poll
// loop calling Refresh. Either way each Refresh reads the port once and
// fans the diff out to the changed pins in bit order, so two phases
// moving inside one refresh are seen lower-bit first.
package pcf8574

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/drivers"

	"github.com/jangala-dev/rotary-go/gpio"
)

var (
	// ErrPullUnsupported: the port floats high; there is nothing to pull
	// down with.
	ErrPullUnsupported = errors.New("pcf8574: pull-down not available")

	// ErrBadPin reports a pin number outside P0..P7.
	ErrBadPin = errors.New("pcf8574: pin out of range")

	// ErrBusy reports a second edge notifier on one pin.
	ErrBusy = errors.New("pcf8574: edge notifier already registered")
)

// Expander is one PCF8574 at a 7-bit address (0x20..0x27, 0x38..0x3F for
// the A variant).
type Expander struct {
	bus  drivers.I2C
	addr uint16
	log  *slog.Logger

	mu       sync.Mutex
	latch    byte // written port state; input bits ride high
	snapshot byte // port state at the last Refresh
	pins     [8]*Pin
	intLine  gpio.EventPin
}

type Option func(*Expander)

func WithLogger(l *slog.Logger) Option { return func(e *Expander) { e.log = l } }

// New probes the device with a port read and primes the change snapshot.
// A probe failure means there is no expander to drive.
func New(bus drivers.I2C, addr uint16, opts ...Option) (*Expander, error) {
	e := &Expander{bus: bus, addr: addr, latch: 0xFF, log: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	for i := range e.pins {
		e.pins[i] = &Pin{e: e, n: i, bit: 1 << i}
	}
	b, err := e.read()
	if err != nil {
		return nil, fmt.Errorf("pcf8574 probe at %#x: %w", addr, err)
	}
	e.snapshot = b
	return e, nil
}

// Pin returns P0..P7.
func (e *Expander) Pin(n int) (*Pin, error) {
	if n < 0 || n > 7 {
		return nil, fmt.Errorf("pin %d: %w", n, ErrBadPin)
	}
	return e.pins[n], nil
}

// ByNumber adapts the expander to gpio.PinFactory.
func (e *Expander) ByNumber(n int) (gpio.EventPin, bool) {
	p, err := e.Pin(n)
	if err != nil {
		return nil, false
	}
	return p, true
}

// Attach arms the shared INT line: the expander pulls it low whenever an
// input changes, and the handler refreshes the port to fan the change
// out. The line is open-drain, so it is configured pulled up.
func (e *Expander) Attach(intLine gpio.EventPin) error {
	if err := intLine.ConfigureInput(gpio.PullUp); err != nil {
		return fmt.Errorf("pcf8574: configure int line: %w", err)
	}
	if err := intLine.SetIRQ(gpio.EdgeFalling, func() {
		if err := e.Refresh(); err != nil {
			e.log.Warn("pcf8574: refresh on int", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("pcf8574: watch int line: %w", err)
	}
	e.mu.Lock()
	e.intLine = intLine
	e.mu.Unlock()
	return nil
}

// Detach disarms the INT line.
func (e *Expander) Detach() error {
	e.mu.Lock()
	line := e.intLine
	e.intLine = nil
	e.mu.Unlock()
	if line == nil {
		return nil
	}
	return line.ClearIRQ()
}

// Refresh reads the port, diffs it against the last snapshot and fires
// the notifier of every changed pin whose edge matches. Call it from a
// poll loop when no INT line is wired.
func (e *Expander) Refresh() error {
	e.mu.Lock()
	b, err := e.read()
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("pcf8574: read port: %w", err)
	}
	changed := b ^ e.snapshot
	e.snapshot = b
	var fire []func()
	for _, p := range e.pins {
		if p.h == nil || changed&p.bit == 0 {
			continue
		}
		rising := b&p.bit != 0
		if p.edge == gpio.EdgeBoth ||
			(rising && p.edge == gpio.EdgeRising) ||
			(!rising && p.edge == gpio.EdgeFalling) {
			fire = append(fire, p.h)
		}
	}
	// Handlers read pins themselves; fire with the port lock dropped.
	e.mu.Unlock()
	for _, h := range fire {
		h()
	}
	return nil
}

func (e *Expander) write(b byte) error {
	return e.bus.Tx(e.addr, []byte{b}, nil)
}

func (e *Expander) read() (byte, error) {
	var buf [1]byte
	if err := e.bus.Tx(e.addr, nil, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Pin is one expander port bit. Edge state lives under the expander lock.
type Pin struct {
	e   *Expander
	n   int
	bit byte

	edge gpio.Edge
	h    func()
}

// ConfigureInput floats the bit high so external hardware can drive it.
// PullDown cannot be honoured.
func (p *Pin) ConfigureInput(pull gpio.Pull) error {
	if pull == gpio.PullDown {
		return fmt.Errorf("pin %d: %w", p.n, ErrPullUnsupported)
	}
	e := p.e
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latch |= p.bit
	if err := e.write(e.latch); err != nil {
		return fmt.Errorf("pin %d: set input: %w", p.n, err)
	}
	// Re-prime so the next diff is against current reality.
	b, err := e.read()
	if err != nil {
		return fmt.Errorf("pin %d: read back: %w", p.n, err)
	}
	e.snapshot = b
	return nil
}

// Get reads the whole port and masks the bit. The snapshot is left alone;
// only Refresh consumes changes.
func (p *Pin) Get() bool {
	e := p.e
	e.mu.Lock()
	defer e.mu.Unlock()
	b, err := e.read()
	if err != nil {
		e.log.Warn("pcf8574: read port", "pin", p.n, "err", err)
		return e.snapshot&p.bit != 0
	}
	return b&p.bit != 0
}

func (p *Pin) Number() int { return p.n }

func (p *Pin) SetIRQ(edge gpio.Edge, handler func()) error {
	if edge == gpio.EdgeNone || edge > gpio.EdgeBoth || handler == nil {
		return fmt.Errorf("pin %d: bad edge request", p.n)
	}
	e := p.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if p.h != nil {
		return fmt.Errorf("pin %d: %w", p.n, ErrBusy)
	}
	p.edge, p.h = edge, handler
	return nil
}

func (p *Pin) ClearIRQ() error {
	e := p.e
	e.mu.Lock()
	p.edge, p.h = gpio.EdgeNone, nil
	e.mu.Unlock()
	return nil
}

// Release drops the notifier; the bit already rides high, which is the
// expander's safe input state.
func (p *Pin) Release() error { return p.ClearIRQ() }
