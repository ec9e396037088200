// config.go
package rotary

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jangala-dev/rotary-go/gpio"
)

// Config selects pins and delivery behaviour for Open. Pin numbers follow
// the factory's scheme: BCM numbers for platform/sysfs, GP numbers for
// platform/rp2, port bits for platform/pcf8574.
type Config struct {
	CLK int
	DT  int

	// Button wires the push switch on the given pin; 0 leaves it out.
	Button int

	// PhasePull biases CLK and DT. Stock KY-040 modules carry onboard
	// pull-ups, so PullNone works there; a bare encoder wants PullDown.
	// Backends that cannot program bias say so in their docs.
	PhasePull gpio.Pull

	// ButtonPull and ButtonInvert describe the switch wiring. A KY-040
	// switch shorts to ground: PullUp with ButtonInvert set.
	ButtonPull   gpio.Pull
	ButtonInvert bool

	// ButtonDebounce drops button events arriving within this window of
	// the last accepted one. Zero disables.
	ButtonDebounce time.Duration

	// ReverseDirection flips the reported direction for mirrored wiring
	// (CLK and DT swapped on the header).
	ReverseDirection bool

	// Dispatch selects how callbacks leave the event goroutine.
	Dispatch DispatchMode

	// Logger receives contained callback panics and teardown noise.
	// nil means slog.Default().
	Logger *slog.Logger
}

func (c Config) validate() error {
	if c.CLK == c.DT {
		return fmt.Errorf("%w: clk and dt must be distinct pins", ErrBadConfig)
	}
	if c.Button != 0 && (c.Button == c.CLK || c.Button == c.DT) {
		return fmt.Errorf("%w: button pin collides with a phase pin", ErrBadConfig)
	}
	if c.Dispatch > DispatchShared {
		return fmt.Errorf("%w: unknown dispatch mode %d", ErrBadConfig, uint8(c.Dispatch))
	}
	return nil
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Handlers carries the user callbacks. Every field is optional; detents
// with no handler still move Position.
type Handlers struct {
	OnClockwise        func()
	OnCounterClockwise func()
	OnButtonDown       func()
	OnButtonUp         func()
}
