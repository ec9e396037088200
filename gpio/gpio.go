// gpio/gpio.go
// Package gpio declares the narrow pin capabilities the rotary package
// consumes. Platform backends (platform/sysfs, platform/pcf8574,
// platform/rp2) return concrete pins satisfying these; tests use
// gpio/gpiotest.
package gpio

// Pull configures input bias.
type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	default:
		return "none"
	}
}

// Edge selects which level changes raise an event.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "both"
	default:
		return "none"
	}
}

// Pin is a digital input.
type Pin interface {
	ConfigureInput(pull Pull) error
	Get() bool
	Number() int
}

// EventPin extends Pin with edge notification. A pin carries at most one
// handler at a time; SetIRQ while one is registered returns an error.
// Handlers run on the backend's event goroutine and must not block it.
type EventPin interface {
	Pin
	SetIRQ(edge Edge, handler func()) error
	ClearIRQ() error
}

// Releaser is implemented by pins that hold a claimable resource
// (a sysfs export, an expander bit). Owners should release on teardown;
// callers feature-test with a type assertion.
type Releaser interface {
	Release() error
}

// PinFactory supplies event-capable pins by the platform's numbering scheme.
type PinFactory interface {
	ByNumber(n int) (EventPin, bool)
}
