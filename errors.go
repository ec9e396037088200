// errors.go
package rotary

import "errors"

var (
	// ErrNotInRestingState means the phase pins disagreed when the encoder
	// was opened. The decoder needs a settled detent to count from, so Open
	// fails before registering any edge notifier. Nudge the shaft onto a
	// detent and open again.
	ErrNotInRestingState = errors.New("phases not at rest")

	// ErrClosed reports use of an encoder after Close.
	ErrClosed = errors.New("encoder closed")

	// ErrMissingPin means the pin factory could not supply a configured
	// pin number.
	ErrMissingPin = errors.New("pin unavailable")

	// ErrBadConfig covers invalid pin assignments and unknown modes.
	ErrBadConfig = errors.New("invalid config")
)
