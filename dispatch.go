// dispatch.go
package rotary

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// DispatchMode selects the goroutine a callback runs on, relative to the
// hardware event goroutine that produced it.
type DispatchMode uint8

const (
	// DispatchInline runs callbacks on the event goroutine itself.
	// Cheapest, but a slow callback stalls edge delivery for that backend.
	DispatchInline DispatchMode = iota

	// DispatchGoroutine spawns a goroutine per event. No ordering, no
	// backpressure, and callbacks may still be running after Close
	// returns; keep it for sparse events.
	DispatchGoroutine

	// DispatchWorker queues callbacks to a FIFO worker owned by this
	// encoder. Order is preserved and the event goroutine never blocks.
	DispatchWorker

	// DispatchShared queues callbacks to one process-wide FIFO worker
	// shared by every encoder that selects it. The worker runs while at
	// least one such encoder is open.
	DispatchShared
)

func (m DispatchMode) String() string {
	switch m {
	case DispatchGoroutine:
		return "goroutine"
	case DispatchWorker:
		return "worker"
	case DispatchShared:
		return "shared"
	case DispatchInline:
		return "inline"
	default:
		return fmt.Sprintf("dispatch(%d)", uint8(m))
	}
}

// ParseDispatchMode maps config strings to modes. The empty string means
// DispatchInline.
func ParseDispatchMode(s string) (DispatchMode, error) {
	switch s {
	case "inline", "":
		return DispatchInline, nil
	case "goroutine":
		return DispatchGoroutine, nil
	case "worker":
		return DispatchWorker, nil
	case "shared":
		return DispatchShared, nil
	default:
		return 0, fmt.Errorf("%w: dispatch mode %q", ErrBadConfig, s)
	}
}

// dispatcher delivers wrapped callbacks. stop flushes accepted work before
// returning and is called once, during teardown.
type dispatcher interface {
	invoke(func())
	stop()
}

func newDispatcher(m DispatchMode) dispatcher {
	switch m {
	case DispatchGoroutine:
		return goDispatcher{}
	case DispatchWorker:
		return newWorker()
	case DispatchShared:
		return &sharedDispatcher{w: acquireShared()}
	default:
		return inlineDispatcher{}
	}
}

type inlineDispatcher struct{}

func (inlineDispatcher) invoke(fn func()) { fn() }
func (inlineDispatcher) stop()            {}

type goDispatcher struct{}

func (goDispatcher) invoke(fn func()) { go fn() }
func (goDispatcher) stop()            {}

// safeCall wraps a user callback so a panic cannot take down the
// delivering goroutine.
func safeCall(log *slog.Logger, name string, fn func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("rotary callback panicked",
					"callback", name,
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()
		fn()
	}
}
