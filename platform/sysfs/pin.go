// platform/sysfs/pin.go
//go:build linux

package sysfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/jangala-dev/rotary-go/gpio"
)

// Pin is one exported GPIO line. It satisfies gpio.EventPin and
// gpio.Releaser.
type Pin struct {
	chip  *Chip
	n     int
	dir   string
	value *os.File

	mu       sync.Mutex
	handler  func()
	watched  bool
	released bool
}

// ConfigureInput sets the line direction. Bias cannot be programmed
// through sysfs; a non-none pull is noted in the log and trusted to the
// wiring.
func (p *Pin) ConfigureInput(pull gpio.Pull) error {
	p.mu.Lock()
	released := p.released
	p.mu.Unlock()
	if released {
		return ErrClosed
	}
	if err := p.writeAttr("direction", "in"); err != nil {
		return err
	}
	if pull != gpio.PullNone {
		p.chip.log.Debug("sysfs: pull not programmable, relying on wiring",
			"pin", p.n, "pull", pull.String())
	}
	return nil
}

// Get preads the value attribute. Errors read as low.
func (p *Pin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return false
	}
	var buf [4]byte
	n, err := unix.Pread(int(p.value.Fd()), buf[:], 0)
	if err != nil || n == 0 {
		p.chip.log.Warn("sysfs: read value", "pin", p.n, "err", err)
		return false
	}
	return buf[0] == '1'
}

func (p *Pin) Number() int { return p.n }

// SetIRQ arms kernel edge detection and registers the value fd with the
// chip watcher. One notifier per pin.
func (p *Pin) SetIRQ(edge gpio.Edge, handler func()) error {
	if edge == gpio.EdgeNone || edge > gpio.EdgeBoth || handler == nil {
		return fmt.Errorf("gpio %d: bad edge request", p.n)
	}
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.watched {
		p.mu.Unlock()
		return fmt.Errorf("gpio %d: %w", p.n, ErrBusy)
	}
	p.handler = handler
	p.watched = true
	p.mu.Unlock()

	if err := p.writeAttr("edge", edge.String()); err != nil {
		p.dropHandler()
		return err
	}
	if err := p.chip.w.add(int(p.value.Fd()), unix.EPOLLPRI|unix.EPOLLERR, p.irqEvent); err != nil {
		_ = p.writeAttr("edge", "none")
		p.dropHandler()
		return fmt.Errorf("gpio %d: %w", p.n, err)
	}
	return nil
}

// ClearIRQ disarms edge detection. A no-op on an unwatched pin.
func (p *Pin) ClearIRQ() error {
	p.mu.Lock()
	watched := p.watched
	p.mu.Unlock()
	if !watched {
		return nil
	}
	p.chip.w.remove(int(p.value.Fd()))
	err := p.writeAttr("edge", "none")
	p.dropHandler()
	return err
}

// Release clears any notifier, closes the value fd and unexports the
// line. Later calls are no-ops.
func (p *Pin) Release() error {
	err := p.release()
	p.chip.forget(p.n)
	return err
}

func (p *Pin) release() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}
	p.released = true
	watched := p.watched
	p.watched = false
	p.handler = nil
	p.mu.Unlock()

	if watched {
		p.chip.w.remove(int(p.value.Fd()))
		_ = p.writeAttr("edge", "none")
	}
	closeErr := p.value.Close()
	if err := p.chip.unexport(p.n); err != nil {
		return err
	}
	return closeErr
}

// irqEvent runs on the watcher goroutine. The pread both clears the
// POLLPRI condition and consumes the spurious readiness sysfs reports the
// moment a line is armed.
func (p *Pin) irqEvent(initial bool) {
	var buf [4]byte
	_, _ = unix.Pread(int(p.value.Fd()), buf[:], 0)
	if initial {
		return
	}
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h()
	}
}

func (p *Pin) dropHandler() {
	p.mu.Lock()
	p.handler = nil
	p.watched = false
	p.mu.Unlock()
}

func (p *Pin) writeAttr(name, v string) error {
	if err := os.WriteFile(filepath.Join(p.dir, name), []byte(v), 0o644); err != nil {
		return fmt.Errorf("gpio %d: write %s: %w", p.n, name, err)
	}
	return nil
}

func alreadyExported(err error) bool { return errors.Is(err, unix.EBUSY) }
