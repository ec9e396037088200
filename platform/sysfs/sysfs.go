// platform/sysfs/sysfs.go
//go:build linux

// Package sysfs drives GPIO lines through the legacy Linux sysfs
// interface (/sys/class/gpio) and delivers edge events from an epoll
// watcher goroutine. Input bias is not programmable through sysfs; boards
// or modules must provide their own pulls, and ConfigureInput records the
// request without acting on it.
package sysfs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/jangala-dev/rotary-go/gpio"
)

var (
	// ErrNotAvailable means the sysfs GPIO tree is missing; there is no
	// hardware layer to drive.
	ErrNotAvailable = errors.New("sysfs: gpio tree not available")

	// ErrClaimed reports a pin already claimed through this chip.
	ErrClaimed = errors.New("sysfs: pin already claimed")

	// ErrClosed reports use of a closed chip.
	ErrClosed = errors.New("sysfs: chip closed")

	// ErrBusy reports a second edge notifier on one pin.
	ErrBusy = errors.New("sysfs: edge notifier already registered")
)

// Chip hands out claimed pins and owns the shared edge watcher.
type Chip struct {
	root string
	log  *slog.Logger
	w    *watcher

	mu      sync.Mutex
	claimed map[int]*Pin
	closed  bool
}

type Option func(*Chip)

// WithRoot points the chip at a different sysfs tree. Tests use a staged
// directory; containers sometimes remap /sys.
func WithRoot(dir string) Option { return func(c *Chip) { c.root = dir } }

func WithLogger(l *slog.Logger) Option { return func(c *Chip) { c.log = l } }

// Open checks the sysfs tree exists and starts the edge watcher.
func Open(opts ...Option) (*Chip, error) {
	c := &Chip{
		root:    "/sys/class/gpio",
		log:     slog.Default(),
		claimed: make(map[int]*Pin),
	}
	for _, o := range opts {
		o(c)
	}
	if _, err := os.Stat(c.root); err != nil {
		return nil, fmt.Errorf("%s: %w", c.root, ErrNotAvailable)
	}
	w, err := newWatcher(c.log)
	if err != nil {
		return nil, err
	}
	c.w = w
	return c, nil
}

// Pin exports and claims one GPIO line. A line can be claimed once until
// released.
func (c *Chip) Pin(n int) (*Pin, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if _, dup := c.claimed[n]; dup {
		return nil, fmt.Errorf("gpio %d: %w", n, ErrClaimed)
	}
	p, err := c.openPin(n)
	if err != nil {
		return nil, err
	}
	c.claimed[n] = p
	return p, nil
}

// ByNumber adapts the chip to gpio.PinFactory. Claim failures are logged
// and reported as absence.
func (c *Chip) ByNumber(n int) (gpio.EventPin, bool) {
	p, err := c.Pin(n)
	if err != nil {
		c.log.Warn("sysfs: claim gpio", "pin", n, "err", err)
		return nil, false
	}
	return p, true
}

// Close releases every claimed pin and stops the watcher. A second Close
// returns ErrClosed.
func (c *Chip) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	pins := make([]*Pin, 0, len(c.claimed))
	for _, p := range c.claimed {
		pins = append(pins, p)
	}
	c.claimed = make(map[int]*Pin)
	c.mu.Unlock()

	for _, p := range pins {
		if err := p.release(); err != nil {
			c.log.Warn("sysfs: release gpio", "pin", p.n, "err", err)
		}
	}
	c.w.close()
	return nil
}

func (c *Chip) openPin(n int) (*Pin, error) {
	if err := c.export(n); err != nil {
		return nil, err
	}
	dir := filepath.Join(c.root, fmt.Sprintf("gpio%d", n))
	var statErr error
	for i := 0; i < 5; i++ {
		if _, statErr = os.Stat(dir); statErr == nil {
			break
		}
		// The attribute directory can lag the export write.
		time.Sleep(2 * time.Millisecond)
	}
	if statErr != nil {
		return nil, fmt.Errorf("gpio %d missing after export: %w", n, statErr)
	}
	value, err := os.OpenFile(filepath.Join(dir, "value"), os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("gpio %d: open value: %w", n, err)
	}
	return &Pin{chip: c, n: n, dir: dir, value: value}, nil
}

func (c *Chip) export(n int) error {
	err := os.WriteFile(filepath.Join(c.root, "export"), []byte(strconv.Itoa(n)), 0o200)
	if err != nil && !alreadyExported(err) {
		return fmt.Errorf("export gpio %d: %w", n, err)
	}
	return nil
}

func (c *Chip) unexport(n int) error {
	return os.WriteFile(filepath.Join(c.root, "unexport"), []byte(strconv.Itoa(n)), 0o200)
}

// forget drops a released pin from the claim table.
func (c *Chip) forget(n int) {
	c.mu.Lock()
	delete(c.claimed, n)
	c.mu.Unlock()
}
