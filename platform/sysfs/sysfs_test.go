//go:build linux

package sysfs

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jangala-dev/rotary-go/gpio"
)

// stageTree lays out a fake /sys/class/gpio with pre-exported lines.
func stageTree(t *testing.T, pins ...int) string {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "export"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	for _, n := range pins {
		dir := filepath.Join(root, fmt.Sprintf("gpio%d", n))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		for name, v := range map[string]string{
			"value":     "0\n",
			"direction": "in\n",
			"edge":      "none\n",
		} {
			if err := os.WriteFile(filepath.Join(dir, name), []byte(v), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
	return root
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenMissingTree(t *testing.T) {
	_, err := Open(WithRoot(filepath.Join(t.TempDir(), "nope")), WithLogger(quietLogger()))
	if !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("err = %v, want ErrNotAvailable", err)
	}
}

func TestClaimReadRelease(t *testing.T) {
	root := stageTree(t, 17)
	c, err := Open(WithRoot(root), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	p, err := c.Pin(17)
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if err := p.ConfigureInput(gpio.PullNone); err != nil {
		t.Fatalf("ConfigureInput: %v", err)
	}
	dir, err := os.ReadFile(filepath.Join(root, "gpio17", "direction"))
	if err != nil || string(dir) != "in" {
		t.Fatalf("direction = %q, %v; want \"in\"", dir, err)
	}

	if p.Get() {
		t.Fatal("staged line reads high")
	}
	if err := os.WriteFile(filepath.Join(root, "gpio17", "value"), []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !p.Get() {
		t.Fatal("line did not read back high")
	}

	if _, err := c.Pin(17); !errors.Is(err, ErrClaimed) {
		t.Fatalf("duplicate claim err = %v, want ErrClaimed", err)
	}
	if err := p.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if p.Get() {
		t.Fatal("released pin still reads")
	}
	if _, err := c.Pin(17); err != nil {
		t.Fatalf("re-claim after release: %v", err)
	}
}

func TestByNumberAdaptsErrors(t *testing.T) {
	root := stageTree(t, 17)
	c, err := Open(WithRoot(root), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if _, ok := c.ByNumber(17); !ok {
		t.Fatal("claim via factory failed")
	}
	if _, ok := c.ByNumber(17); ok {
		t.Fatal("duplicate claim allowed through factory")
	}
	if _, ok := c.ByNumber(99); ok {
		t.Fatal("claimed a line with no attributes")
	}
}

func TestChipCloseReleasesPins(t *testing.T) {
	root := stageTree(t, 17, 27)
	c, err := Open(WithRoot(root), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p1, err := c.Pin(17)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := c.Pin(27)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Close = %v, want ErrClosed", err)
	}
	if p1.Get() || p2.Get() {
		t.Fatal("released pins still readable")
	}
	if _, err := c.Pin(17); !errors.Is(err, ErrClosed) {
		t.Fatalf("claim on closed chip = %v, want ErrClosed", err)
	}
}

// Regular files cannot be epoll-watched; SetIRQ against the staged tree
// must fail and leave the pin unarmed.
func TestWatchRegularFileFailsCleanly(t *testing.T) {
	root := stageTree(t, 27)
	c, err := Open(WithRoot(root), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	p, err := c.Pin(27)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SetIRQ(gpio.EdgeBoth, func() {}); err == nil {
		t.Fatal("epoll accepted a regular file")
	}
	edge, err := os.ReadFile(filepath.Join(root, "gpio27", "edge"))
	if err != nil || string(edge) != "none" {
		t.Fatalf("edge = %q, %v; want reverted to \"none\"", edge, err)
	}
	if err := p.ClearIRQ(); err != nil {
		t.Fatalf("ClearIRQ on unarmed pin: %v", err)
	}
}

func TestWatcherDeliversEvents(t *testing.T) {
	w, err := newWatcher(quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer w.close()

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		t.Fatal(err)
	}
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	got := make(chan bool, 4)
	err = w.add(p[0], unix.EPOLLIN, func(initial bool) {
		var b [8]byte
		_, _ = unix.Read(p[0], b[:]) // clear level-triggered readiness
		got <- initial
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := unix.Write(p[1], []byte{1}); err != nil {
		t.Fatal(err)
	}
	select {
	case initial := <-got:
		if !initial {
			t.Fatal("first delivery not flagged initial")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first delivery")
	}

	if _, err := unix.Write(p[1], []byte{2}); err != nil {
		t.Fatal(err)
	}
	select {
	case initial := <-got:
		if initial {
			t.Fatal("second delivery still flagged initial")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second delivery")
	}

	w.remove(p[0])
	if _, err := unix.Write(p[1], []byte{3}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-got:
		t.Fatal("delivery after remove")
	case <-time.After(50 * time.Millisecond):
	}
}
