// platform/sysfs/watcher.go
//go:build linux

package sysfs

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// watcher multiplexes every watched value fd over one epoll instance.
// Handlers run on the watcher goroutine and receive initial=true for the
// readiness sysfs reports the moment a line is armed, so callers can
// swallow it. A wake pipe breaks EpollWait for shutdown.
type watcher struct {
	log   *slog.Logger
	epfd  int
	wakeR int
	wakeW int
	done  chan struct{}

	mu     sync.Mutex
	ents   map[int]*watchEntry
	closed bool
}

type watchEntry struct {
	h       func(initial bool)
	initial bool
}

func newWatcher(log *slog.Logger) (*watcher, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("sysfs: epoll_create1: %w", err)
	}
	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("sysfs: pipe2: %w", err)
	}
	w := &watcher{
		log:   log,
		epfd:  epfd,
		wakeR: pipe[0],
		wakeW: pipe[1],
		done:  make(chan struct{}),
		ents:  make(map[int]*watchEntry),
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(w.wakeR)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, w.wakeR, &ev); err != nil {
		w.closeFds()
		return nil, fmt.Errorf("sysfs: arm wake pipe: %w", err)
	}
	go w.loop()
	return w, nil
}

func (w *watcher) add(fd int, events uint32, h func(initial bool)) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.ents[fd] = &watchEntry{h: h, initial: true}
	w.mu.Unlock()

	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(w.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		w.mu.Lock()
		delete(w.ents, fd)
		w.mu.Unlock()
		return fmt.Errorf("epoll add: %w", err)
	}
	return nil
}

func (w *watcher) remove(fd int) {
	_ = unix.EpollCtl(w.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	w.mu.Lock()
	delete(w.ents, fd)
	w.mu.Unlock()
}

func (w *watcher) loop() {
	defer close(w.done)
	evs := make([]unix.EpollEvent, 16)
	for {
		n, err := unix.EpollWait(w.epfd, evs, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			w.log.Error("sysfs: epoll_wait", "err", err)
			return
		}
		for i := 0; i < n; i++ {
			fd := int(evs[i].Fd)
			if fd == w.wakeR {
				if w.drainWake() {
					return
				}
				continue
			}
			w.mu.Lock()
			ent, ok := w.ents[fd]
			var initial bool
			if ok {
				initial = ent.initial
				ent.initial = false
			}
			w.mu.Unlock()
			if ok {
				ent.h(initial)
			}
		}
	}
}

// drainWake empties the wake pipe and reports whether the watcher is
// shutting down.
func (w *watcher) drainWake() bool {
	var buf [16]byte
	for {
		if _, err := unix.Read(w.wakeR, buf[:]); err != nil {
			break
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// close wakes the loop, joins it and closes the descriptors. Idempotent.
func (w *watcher) close() {
	w.mu.Lock()
	already := w.closed
	w.closed = true
	w.mu.Unlock()
	if already {
		<-w.done
		return
	}
	_, _ = unix.Write(w.wakeW, []byte{1})
	<-w.done
	w.closeFds()
}

func (w *watcher) closeFds() {
	unix.Close(w.epfd)
	unix.Close(w.wakeR)
	unix.Close(w.wakeW)
}
