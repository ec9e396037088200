// worker.go
package rotary

import "sync"

// worker drains an unbounded FIFO of callbacks on a single goroutine.
// Producers never block; the queue grows instead.
type worker struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool
	done    chan struct{}
}

func newWorker() *worker {
	w := &worker{done: make(chan struct{})}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// invoke appends fn in arrival order. After stop it is a no-op: an edge
// racing a teardown loses quietly.
func (w *worker) invoke(fn func()) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.queue = append(w.queue, fn)
	w.mu.Unlock()
	w.cond.Signal()
}

func (w *worker) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.stopped {
			w.cond.Wait()
		}
		if len(w.queue) == 0 {
			// Stopped and drained.
			w.mu.Unlock()
			return
		}
		fn := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]
		w.mu.Unlock()
		fn()
	}
}

// stop refuses new work, lets the backlog drain, and joins the goroutine.
// Idempotent.
func (w *worker) stop() {
	w.mu.Lock()
	already := w.stopped
	w.stopped = true
	w.mu.Unlock()
	if !already {
		w.cond.Broadcast()
	}
	<-w.done
}
