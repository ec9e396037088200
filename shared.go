// shared.go
package rotary

import "sync"

// The shared dispatcher is one process-wide worker, reference-counted by
// the encoders using it. sharedMu guards only the counter and pointer and
// is never taken with an encoder's state lock held.
var (
	sharedMu     sync.Mutex
	sharedRefs   int
	sharedWorker *worker
)

// acquireShared takes one reference, starting the worker on 0 -> 1.
func acquireShared() *worker {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedRefs == 0 {
		sharedWorker = newWorker()
	}
	sharedRefs++
	return sharedWorker
}

// releaseShared drops one reference. On 1 -> 0 the worker is detached
// under the lock and drained outside it, so a slow callback cannot stall
// other encoders acquiring a fresh worker.
func releaseShared() {
	sharedMu.Lock()
	sharedRefs--
	var w *worker
	if sharedRefs == 0 {
		w = sharedWorker
		sharedWorker = nil
	}
	sharedMu.Unlock()
	if w != nil {
		w.stop()
	}
}

// sharedDispatcher is one encoder's reference on the shared worker. Its
// stop releases the reference, not the worker.
type sharedDispatcher struct {
	w *worker
}

func (d *sharedDispatcher) invoke(fn func()) { d.w.invoke(fn) }
func (d *sharedDispatcher) stop()            { releaseShared() }
