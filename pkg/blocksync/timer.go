package blocksync

import (
	"sync"
	"time"
)

// debounceTimer is a cancellable scheduled task with explicit
// cancel-and-reschedule semantics. Only one firing is ever armed: each
// Reschedule call replaces the previous timer, so the callback runs once
// the triggers go quiet for the full delay.
type debounceTimer struct {
	mu sync.Mutex
	t  *time.Timer
	fn func()
}

func newDebounceTimer(fn func()) *debounceTimer {
	return &debounceTimer{fn: fn}
}

// Reschedule arms the timer to fire after d, cancelling any pending firing.
func (d *debounceTimer) Reschedule(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
	d.t = time.AfterFunc(delay, d.fn)
}

// Stop cancels any pending firing. Safe to call when nothing is armed.
func (d *debounceTimer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
		d.t = nil
	}
}
