// Package timer provides a reschedule-before-invoke periodic timer, the
// Go equivalent of the reference implementation's threading.Timer-based
// RepeatedTimer: every tick reschedules itself before running its
// callback, so the callback can call Stop() on its own timer without
// racing the next fire.
package timer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowcon/flowcon/pkg/logger"
)

// Timer runs fn every interval until Stop is called. It is safe to call
// Stop from within fn itself.
type Timer struct {
	interval atomic.Int64 // time.Duration, stored as int64 nanoseconds
	fn       func()
	running  atomic.Bool

	mu   sync.Mutex
	t    *time.Timer
	done chan struct{}
	stop sync.Once
	log  *logger.Logger
}

// New creates a Timer that will invoke fn every interval once Start is
// called. fn runs on the timer's own goroutine; callers that need to
// serialize it against other state must do so themselves.
func New(interval time.Duration, fn func()) *Timer {
	t := &Timer{fn: fn, log: logger.Global().WithComponent("timer")}
	t.interval.Store(int64(interval))
	return t
}

// Start begins firing fn every interval. Calling Start on an
// already-running Timer is a no-op.
func (t *Timer) Start() {
	if !t.running.CompareAndSwap(false, true) {
		return
	}

	t.mu.Lock()
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()
	t.stop = sync.Once{}

	t.schedule(done)
}

// schedule arms the next single-shot timer and, on fire, reschedules
// before invoking fn — matching the reference RepeatedTimer's _run order.
func (t *Timer) schedule(done chan struct{}) {
	interval := time.Duration(t.interval.Load())

	tm := time.AfterFunc(interval, func() {
		select {
		case <-done:
			return
		default:
		}

		t.schedule(done)
		t.fn()
	})

	t.mu.Lock()
	t.t = tm
	t.mu.Unlock()
}

// Stop halts future fires. It is idempotent and safe to call from within
// fn or concurrently from another goroutine.
func (t *Timer) Stop() {
	if !t.running.CompareAndSwap(true, false) {
		return
	}

	t.mu.Lock()
	done := t.done
	tm := t.t
	t.mu.Unlock()

	t.stop.Do(func() {
		if done != nil {
			close(done)
		}
	})
	if tm != nil {
		tm.Stop()
	}
}

// Reset changes the interval used for future fires. It takes effect on
// the next reschedule; the in-flight wait is not shortened.
func (t *Timer) Reset(interval time.Duration) {
	t.interval.Store(int64(interval))
}

// Running reports whether the timer is currently active.
func (t *Timer) Running() bool {
	return t.running.Load()
}
