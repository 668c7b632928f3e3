package timer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerFiresRepeatedly(t *testing.T) {
	var count atomic.Int32
	tm := New(10*time.Millisecond, func() { count.Add(1) })

	tm.Start()
	defer tm.Stop()

	time.Sleep(55 * time.Millisecond)

	if got := count.Load(); got < 3 {
		t.Errorf("fired %d times in 55ms at 10ms interval, want >= 3", got)
	}
}

func TestTimerStopIsIdempotent(t *testing.T) {
	tm := New(10*time.Millisecond, func() {})
	tm.Start()

	tm.Stop()
	tm.Stop()
	tm.Stop()
}

func TestTimerStopStopsFiring(t *testing.T) {
	var count atomic.Int32
	tm := New(10*time.Millisecond, func() { count.Add(1) })
	tm.Start()

	time.Sleep(25 * time.Millisecond)
	tm.Stop()
	after := count.Load()

	time.Sleep(50 * time.Millisecond)
	if got := count.Load(); got != after {
		t.Errorf("fired %d more times after Stop, want 0", got-after)
	}
}

func TestTimerStartIsNoOpWhenRunning(t *testing.T) {
	tm := New(10*time.Millisecond, func() {})
	tm.Start()
	defer tm.Stop()

	firstDone := tm.done
	tm.Start()
	if tm.done != firstDone {
		t.Error("second Start() replaced the done channel; should be a no-op")
	}
}

func TestTimerSelfStopFromCallback(t *testing.T) {
	var count atomic.Int32
	var tm *Timer
	tm = New(10*time.Millisecond, func() {
		if count.Add(1) == 1 {
			tm.Stop()
		}
	})
	tm.Start()

	time.Sleep(60 * time.Millisecond)
	if got := count.Load(); got != 1 {
		t.Errorf("callback ran %d times, want exactly 1 (self-stop on first fire)", got)
	}
}

func TestTimerRunning(t *testing.T) {
	tm := New(10*time.Millisecond, func() {})
	if tm.Running() {
		t.Error("Running() true before Start()")
	}
	tm.Start()
	if !tm.Running() {
		t.Error("Running() false after Start()")
	}
	tm.Stop()
	if tm.Running() {
		t.Error("Running() true after Stop()")
	}
}
