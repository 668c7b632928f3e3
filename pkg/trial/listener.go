package trial

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/flowcon/flowcon/pkg/logger"
	"github.com/flowcon/flowcon/pkg/runtime"
	"github.com/flowcon/flowcon/pkg/timer"
)

// Listener is the Liveness Listener (C7): during backoff it polls the
// runtime's live container ids on its own interval. A fleet that drops
// to zero live containers triggers the Trial to drain; any id that
// wasn't present on the previous tick resets the Trial off backoff.
type Listener struct {
	trial   *Trial
	rt      runtime.Runtime
	tmr     *timer.Timer
	running atomic.Bool
	log     *logger.Logger

	active map[string]bool
}

func newListener(t *Trial, interval time.Duration) *Listener {
	l := &Listener{
		trial:  t,
		rt:     t.rt,
		log:    logger.Global().WithComponent("listener").WithExperiment(t.cfg.Name),
		active: make(map[string]bool),
	}
	l.tmr = timer.New(interval, l.poll)
	return l
}

// Start begins polling. It is idempotent: calling Start while already
// running is a no-op.
func (l *Listener) Start() {
	if !l.running.CompareAndSwap(false, true) {
		return
	}

	ids, err := l.rt.ListRunning(context.Background())
	if err != nil {
		l.log.Warn("failed to seed active containers", "error", err)
	}
	l.active = toSet(ids)

	l.tmr.Start()
}

// Stop halts polling.
func (l *Listener) Stop() {
	if !l.running.CompareAndSwap(true, false) {
		return
	}
	l.tmr.Stop()
}

func (l *Listener) poll() {
	ids, err := l.rt.ListRunning(context.Background())
	if err != nil {
		l.log.Warn("failed to poll active containers", "error", err)
		return
	}

	if len(ids) == 0 {
		l.Stop()
		l.trial.Kill()
		return
	}

	current := toSet(ids)
	for id := range current {
		if !l.active[id] {
			l.trial.StopBackoff()
			break
		}
	}
	l.active = current
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
