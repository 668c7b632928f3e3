// Package trial implements the Trial Controller (C6): the top-level
// control loop that binds a container set, a stats sampler, and a
// periodic algorithm run together, plus the Liveness Listener (C7) that
// watches for fleet changes during backoff.
package trial

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowcon/flowcon/pkg/algorithm"
	"github.com/flowcon/flowcon/pkg/export"
	"github.com/flowcon/flowcon/pkg/fleet"
	"github.com/flowcon/flowcon/pkg/logger"
	"github.com/flowcon/flowcon/pkg/metrics"
	"github.com/flowcon/flowcon/pkg/runtime"
	"github.com/flowcon/flowcon/pkg/sampler"
	"github.com/flowcon/flowcon/pkg/timer"
)

// Config holds the parameters needed to start a Trial.
type Config struct {
	Name             string
	Alpha            float64
	Interval         time.Duration
	StatsInterval    time.Duration
	ListenerInterval time.Duration
	CoreCount        int
	NoAlgo           bool
	NoUpdate         bool
	OutputDir        string
}

// Trial manages one experimental run: it repeatedly reconciles the fleet
// and runs Algorithm 1 at Config.Interval, accumulating status rows until
// every tracked container exits, then persists and archives the run's
// outputs.
type Trial struct {
	cfg      Config
	runID    string
	rt       runtime.Runtime
	set      *fleet.Set
	samp     *sampler.Sampler
	exporter *export.Exporter
	listener *Listener
	log      *logger.Logger
	metrics  *metrics.TrialMetrics

	mu              sync.Mutex
	tmr             *timer.Timer
	backoffInterval time.Duration
	draining        bool
	iterNum         int
	startTime       time.Time
	rows            []export.IterRow

	doneOnce sync.Once
	done     chan struct{}
}

// New builds a Trial, refusing to start if a prior run already archived
// output under the same experiment name.
func New(rt runtime.Runtime, cfg Config) (*Trial, error) {
	exporter := export.New(cfg.OutputDir)
	if exporter.DuplicateExists(cfg.Name) {
		return nil, export.ErrDuplicateExperiment
	}

	samp, err := sampler.New(rt, cfg.StatsInterval)
	if err != nil {
		return nil, err
	}

	noUpdate := cfg.NoAlgo || cfg.NoUpdate
	set := fleet.New(rt, cfg.CoreCount, noUpdate)

	t := &Trial{
		cfg:             cfg,
		runID:           uuid.NewString(),
		rt:              rt,
		set:             set,
		samp:            samp,
		exporter:        exporter,
		backoffInterval: cfg.Interval,
		startTime:       time.Now(),
		log:             logger.Global().WithComponent("trial").WithExperiment(cfg.Name),
		metrics:         metrics.NewTrialMetrics(cfg.Name),
		done:            make(chan struct{}),
	}
	t.listener = newListener(t, cfg.ListenerInterval)
	t.tmr = timer.New(cfg.Interval, t.tick)

	t.log.Info("trial created", "run_id", t.runID, "alpha", cfg.Alpha, "interval", cfg.Interval)
	return t, nil
}

// Run starts the control loop and the sampler, then blocks until the
// Trial drains (every container exits) or the caller cancels ctx.
func (t *Trial) Run(ctx context.Context) error {
	t.samp.Start()
	t.tmr.Start()

	select {
	case <-t.done:
	case <-ctx.Done():
		t.drain(context.WithoutCancel(ctx))
	}
	return nil
}

// tick is the control loop body, run every Config.Interval (or the
// current backoff interval) by t.tmr.
func (t *Trial) tick() {
	ctx := context.Background()
	tickStart := time.Now()
	defer func() { t.metrics.RecordTickDuration(time.Since(tickStart)) }()

	if err := t.set.Reconcile(ctx, t.cfg.Name, t.exporter); err != nil {
		t.log.Warn("reconcile failed", "error", err)
		t.metrics.RecordRuntimeError()
		return
	}

	if !t.cfg.NoAlgo && t.set.Len() > 0 {
		status, err := algorithm.Run(ctx, t.set, t.samp, algorithm.Params{
			Alpha:     t.cfg.Alpha,
			Interval:  t.cfg.Interval,
			CoreCount: t.cfg.CoreCount,
			NoUpdate:  t.cfg.NoUpdate,
		})
		if err != nil {
			t.log.Warn("algorithm run failed", "error", err)
			t.metrics.RecordRuntimeError()
			return
		}

		t.metrics.RecordTick(t.set.Len(), t.set.NumWatching(), t.set.NumCompleting())
		for _, row := range status.Rows {
			t.metrics.RecordCPULimit(row.ContainerID, row.Limit)
		}

		if t.set.AllCompleting() {
			t.Backoff()
		}

		t.mu.Lock()
		deltaT := time.Since(t.startTime).Seconds()
		iter := t.iterNum
		t.iterNum++
		for _, row := range status.Rows {
			ir := export.IterRow{
				Iter:        iter,
				DeltaT:      deltaT,
				ContainerID: row.ContainerID,
				Age:         row.Age.Seconds(),
				Ignore:      row.Ignore,
				Loss:        row.Loss,
				HasProgress: row.Progress != nil,
				Limit:       row.Limit,
				LimitNorm:   row.LimitNorm,
				Watching:    row.Watching,
				Completing:  row.Completing,
			}
			if row.Progress != nil {
				ir.Progress = *row.Progress
			}
			if row.Growth != nil {
				ir.HasGrowth = true
				ir.Growth = *row.Growth
			}
			t.rows = append(t.rows, ir)
		}
		t.mu.Unlock()

		if err := t.exporter.AppendWatchLog(iter, t.set.NumWatching(), t.set.NumCompleting(), t.set.Len()); err != nil {
			t.log.Warn("failed to append watch log", "error", err)
		}

		if t.set.AllCompleting() {
			t.Backoff()
		}
	}

	if err := t.set.Reconcile(ctx, t.cfg.Name, t.exporter); err != nil {
		t.log.Warn("reconcile failed", "error", err)
		return
	}

	if t.set.Len() == 0 {
		t.Kill()
	}
}

// Backoff doubles the control-loop interval and starts the Liveness
// Listener, per Algorithm 1's idle-fleet behavior. It is a no-op once the
// Trial has started draining, since Backoff and drain both stop/replace
// t.tmr and run from different goroutines (the control tick and the
// listener, respectively).
func (t *Trial) Backoff() {
	t.mu.Lock()
	if t.draining {
		t.mu.Unlock()
		return
	}
	t.backoffInterval *= 2
	interval := t.backoffInterval
	t.tmr.Stop()
	t.tmr = timer.New(interval, t.tick)
	t.tmr.Start()
	t.mu.Unlock()

	t.log.Info("backing off algorithm interval", "interval", interval)
	t.listener.Start()
}

// StopBackoff resets the control-loop interval to its base value and
// stops the Liveness Listener, triggered when a new container appears. It
// is a no-op once the Trial has started draining, for the same reason as
// Backoff.
func (t *Trial) StopBackoff() {
	t.mu.Lock()
	if t.draining {
		t.mu.Unlock()
		return
	}
	t.backoffInterval = t.cfg.Interval
	t.tmr.Stop()
	t.tmr = timer.New(t.cfg.Interval, t.tick)
	t.tmr.Start()
	t.mu.Unlock()

	t.log.Info("resetting algorithm interval", "interval", t.cfg.Interval)
	t.listener.Stop()
}

// Kill triggers a drain: stop the control loop, kill every tracked
// container (saving each one's loss table first), export the accumulated
// status rows and sampler history, stop the sampler and listener, archive
// the outputs, then signal Run to return.
func (t *Trial) Kill() {
	t.drain(context.Background())
}

func (t *Trial) drain(ctx context.Context) {
	t.doneOnce.Do(func() {
		t.log.Info("draining trial")

		// Mark draining and stop the control timer under the same lock
		// Backoff/StopBackoff use, so whichever of them is mid-flight on
		// the other goroutine either finishes before this runs or sees
		// t.draining and becomes a no-op. This is what guarantees the
		// control timer stays stopped for the remainder of shutdown.
		t.mu.Lock()
		t.draining = true
		t.tmr.Stop()
		t.mu.Unlock()

		t.set.KillAll(ctx, t.cfg.Name, t.exporter, true)

		t.mu.Lock()
		rows := t.rows
		t.mu.Unlock()
		if !t.cfg.NoAlgo {
			if err := t.exporter.WriteIterCSV(t.cfg.Name, rows); err != nil {
				t.log.Warn("failed to write iter csv", "error", err)
			}
		}
		if err := t.exporter.WriteStatsCSV(t.cfg.Name, t.samp.History()); err != nil {
			t.log.Warn("failed to write stats csv", "error", err)
		}

		t.samp.Kill()
		t.listener.Stop()

		if err := t.exporter.ZipAndClose(t.cfg.Name); err != nil {
			t.log.Warn("failed to zip logs", "error", err)
		}

		close(t.done)
	})
}
