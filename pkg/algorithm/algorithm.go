// Package algorithm implements Algorithm 1: per-container growth
// classification, the fleet-wide drain/redistribute/idle dispatch, and
// the CPU-share redistribution math.
package algorithm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowcon/flowcon/pkg/container"
	"github.com/flowcon/flowcon/pkg/fleet"
	"github.com/flowcon/flowcon/pkg/logger"
	"github.com/flowcon/flowcon/pkg/sampler"
)

// Params holds the tunables for one Run.
type Params struct {
	Alpha     float64
	Interval  time.Duration
	CoreCount int
	NoUpdate  bool
}

// Row is the per-container result of one algorithm tick, the Go
// analogue of one row of the reference implementation's status
// DataFrame.
type Row struct {
	ContainerID string
	Age         time.Duration
	Ignore      bool
	Loss        float64
	Progress    *float64
	Growth      *float64
	Limit       float64
	LimitNorm   float64
	Watching    bool
	Completing  bool
}

// Status is the full result of one Run: one Row per tracked container.
type Status struct {
	Rows []Row
}

var log = logger.Global().WithComponent("algorithm")

// Run executes one tick of Algorithm 1 over set, using samp for resource
// history. It classifies every container, then dispatches to exactly one
// of three fleet-wide modes: drain (every container Completing),
// redistribute (at least one container Active), or idle-hold (frozen/Watching limits
// reasserted without a full redistribution).
func Run(ctx context.Context, set *fleet.Set, samp *sampler.Sampler, p Params) (Status, error) {
	handles := set.Handles()
	n := len(handles)

	log.Info("running algorithm", "alpha", p.Alpha, "interval", p.Interval, "containers", n)

	growths := make([]*float64, n)
	losses := make([]float64, n)
	progresses := make([]*float64, n)
	ages := make([]time.Duration, n)
	ignore := make([]bool, n)

	// Each container's growth tuple is an independent log/stats fetch, so
	// fan them out; every goroutine writes only its own index, so the
	// slices above need no locking.
	g, gCtx := errgroup.WithContext(ctx)
	for i, h := range handles {
		i, h := i, h
		g.Go(func() error {
			loss, progress, growth, err := h.GrowthTuple(gCtx, samp, p.Interval, p.CoreCount)
			if err != nil {
				return fmt.Errorf("compute growth tuple for %s: %w", h.ID, err)
			}
			losses[i] = loss
			progresses[i] = progress
			growths[i] = growth
			ages[i] = h.Age()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Status{}, err
	}

	for i, h := range handles {
		if growths[i] == nil {
			log.Info("ignoring container, no growth signal yet", "container_id", h.ID)
			ignore[i] = true
			continue
		}
		classify(h, *growths[i], p.Alpha)
	}

	if err := dispatch(ctx, set, handles, growths, ignore, p); err != nil {
		return Status{}, err
	}

	return buildStatus(handles, ages, ignore, losses, progresses, growths, p.CoreCount), nil
}

// classify applies the three-way state transition from spec.md's
// Algorithm 1: below alpha moves Active->Watching->Completing; at or
// above alpha resets to Active from either watching state.
func classify(h *container.Handle, growth, alpha float64) {
	switch {
	case growth < alpha && h.State == container.Active:
		log.Info("marking watching", "container_id", h.ID)
		h.State = container.Watching
	case growth < alpha && h.State == container.Watching:
		log.Info("marking completing", "container_id", h.ID)
		h.State = container.Completing
	case growth >= alpha:
		h.State = container.Active
	}
}

// dispatch picks exactly one of the three fleet-wide modes per tick.
func dispatch(ctx context.Context, set *fleet.Set, handles []*container.Handle, growths []*float64, ignore []bool, p Params) error {
	n := len(handles)
	if n == 0 {
		log.Warn("no containers left in the fleet, skipping this round")
		return nil
	}

	if set.AllCompleting() && !p.NoUpdate {
		return drain(ctx, handles, p.CoreCount)
	}

	if set.NumWatching()+set.NumCompleting() != n {
		return redistribute(ctx, handles, growths, ignore, p)
	}

	return holdFrozenAndWatching(ctx, handles, p)
}

// drain freezes every container at an equal min(1.5/n, 1) share of the
// core count, the reference implementation's "everyone completing"
// branch.
func drain(ctx context.Context, handles []*container.Handle, coreCount int) error {
	n := len(handles)
	newLim := 1.5 * (1.0 / float64(n))
	if newLim > 1 {
		newLim = 1
	}
	newLim *= float64(coreCount)

	for _, h := range handles {
		log.Info("freezing container to min(1.5/n, 1) share", "container_id", h.ID, "limit", newLim)
		h.Frozen = true
		if err := h.SetCPULimit(ctx, newLim); err != nil {
			return fmt.Errorf("drain: set cpu limit for %s: %w", h.ID, err)
		}
	}
	return nil
}

// redistribute implements Algorithm 1's lines 16-22: shrink Completing
// containers in proportion to their share of total growth, grow Active
// containers the same way, skip Watching/ignored containers, and clamp
// the result to [1/(10n), 1] of a full core-count share.
//
// growths[i] is read once per container into a local; the reference
// implementation reassigns its own `growth` name to a scalar inside the
// loop, which silently aliases the per-container slice for every
// subsequent iteration. That reassignment is not reproduced here: each
// iteration reads growths[i] directly, so no iteration sees a stale value
// left over from the one before it.
func redistribute(ctx context.Context, handles []*container.Handle, growths []*float64, ignore []bool, p Params) error {
	n := len(handles)
	if n == 0 {
		return nil
	}

	var growthSum float64
	for _, g := range growths {
		if g != nil {
			growthSum += *g
		}
	}
	log.Info("redistribution growth sum", "sum", growthSum)

	for i, h := range handles {
		if h.Watching() || ignore[i] {
			continue
		}

		coreCount := p.CoreCount
		if coreCount <= 0 {
			coreCount = 1
		}
		currentNorm := h.CPULimit / float64(coreCount)

		var growthI float64
		if growths[i] != nil {
			growthI = *growths[i]
		}

		var multiplier float64
		switch {
		case h.Completing():
			multiplier = 1 - (growthI / (growthSum + 1e-10))
		case growthSum == 0:
			log.Warn("zero growth sum, holding multiplier at 1", "container_id", h.ID)
			multiplier = 1
		default:
			multiplier = 1 + (growthI / growthSum)
		}

		newLimNorm := currentNorm * multiplier
		floor := (1.0 / 10.0) * (1.0 / float64(n))
		if newLimNorm < floor {
			newLimNorm = floor
		}
		if newLimNorm > 1 {
			newLimNorm = 1
		}
		if h.Frozen {
			log.Info("container is frozen at 1/n", "container_id", h.ID)
			newLimNorm = 1.0 / float64(n)
		}

		if !p.NoUpdate {
			newLim := roundTo(newLimNorm*float64(coreCount), 2)
			log.Info("updating container limit", "container_id", h.ID, "growth", growthI, "multiplier", multiplier, "limit", newLim)
			if err := h.SetCPULimit(ctx, newLim); err != nil {
				return fmt.Errorf("redistribute: set cpu limit for %s: %w", h.ID, err)
			}
		}
	}
	return nil
}

// holdFrozenAndWatching reasserts frozen and watching containers' limits
// even when the redistribution branch above isn't taken this tick, the
// reference implementation's final else branch.
func holdFrozenAndWatching(ctx context.Context, handles []*container.Handle, p Params) error {
	if p.NoUpdate {
		return nil
	}
	n := len(handles)
	if n == 0 {
		return nil
	}

	coreCount := p.CoreCount
	if coreCount <= 0 {
		coreCount = 1
	}

	for _, h := range handles {
		switch {
		case h.Frozen:
			if err := h.SetCPULimit(ctx, (1.0/float64(n))*float64(coreCount)); err != nil {
				return fmt.Errorf("hold: set cpu limit for frozen %s: %w", h.ID, err)
			}
		case h.Watching():
			if err := h.SetCPULimit(ctx, (1.5/float64(n))*float64(coreCount)); err != nil {
				return fmt.Errorf("hold: set cpu limit for watching %s: %w", h.ID, err)
			}
		}
	}
	return nil
}

func buildStatus(handles []*container.Handle, ages []time.Duration, ignore []bool, losses []float64, progresses, growths []*float64, coreCount int) Status {
	rows := make([]Row, len(handles))
	for i, h := range handles {
		norm := 0.0
		if coreCount > 0 {
			norm = h.CPULimit / float64(coreCount)
		}
		rows[i] = Row{
			ContainerID: h.ID,
			Age:         ages[i],
			Ignore:      ignore[i],
			Loss:        losses[i],
			Progress:    progresses[i],
			Growth:      growths[i],
			Limit:       h.CPULimit,
			LimitNorm:   norm,
			Watching:    h.Watching(),
			Completing:  h.Completing(),
		}
	}
	return Status{Rows: rows}
}

func roundTo(v float64, places int) float64 {
	mult := 1.0
	for i := 0; i < places; i++ {
		mult *= 10
	}
	return float64(int64(v*mult+0.5)) / mult
}
