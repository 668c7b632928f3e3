// Package sampler implements the Stats Sampler: a periodic poll of
// runtime resource usage across the fleet, accumulated into an
// in-memory history the control algorithm reads to compute growth
// efficiency.
package sampler

import (
	"context"
	"sync"
	"time"

	"github.com/flowcon/flowcon/pkg/logger"
	"github.com/flowcon/flowcon/pkg/runtime"
	"github.com/flowcon/flowcon/pkg/timer"
)

// Sample is one resource usage reading for one container, the Go
// analogue of a row in the reference implementation's ResourceMonitor
// table.
type Sample struct {
	ContainerID string
	CPUPercent  float64
	MemPercent  float64
	SampledAt   time.Time
}

// Sampler polls a runtime.Runtime on a fixed interval and accumulates
// every reading into History, the in-memory equivalent of the reference
// implementation's pandas-backed ResourceMonitor.
type Sampler struct {
	rt  runtime.Runtime
	tmr *timer.Timer
	log *logger.Logger

	mu      sync.RWMutex
	history []Sample
}

// New creates a Sampler and takes one synchronous sample immediately,
// seeding history before the caller can observe an empty table.
func New(rt runtime.Runtime, interval time.Duration) (*Sampler, error) {
	s := &Sampler{
		rt:  rt,
		log: logger.Global().WithComponent("sampler"),
	}
	s.tmr = timer.New(interval, s.update)

	if err := s.sampleOnce(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

// Start begins periodic sampling.
func (s *Sampler) Start() { s.tmr.Start() }

// Kill stops periodic sampling but retains the accumulated history for
// export.
func (s *Sampler) Kill() { s.tmr.Stop() }

// History returns a defensive copy of every sample taken so far, so
// callers can read while the next tick is still appending.
func (s *Sampler) History() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Sample, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Sampler) update() {
	if err := s.sampleOnce(context.Background()); err != nil {
		s.log.Warn("sample failed", "error", err)
	}
}

func (s *Sampler) sampleOnce(ctx context.Context) error {
	stats, err := s.rt.Stats(ctx)
	if err != nil {
		return err
	}

	samples := make([]Sample, len(stats))
	for i, st := range stats {
		samples[i] = Sample{
			ContainerID: st.ContainerID,
			CPUPercent:  st.CPUPercent,
			MemPercent:  st.MemPercent,
			SampledAt:   st.SampledAt,
		}
	}

	s.mu.Lock()
	s.history = append(s.history, samples...)
	s.mu.Unlock()
	return nil
}
