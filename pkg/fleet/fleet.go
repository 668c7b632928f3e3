// Package fleet implements the Container Set: the ordered collection of
// container handles the control loop reconciles against the live runtime
// each tick.
package fleet

import (
	"context"
	"fmt"

	"github.com/flowcon/flowcon/pkg/container"
	"github.com/flowcon/flowcon/pkg/export"
	"github.com/flowcon/flowcon/pkg/logger"
	"github.com/flowcon/flowcon/pkg/runtime"
)

// Set is the Go analogue of the reference implementation's ContainerList:
// an ordered collection of container.Handle values plus an id index for
// O(1) membership checks. It is mutated only by the control loop; the
// Liveness Listener only reads live ids from the runtime directly.
type Set struct {
	rt        runtime.Runtime
	noUpdate  bool
	coreCount int

	handles []*container.Handle
	ids     map[string]int

	log *logger.Logger
}

// New creates an empty Set bound to a runtime.
func New(rt runtime.Runtime, coreCount int, noUpdate bool) *Set {
	return &Set{
		rt:        rt,
		noUpdate:  noUpdate,
		coreCount: coreCount,
		ids:       make(map[string]int),
		log:       logger.Global().WithComponent("fleet"),
	}
}

// Len returns the number of handles currently tracked.
func (s *Set) Len() int { return len(s.handles) }

// Handles returns the tracked handles in insertion order. Callers must
// not mutate the returned slice's backing array.
func (s *Set) Handles() []*container.Handle { return s.handles }

// Get returns the handle for an id, if tracked.
func (s *Set) Get(id string) (*container.Handle, bool) {
	idx, ok := s.ids[id]
	if !ok {
		return nil, false
	}
	return s.handles[idx], true
}

func (s *Set) add(h *container.Handle) {
	s.ids[h.ID] = len(s.handles)
	s.handles = append(s.handles, h)
}

func (s *Set) removeAt(i int) {
	removed := s.handles[i]
	s.handles = append(s.handles[:i], s.handles[i+1:]...)
	delete(s.ids, removed.ID)
	for id, idx := range s.ids {
		if idx > i {
			s.ids[id] = idx - 1
		}
	}
}

// Reconcile adds handles for newly live containers, exports and drops
// handles for containers that have terminated, and seeds the CPU limit
// of any handle that doesn't have one yet — the three steps of the
// reference implementation's ContainerList.reconcile.
func (s *Set) Reconcile(ctx context.Context, experimentName string, exporter *export.Exporter) error {
	live, err := s.rt.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("list running containers: %w", err)
	}

	liveSet := make(map[string]bool, len(live))
	for _, id := range live {
		liveSet[id] = true
	}

	for _, id := range live {
		if _, tracked := s.ids[id]; !tracked {
			s.log.Info("adding container to fleet", "container_id", id)
			s.add(container.New(id, s.rt))
		}
	}

	for i := 0; i < len(s.handles); {
		h := s.handles[i]
		if liveSet[h.ID] {
			i++
			continue
		}

		s.log.Info("removing container from fleet", "container_id", h.ID)
		if exporter != nil {
			table, lossErr := h.LossTable(ctx)
			if lossErr != nil {
				s.log.Warn("failed to export loss table on removal", "container_id", h.ID, "error", lossErr)
			} else if err := exporter.WriteLossCSV(experimentName, h.ID, table); err != nil {
				s.log.Warn("failed to write loss csv on removal", "container_id", h.ID, "error", err)
			}
		}
		s.removeAt(i)
	}

	for _, h := range s.handles {
		if h.CPULimit == 0 && !s.noUpdate {
			s.log.Info("seeding cpu limit for new container", "container_id", h.ID, "cores", s.coreCount)
			if err := h.SetCPULimit(ctx, float64(s.coreCount)); err != nil {
				s.log.Warn("failed to seed cpu limit", "container_id", h.ID, "error", err)
			}
		}
	}

	return nil
}

// AllCompleting reports whether every tracked handle is in the
// Completing state. An empty Set is vacuously true, matching the
// reference implementation's all() over an empty iterable.
func (s *Set) AllCompleting() bool {
	for _, h := range s.handles {
		if !h.Completing() {
			return false
		}
	}
	return true
}

// NumWatching returns the count of handles in the Watching state.
func (s *Set) NumWatching() int {
	n := 0
	for _, h := range s.handles {
		if h.Watching() {
			n++
		}
	}
	return n
}

// NumCompleting returns the count of handles in the Completing state.
func (s *Set) NumCompleting() int {
	n := 0
	for _, h := range s.handles {
		if h.Completing() {
			n++
		}
	}
	return n
}

// IDs returns the ids of every tracked handle, in order.
func (s *Set) IDs() []string {
	ids := make([]string, len(s.handles))
	for i, h := range s.handles {
		ids[i] = h.ID
	}
	return ids
}

// KillAll stops every tracked container, optionally exporting each
// handle's loss table first. Used at drain time.
func (s *Set) KillAll(ctx context.Context, experimentName string, exporter *export.Exporter, saveLogs bool) {
	for _, h := range s.handles {
		if saveLogs && exporter != nil {
			if table, err := h.LossTable(ctx); err != nil {
				s.log.Warn("failed to fetch loss table at drain", "container_id", h.ID, "error", err)
			} else if err := exporter.WriteLossCSV(experimentName, h.ID, table); err != nil {
				s.log.Warn("failed to write loss csv at drain", "container_id", h.ID, "error", err)
			}
		}
		if err := h.Kill(ctx); err != nil {
			s.log.Warn("failed to kill container at drain", "container_id", h.ID, "error", err)
		}
	}
}
