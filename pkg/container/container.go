// Package container implements the Container Handle abstraction: a Go
// interface to a single running training job, its loss log, its growth
// efficiency over an interval, and its CPU/memory limits.
package container

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/flowcon/flowcon/pkg/logger"
	"github.com/flowcon/flowcon/pkg/runtime"
	"github.com/flowcon/flowcon/pkg/sampler"
)

// Classification is the tri-state the control algorithm assigns to a
// container each tick, replacing the two independent `watching` and
// `completing` booleans of the reference implementation — those allowed
// an illegal (true, true) state that could only be prevented by
// discipline, not by the type system. A Handle can only ever be in one
// of these three states.
type Classification int

const (
	// Active is a container growing efficiently; no special handling.
	Active Classification = iota
	// Watching is a container whose growth efficiency first dropped
	// below alpha; it gets one more interval before being marked
	// Completing.
	Watching
	// Completing is a container whose growth efficiency has stayed
	// below alpha for two consecutive intervals; it receives a shrinking
	// share of CPU as the fleet redistributes resources away from it.
	Completing
)

func (c Classification) String() string {
	switch c {
	case Watching:
		return "watching"
	case Completing:
		return "completing"
	default:
		return "active"
	}
}

// lossToken and timeToken are matched independently, not as a single
// combined pattern: the two tokens can appear in either order on a log
// line (the reference implementation runs two independent re.search
// calls), so a line ordered "Time: ... Loss: ..." must parse the same as
// one ordered "Loss: ... Time: ...".
var (
	lossToken = regexp.MustCompile(`Loss: ([0-9.]+)`)
	timeToken = regexp.MustCompile(`Time: ([0-9.]+)`)
)

// LossSample is one parsed log line carrying a `Loss: <f>` and a
// `Time: <f>` token.
type LossSample struct {
	Loss float64
	Time float64
}

// Handle is the Go analogue of the reference implementation's
// ContainerWrapper: a single training-job container, its parsed loss
// history, and its CPU/memory limits.
type Handle struct {
	ID string

	// CPULimit is the current CPU quota in whole cores. It is only ever
	// changed through SetCPULimit, which writes through to the runtime
	// before updating this field — never assigned directly, mirroring
	// the reference implementation's property setter that issues a
	// `docker update` as a side effect of assignment.
	CPULimit float64

	// MemLimit mirrors CPULimit's write-through shape but is unused by
	// the control algorithm; nil means unset.
	MemLimit *float64

	// NJobs is fixed to 1; the reference implementation raises
	// NotImplementedError for any other value, so here the type simply
	// never offers a way to set it otherwise.
	njobs int

	State   Classification
	Frozen  bool

	CreatedAt time.Time

	rt  runtime.Runtime
	log *logger.Logger
}

// New wraps an already-running container id.
func New(id string, rt runtime.Runtime) *Handle {
	return &Handle{
		ID:        id,
		njobs:     1,
		State:     Active,
		CreatedAt: time.Now(),
		rt:        rt,
		log:       logger.Global().WithComponent("container").WithContainerID(id),
	}
}

// Watching reports whether the handle is in the Watching state, a
// two-boolean-shaped accessor preserved for callers and tests written
// against the reference implementation's `watching` attribute.
func (h *Handle) Watching() bool { return h.State == Watching }

// Completing reports whether the handle is in the Completing state.
func (h *Handle) Completing() bool { return h.State == Completing }

// Age returns how long ago the handle was created.
func (h *Handle) Age() time.Duration { return time.Since(h.CreatedAt) }

// SetCPULimit writes the new limit through to the runtime before
// recording it, so CPULimit never reflects a value the runtime rejected.
func (h *Handle) SetCPULimit(ctx context.Context, cores float64) error {
	if err := h.rt.SetCPULimit(ctx, h.ID, cores); err != nil {
		return fmt.Errorf("set cpu limit for %s: %w", h.ID, err)
	}
	h.log.Info("cpu limit set", "cores", cores)
	h.CPULimit = cores
	return nil
}

// SetMemLimit writes the new memory limit through to the runtime before
// recording it.
func (h *Handle) SetMemLimit(ctx context.Context, bytes float64) error {
	if err := h.rt.SetMemLimit(ctx, h.ID, int64(bytes)); err != nil {
		return fmt.Errorf("set mem limit for %s: %w", h.ID, err)
	}
	h.log.Info("mem limit set", "bytes", bytes)
	h.MemLimit = &bytes
	return nil
}

// Kill stops the container without removing it.
func (h *Handle) Kill(ctx context.Context) error {
	return h.rt.Kill(ctx, h.ID)
}

// LossTable fetches the container's full log output and parses every
// line carrying both a `Loss: <f>` and a `Time: <f>` token, in either
// order, into a LossSample, skipping lines that don't match rather than
// failing the whole parse.
func (h *Handle) LossTable(ctx context.Context) ([]LossSample, error) {
	raw, err := h.rt.Logs(ctx, h.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch logs for %s: %w", h.ID, err)
	}

	var samples []LossSample
	for _, line := range splitLines(raw) {
		lossMatch := lossToken.FindSubmatch(line)
		timeMatch := timeToken.FindSubmatch(line)
		if lossMatch == nil || timeMatch == nil {
			continue
		}
		loss, err1 := strconv.ParseFloat(string(lossMatch[1]), 64)
		ts, err2 := strconv.ParseFloat(string(timeMatch[1]), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		samples = append(samples, LossSample{Loss: loss, Time: ts})
	}
	return samples, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

// lossAndProgress computes the mean normalized loss over the most recent
// interval and the previous one, returning the progress score as the
// normalized rate of loss change. progress is nil when there is no
// history in the previous interval yet, mirroring the reference
// implementation's None return for a container's first interval.
func (h *Handle) lossAndProgress(ctx context.Context, interval time.Duration) (float64, *float64, error) {
	table, err := h.LossTable(ctx)
	if err != nil {
		return 0, nil, err
	}
	if len(table) == 0 {
		return 0, nil, nil
	}

	maxLoss := table[0].Loss
	for _, s := range table {
		if s.Loss > maxLoss {
			maxLoss = s.Loss
		}
	}
	if maxLoss == 0 {
		maxLoss = 1
	}

	now := float64(time.Now().UnixNano()) / 1e9
	secs := interval.Seconds()

	var sumThis, sumPrev float64
	var nThis, nPrev int
	for _, s := range table {
		norm := s.Loss / maxLoss
		if s.Time >= now-secs {
			sumThis += norm
			nThis++
		}
		if s.Time >= now-2*secs && s.Time <= now-secs {
			sumPrev += norm
			nPrev++
		}
	}

	var eThis float64
	if nThis > 0 {
		eThis = sumThis / float64(nThis)
	}

	if nPrev == 0 {
		return eThis, nil, nil
	}

	ePrev := sumPrev / float64(nPrev)
	progress := absFloat(eThis-ePrev) / secs
	return eThis, &progress, nil
}

// GrowthTuple computes the (loss, progress, growth) triple for this
// container over interval, per Algorithm 1. progress and growth are nil
// when there isn't enough history yet, standing in for the reference
// implementation's Python None (its "Sentinel None growth" shape, not a
// silently-wrong zero).
func (h *Handle) GrowthTuple(ctx context.Context, samp *sampler.Sampler, interval time.Duration, coreCount int) (loss float64, progress, growth *float64, err error) {
	loss, progress, err = h.lossAndProgress(ctx, interval)
	if err != nil {
		return 0, nil, nil, err
	}
	if progress == nil {
		return loss, nil, nil, nil
	}

	history := samp.History()
	cutoff := time.Now().Add(-interval)

	var cpuSum float64
	var n int
	for _, s := range history {
		if s.ContainerID != h.ID || s.SampledAt.Before(cutoff) {
			continue
		}
		if coreCount <= 0 {
			coreCount = 1
		}
		cpuSum += (s.CPUPercent / float64(coreCount)) / 100
		n++
	}

	if n == 0 {
		h.log.Warn("no resource history in interval, returning nil growth")
		return loss, nil, nil, nil
	}

	cpuMean := cpuSum / float64(n)
	if cpuMean <= 0 {
		h.log.Warn("zero mean cpu usage over interval, returning nil growth")
		return loss, nil, nil, nil
	}

	g := *progress / cpuMean
	return loss, progress, &g, nil
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
