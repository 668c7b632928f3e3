package runtime

import (
	"context"
	"fmt"
	"sync"
)

// FakeRuntime is an in-memory Runtime used by tests that exercise the
// fleet, sampler, and algorithm packages without a live Docker daemon.
type FakeRuntime struct {
	mu         sync.Mutex
	running    map[string]bool
	cpuLimits  map[string]float64
	memLimits  map[string]int64
	logs       map[string][]byte
	stats      []Stats
	nextID     int
	CreateErr  error
	KillErr    error
}

// NewFakeRuntime returns an empty FakeRuntime.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		running:   make(map[string]bool),
		cpuLimits: make(map[string]float64),
		memLimits: make(map[string]int64),
		logs:      make(map[string][]byte),
	}
}

// SeedContainer registers a running container id without going through
// Create, for tests that want to control ids directly.
func (f *FakeRuntime) SeedContainer(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[id] = true
}

// SetLogs sets the log bytes Logs() will return for a container id.
func (f *FakeRuntime) SetLogs(id string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[id] = data
}

// SetStats sets the stats Stats() will return for the next call.
func (f *FakeRuntime) SetStats(stats []Stats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = stats
}

// RemoveContainer marks a container no longer running, as if it exited.
func (f *FakeRuntime) RemoveContainer(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, id)
}

func (f *FakeRuntime) ListRunning(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.running))
	for id, alive := range f.running {
		if alive {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *FakeRuntime) Create(ctx context.Context, image, workDir, script string) (string, error) {
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("fake-%d", f.nextID)
	f.running[id] = true
	return id, nil
}

func (f *FakeRuntime) SetCPULimit(ctx context.Context, containerID string, cores float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running[containerID] {
		return ErrContainerNotFound
	}
	f.cpuLimits[containerID] = cores
	return nil
}

func (f *FakeRuntime) SetMemLimit(ctx context.Context, containerID string, bytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running[containerID] {
		return ErrContainerNotFound
	}
	f.memLimits[containerID] = bytes
	return nil
}

func (f *FakeRuntime) Logs(ctx context.Context, containerID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs[containerID], nil
}

func (f *FakeRuntime) Stats(ctx context.Context) ([]Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Stats, len(f.stats))
	copy(out, f.stats)
	return out, nil
}

func (f *FakeRuntime) Kill(ctx context.Context, containerID string) error {
	if f.KillErr != nil {
		return f.KillErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, containerID)
	return nil
}

func (f *FakeRuntime) Close() error { return nil }

// CPULimit returns the last CPU limit set for a container, for assertions.
func (f *FakeRuntime) CPULimit(id string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.cpuLimits[id]
	return v, ok
}
