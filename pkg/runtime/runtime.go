// Package runtime provides the container runtime abstraction FlowCon uses
// to reconcile, sample, and throttle ML training job containers.
package runtime

import (
	"context"
	"errors"
	"time"
)

var (
	ErrContainerNotFound = errors.New("container not found")
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
)

// Stats is a single point-in-time resource reading for one container,
// shaped after `docker stats --no-stream`'s columns.
type Stats struct {
	ContainerID string
	CPUPercent  float64
	MemPercent  float64
	MemUsage    uint64
	MemLimit    uint64
	NetInBytes  uint64
	NetOutBytes uint64
	BlockIn     uint64
	BlockOut    uint64
	PIDs        int64
	SampledAt   time.Time
}

// Runtime is the set of container lifecycle operations the control loop,
// the stats sampler, and the job launcher depend on. DockerRuntime is the
// only production implementation; tests substitute a fake.
type Runtime interface {
	// ListRunning returns the ids of all currently running containers.
	ListRunning(ctx context.Context) ([]string, error)

	// Create launches a container from image, running script in workDir,
	// and returns its id.
	Create(ctx context.Context, image, workDir, script string) (string, error)

	// SetCPULimit updates a running container's CPU quota, in whole cores.
	SetCPULimit(ctx context.Context, containerID string, cores float64) error

	// SetMemLimit updates a running container's memory limit, in bytes.
	SetMemLimit(ctx context.Context, containerID string, bytes int64) error

	// Logs returns the full stdout/stderr of a container as of the call.
	Logs(ctx context.Context, containerID string) ([]byte, error)

	// Stats samples current resource usage for every running container.
	Stats(ctx context.Context) ([]Stats, error)

	// Kill stops a container without removing it.
	Kill(ctx context.Context, containerID string) error

	// Close releases any held connections.
	Close() error
}
