package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"golang.org/x/time/rate"

	"github.com/flowcon/flowcon/pkg/logger"
)

// DockerRuntime implements Runtime against a live Docker daemon via the
// official SDK client. Every daemon call is gated by a rate limiter set
// from Config.RateLimitPerSecond (20 calls per second when unset), so a
// wide reconcile sweep never floods the daemon the way an unbounded loop
// of `docker` subprocess calls would.
type DockerRuntime struct {
	cli      *client.Client
	limiter  *rate.Limiter
	timeout  time.Duration
	log      *logger.Logger
}

// Config holds the settings needed to dial the Docker daemon.
type Config struct {
	Host               string
	APIVersion         string
	CallTimeout        time.Duration
	RateLimitPerSecond float64
}

// New dials the Docker daemon and returns a ready-to-use DockerRuntime.
func New(cfg Config) (*DockerRuntime, error) {
	host := cfg.Host
	if host == "" {
		host = "unix:///var/run/docker.sock"
	}

	opts := []client.Opt{
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	limit := cfg.RateLimitPerSecond
	if limit <= 0 {
		limit = 20
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &DockerRuntime{
		cli:     cli,
		limiter: rate.NewLimiter(rate.Limit(limit), int(limit)),
		timeout: timeout,
		log:     logger.Global().WithComponent("runtime"),
	}, nil
}

func (r *DockerRuntime) wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

func (r *DockerRuntime) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// ListRunning returns the ids of every running container on the host.
func (r *DockerRuntime) ListRunning(ctx context.Context) ([]string, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	cctx, cancel := r.callCtx(ctx)
	defer cancel()

	containers, err := r.cli.ContainerList(cctx, container.ListOptions{
		All:     false,
		Filters: filters.NewArgs(filters.Arg("status", "running")),
	})
	if err != nil {
		return nil, fmt.Errorf("list running containers: %w", err)
	}

	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// Create launches a container from image, mounting /docker_data as the
// teacher's Docker client does, running `python script` in workDir.
func (r *DockerRuntime) Create(ctx context.Context, image, workDir, script string) (string, error) {
	if err := r.wait(ctx); err != nil {
		return "", err
	}
	cctx, cancel := r.callCtx(ctx)
	defer cancel()

	containerCfg := &container.Config{
		Image:      image,
		WorkingDir: workDir,
		Cmd:        []string{"python", script},
	}
	hostCfg := &container.HostConfig{
		Binds: []string{"/docker_data:/root/docker_data"},
	}

	// Training job images are built for the host's own architecture; pin
	// the platform explicitly rather than letting the daemon guess from a
	// manifest list.
	platform := &ocispec.Platform{OS: goruntime.GOOS, Architecture: goruntime.GOARCH}

	resp, err := r.cli.ContainerCreate(cctx, containerCfg, hostCfg, nil, platform, "")
	if err != nil {
		return "", fmt.Errorf("create container from %s: %w", image, err)
	}

	if err := r.cli.ContainerStart(cctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("start container %s: %w", resp.ID, err)
	}

	return resp.ID, nil
}

// SetCPULimit writes through to the runtime's CPU quota for a container,
// expressed in whole cores (the same unit Algorithm 1 classifies over).
func (r *DockerRuntime) SetCPULimit(ctx context.Context, containerID string, cores float64) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	cctx, cancel := r.callCtx(ctx)
	defer cancel()

	const period = int64(100000)
	quota := int64(cores * float64(period))

	_, err := r.cli.ContainerUpdate(cctx, containerID, container.UpdateConfig{
		Resources: container.Resources{
			CPUPeriod: period,
			CPUQuota:  quota,
		},
	})
	if err != nil {
		return fmt.Errorf("set cpu limit for %s: %w", containerID, err)
	}

	r.log.Info("cpu limit updated", "container_id", containerID, "cores", cores)
	return nil
}

// SetMemLimit writes through to the runtime's memory limit, in bytes.
func (r *DockerRuntime) SetMemLimit(ctx context.Context, containerID string, bytes int64) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	cctx, cancel := r.callCtx(ctx)
	defer cancel()

	_, err := r.cli.ContainerUpdate(cctx, containerID, container.UpdateConfig{
		Resources: container.Resources{Memory: bytes},
	})
	if err != nil {
		return fmt.Errorf("set mem limit for %s: %w", containerID, err)
	}

	r.log.Info("mem limit updated", "container_id", containerID, "bytes", bytes)
	return nil
}

// Logs returns the full accumulated stdout/stderr of a container, used by
// the loss-table parser. Unlike a follow-mode stream, this call returns
// once the buffer has been read.
func (r *DockerRuntime) Logs(ctx context.Context, containerID string) ([]byte, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	reader, err := r.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("read logs for %s: %w", containerID, err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil && err != io.EOF {
		return nil, fmt.Errorf("drain logs for %s: %w", containerID, err)
	}
	return buf.Bytes(), nil
}

// Stats samples CPU/memory/network/block IO usage for every running
// container, the Go analogue of `docker stats --no-stream`: one list call,
// then one one-shot stats call per container. A container whose stats
// call or decode fails is logged and left out of the result.
func (r *DockerRuntime) Stats(ctx context.Context) ([]Stats, error) {
	ids, err := r.ListRunning(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]Stats, 0, len(ids))
	for _, id := range ids {
		if err := r.wait(ctx); err != nil {
			return nil, err
		}

		resp, err := r.cli.ContainerStatsOneShot(ctx, id)
		if err != nil {
			r.log.Warn("stats sample failed", "container_id", id, "error", err)
			continue
		}

		var raw containerStatsJSON
		decodeErr := json.NewDecoder(resp.Body).Decode(&raw)
		resp.Body.Close()
		if decodeErr != nil {
			r.log.Warn("stats decode failed", "container_id", id, "error", decodeErr)
			continue
		}

		out = append(out, toStats(id, raw, now))
	}
	return out, nil
}

// Kill stops a container without removing it, mirroring
// `docker container kill`.
func (r *DockerRuntime) Kill(ctx context.Context, containerID string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	cctx, cancel := r.callCtx(ctx)
	defer cancel()

	if err := r.cli.ContainerKill(cctx, containerID, "KILL"); err != nil {
		return fmt.Errorf("kill container %s: %w", containerID, err)
	}
	return nil
}

// Close releases the underlying daemon connection.
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// containerStatsJSON mirrors the subset of the Docker stats API response
// FlowCon needs; field names match the daemon's wire format.
type containerStatsJSON struct {
	PidsStats struct {
		Current int64 `json:"current"`
	} `json:"pids_stats"`
	CPUStats struct {
		CPUUsage struct {
			TotalUsage  uint64   `json:"total_usage"`
			PercpuUsage []uint64 `json:"percpu_usage"`
		} `json:"cpu_usage"`
		SystemUsage uint64 `json:"system_cpu_usage"`
	} `json:"cpu_stats"`
	PreCPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemUsage uint64 `json:"system_cpu_usage"`
	} `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64           `json:"usage"`
		Limit uint64           `json:"limit"`
		Stats map[string]uint64 `json:"stats"`
	} `json:"memory_stats"`
	Networks map[string]struct {
		RxBytes uint64 `json:"rx_bytes"`
		TxBytes uint64 `json:"tx_bytes"`
	} `json:"networks"`
	BlkioStats struct {
		IOServiceBytesRecursive []struct {
			Op    string `json:"op"`
			Value uint64 `json:"value"`
		} `json:"io_service_bytes_recursive"`
	} `json:"blkio_stats"`
}

func toStats(containerID string, raw containerStatsJSON, sampledAt time.Time) Stats {
	s := Stats{
		ContainerID: containerID,
		MemUsage:    raw.MemoryStats.Usage,
		MemLimit:    raw.MemoryStats.Limit,
		PIDs:        raw.PidsStats.Current,
		SampledAt:   sampledAt,
	}

	cpuDelta := float64(raw.CPUStats.CPUUsage.TotalUsage) - float64(raw.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(raw.CPUStats.SystemUsage) - float64(raw.PreCPUStats.SystemUsage)
	if sysDelta > 0 && cpuDelta > 0 {
		s.CPUPercent = (cpuDelta / sysDelta) * float64(len(raw.CPUStats.CPUUsage.PercpuUsage)) * 100
	}

	if s.MemLimit > 0 {
		s.MemPercent = float64(s.MemUsage) / float64(s.MemLimit) * 100
	}

	for _, nw := range raw.Networks {
		s.NetInBytes += nw.RxBytes
		s.NetOutBytes += nw.TxBytes
	}
	for _, blk := range raw.BlkioStats.IOServiceBytesRecursive {
		switch strings.ToLower(blk.Op) {
		case "read":
			s.BlockIn += blk.Value
		case "write":
			s.BlockOut += blk.Value
		}
	}

	return s
}
