// Package joblist loads a CSV of jobs to launch and starts them, one
// container per job, staggered by a fixed spacing — the Go counterpart
// of the reference implementation's run_trial.run_job_list.
package joblist

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/flowcon/flowcon/pkg/logger"
	"github.com/flowcon/flowcon/pkg/runtime"
)

// Job describes one container to launch.
type Job struct {
	Image   string
	WorkDir string
	Script  string
}

// Load parses a joblist CSV with header columns "image,workdir,script".
func Load(path string) ([]Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open joblist: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read joblist header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[h] = i
	}
	for _, want := range []string{"image", "workdir", "script"} {
		if _, ok := cols[want]; !ok {
			return nil, fmt.Errorf("joblist missing required column %q", want)
		}
	}

	var jobs []Job
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read joblist row: %w", err)
		}
		jobs = append(jobs, Job{
			Image:   record[cols["image"]],
			WorkDir: record[cols["workdir"]],
			Script:  record[cols["script"]],
		})
	}
	return jobs, nil
}

// LaunchAll creates and starts one container per job, sleeping spacing
// between each launch, and returns the created container ids in job
// order.
func LaunchAll(ctx context.Context, rt runtime.Runtime, jobs []Job, spacing time.Duration) ([]string, error) {
	log := logger.Global().WithComponent("joblist")
	ids := make([]string, 0, len(jobs))

	for i, job := range jobs {
		id, err := rt.Create(ctx, job.Image, job.WorkDir, job.Script)
		if err != nil {
			return ids, fmt.Errorf("launch job %d (%s): %w", i, job.Image, err)
		}
		log.Info("launched container", "container_id", id, "image", job.Image, "script", job.Script)
		ids = append(ids, id)

		if i < len(jobs)-1 && spacing > 0 {
			select {
			case <-time.After(spacing):
			case <-ctx.Done():
				return ids, ctx.Err()
			}
		}
	}
	return ids, nil
}
