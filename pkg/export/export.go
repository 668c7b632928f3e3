// Package export writes FlowCon's persisted trial outputs: per-iteration
// algorithm status, resource-sampler history, per-container loss tables,
// a running watch/complete count log, and the final archive.
package export

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/flowcon/flowcon/pkg/container"
	"github.com/flowcon/flowcon/pkg/logger"
	"github.com/flowcon/flowcon/pkg/sampler"
)

// ErrDuplicateExperiment is returned when a prior run's archive for the
// same experiment name already exists on disk.
var ErrDuplicateExperiment = errors.New("logs for this experiment name already exist")

// IterRow mirrors one row of the per-iteration status the control
// algorithm produces; it lives here (rather than importing pkg/algorithm)
// to keep export a leaf package with no dependency on the algorithm.
type IterRow struct {
	Iter         int
	DeltaT       float64
	ContainerID  string
	Age          float64
	Ignore       bool
	Loss         float64
	HasProgress  bool
	Progress     float64
	HasGrowth    bool
	Growth       float64
	Limit        float64
	LimitNorm    float64
	Watching     bool
	Completing   bool
}

// Exporter owns the working directory and experiment name for a Trial's
// persisted outputs.
type Exporter struct {
	dir string
	log *logger.Logger
}

// New creates an Exporter rooted at dir ("." for the current directory).
func New(dir string) *Exporter {
	if dir == "" {
		dir = "."
	}
	return &Exporter{dir: dir, log: logger.Global().WithComponent("export")}
}

// DuplicateExists reports whether a prior run's archive for name already
// exists, backing the Trial constructor's duplicate-name guard.
func (e *Exporter) DuplicateExists(name string) bool {
	_, err := os.Stat(filepath.Join(e.dir, name+"_logs.zip"))
	return err == nil
}

func (e *Exporter) path(name string) string {
	return filepath.Join(e.dir, name)
}

// WriteIterCSV writes one row per (container, iteration) to
// "<name>_algo_1_iters.csv", appending to any existing file.
func (e *Exporter) WriteIterCSV(name string, rows []IterRow) error {
	f, err := os.OpenFile(e.path(name+"_algo_1_iters.csv"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open iter csv: %w", err)
	}
	defer f.Close()

	writeHeader, err := isEmpty(f)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if writeHeader {
		header := []string{"iter", "delta_t", "c_id", "age", "ignore", "loss",
			"progress", "growth", "limit", "limit_norm", "watching", "completing"}
		if err := w.Write(header); err != nil {
			return fmt.Errorf("write iter csv header: %w", err)
		}
	}

	for _, r := range rows {
		record := []string{
			strconv.Itoa(r.Iter),
			strconv.FormatFloat(r.DeltaT, 'f', 2, 64),
			r.ContainerID,
			strconv.FormatFloat(r.Age, 'f', 2, 64),
			strconv.FormatBool(r.Ignore),
			strconv.FormatFloat(r.Loss, 'f', 6, 64),
			optionalFloat(r.HasProgress, r.Progress),
			optionalFloat(r.HasGrowth, r.Growth),
			strconv.FormatFloat(r.Limit, 'f', 4, 64),
			strconv.FormatFloat(r.LimitNorm, 'f', 6, 64),
			strconv.FormatBool(r.Watching),
			strconv.FormatBool(r.Completing),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write iter csv row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// WriteStatsCSV writes sampler history to "<name>_docker_stats.csv".
func (e *Exporter) WriteStatsCSV(name string, samples []sampler.Sample) error {
	f, err := os.Create(e.path(name + "_docker_stats.csv"))
	if err != nil {
		return fmt.Errorf("create stats csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"container_id", "cpu_pct", "mem_pct", "time"}); err != nil {
		return fmt.Errorf("write stats csv header: %w", err)
	}
	for _, s := range samples {
		record := []string{
			s.ContainerID,
			strconv.FormatFloat(s.CPUPercent, 'f', 2, 64),
			strconv.FormatFloat(s.MemPercent, 'f', 2, 64),
			strconv.FormatInt(s.SampledAt.Unix(), 10),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write stats csv row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// WriteLossCSV writes one container's loss table to
// "<name>_<container_id>.csv".
func (e *Exporter) WriteLossCSV(name, containerID string, table []container.LossSample) error {
	f, err := os.Create(e.path(fmt.Sprintf("%s_%s.csv", name, containerID)))
	if err != nil {
		return fmt.Errorf("create loss csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"loss", "time"}); err != nil {
		return fmt.Errorf("write loss csv header: %w", err)
	}
	for _, s := range table {
		record := []string{
			strconv.FormatFloat(s.Loss, 'f', 6, 64),
			strconv.FormatFloat(s.Time, 'f', 2, 64),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write loss csv row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// AppendWatchLog appends one line to "watching_completing.csv", writing
// the header first if the file is new.
func (e *Exporter) AppendWatchLog(iter, watching, completing, total int) error {
	path := e.path("watching_completing.csv")
	writeHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		writeHeader = true
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open watch log: %w", err)
	}
	defer f.Close()

	if writeHeader {
		if _, err := f.WriteString("iter, num_watching, num_completing, total\n"); err != nil {
			return fmt.Errorf("write watch log header: %w", err)
		}
	}

	_, err = fmt.Fprintf(f, "%d, %d, %d, %d\n", iter, watching, completing, total)
	return err
}

// ZipAndClose moves every file matching "<name>*" into "./<name>/",
// archives that directory to "<name>_logs.zip", and removes the staging
// directory — the Go shape of the reference implementation's zip_logs.
func (e *Exporter) ZipAndClose(name string) error {
	stageDir := e.path(name)
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}

	matches, err := filepath.Glob(e.path(name + "*"))
	if err != nil {
		return fmt.Errorf("glob export files: %w", err)
	}
	for _, m := range matches {
		if m == stageDir {
			continue
		}
		dest := filepath.Join(stageDir, filepath.Base(m))
		if err := os.Rename(m, dest); err != nil {
			return fmt.Errorf("move %s to staging dir: %w", m, err)
		}
	}

	if err := e.archive(stageDir, e.path(name+"_logs.zip")); err != nil {
		return err
	}

	if err := os.RemoveAll(stageDir); err != nil {
		e.log.Warn("failed to remove staging dir", "dir", stageDir, "error", err)
	}
	return nil
}

func (e *Exporter) archive(srcDir, zipPath string) error {
	zf, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer zf.Close()

	zw := zip.NewWriter(zf)
	defer zw.Close()

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("read staging dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := addFileToZip(zw, filepath.Join(srcDir, entry.Name()), entry.Name()); err != nil {
			return err
		}
	}
	return nil
}

func addFileToZip(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s for archival: %w", path, err)
	}
	defer src.Close()

	dst, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create zip entry %s: %w", name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("write zip entry %s: %w", name, err)
	}
	return nil
}

func isEmpty(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat file: %w", err)
	}
	return info.Size() == 0, nil
}

func optionalFloat(has bool, v float64) string {
	if !has {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 6, 64)
}
