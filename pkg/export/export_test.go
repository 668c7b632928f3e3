package export

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowcon/flowcon/pkg/container"
	"github.com/flowcon/flowcon/pkg/sampler"
)

func TestDuplicateExistsFalseInitially(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)

	if e.DuplicateExists("exp1") {
		t.Error("DuplicateExists() true before any archive written")
	}
}

func TestDuplicateExistsTrueAfterArchive(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)

	if err := os.WriteFile(filepath.Join(dir, "exp1_logs.zip"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if !e.DuplicateExists("exp1") {
		t.Error("DuplicateExists() false after archive written")
	}
}

func TestWriteIterCSVAppendsWithSingleHeader(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)

	rows := []IterRow{{Iter: 0, ContainerID: "c1", Loss: 0.5, HasProgress: true, Progress: 0.1}}
	if err := e.WriteIterCSV("exp1", rows); err != nil {
		t.Fatalf("WriteIterCSV() error = %v", err)
	}
	if err := e.WriteIterCSV("exp1", rows); err != nil {
		t.Fatalf("second WriteIterCSV() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "exp1_algo_1_iters.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := splitNonEmpty(string(data))
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3 (1 header + 2 rows)", len(lines))
	}
}

func TestWriteLossCSV(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)

	table := []container.LossSample{{Loss: 1.0, Time: 10.0}, {Loss: 0.5, Time: 20.0}}
	if err := e.WriteLossCSV("exp1", "c1", table); err != nil {
		t.Fatalf("WriteLossCSV() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "exp1_c1.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if len(splitNonEmpty(string(data))) != 3 {
		t.Errorf("expected header + 2 rows")
	}
}

func TestWriteStatsCSV(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)

	samples := []sampler.Sample{{ContainerID: "c1", CPUPercent: 50, SampledAt: time.Now()}}
	if err := e.WriteStatsCSV("exp1", samples); err != nil {
		t.Fatalf("WriteStatsCSV() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "exp1_docker_stats.csv")); err != nil {
		t.Fatal(err)
	}
}

func TestAppendWatchLogWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)

	if err := e.AppendWatchLog(1, 2, 0, 3); err != nil {
		t.Fatalf("AppendWatchLog() error = %v", err)
	}
	if err := e.AppendWatchLog(2, 1, 1, 3); err != nil {
		t.Fatalf("second AppendWatchLog() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "watching_completing.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := splitNonEmpty(string(data))
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3 (1 header + 2 rows)", len(lines))
	}
}

func TestZipAndCloseProducesArchiveAndGuardsDuplicate(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)

	if err := e.WriteLossCSV("exp1", "c1", nil); err != nil {
		t.Fatal(err)
	}
	if err := e.AppendWatchLog(1, 0, 0, 0); err != nil {
		t.Fatal(err)
	}

	if err := e.ZipAndClose("exp1"); err != nil {
		t.Fatalf("ZipAndClose() error = %v", err)
	}

	if !e.DuplicateExists("exp1") {
		t.Error("DuplicateExists() should be true after ZipAndClose")
	}
	if _, err := os.Stat(filepath.Join(dir, "exp1")); !os.IsNotExist(err) {
		t.Error("staging directory should be removed after ZipAndClose")
	}
}

func splitNonEmpty(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
