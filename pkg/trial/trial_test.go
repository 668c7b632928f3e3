package trial

import (
	"context"
	"testing"
	"time"

	"github.com/flowcon/flowcon/pkg/export"
	"github.com/flowcon/flowcon/pkg/runtime"
)

func testConfig(t *testing.T, name string) Config {
	t.Helper()
	return Config{
		Name:             name,
		Alpha:            0.05,
		Interval:         15 * time.Millisecond,
		StatsInterval:    15 * time.Millisecond,
		ListenerInterval: 15 * time.Millisecond,
		CoreCount:        4,
		OutputDir:        t.TempDir(),
	}
}

func TestNewRefusesDuplicateExperimentName(t *testing.T) {
	cfg := testConfig(t, "dup")
	exporter := export.New(cfg.OutputDir)
	if err := exporter.WriteLossCSV("dup", "seed", nil); err != nil {
		t.Fatal(err)
	}
	if err := exporter.ZipAndClose("dup"); err != nil {
		t.Fatal(err)
	}

	_, err := New(runtime.NewFakeRuntime(), cfg)
	if err != export.ErrDuplicateExperiment {
		t.Errorf("New() error = %v, want ErrDuplicateExperiment", err)
	}
}

// S5: a fleet that empties drains the Trial without crashing, producing
// exit-worthy output (here: the done channel closes).
func TestRunDrainsWhenFleetEmpty(t *testing.T) {
	rt := runtime.NewFakeRuntime()
	id, _ := rt.Create(context.Background(), "img", "/work", "train.py")

	tr, err := New(rt, testConfig(t, "s5"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		rt.RemoveContainer(id)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- tr.Run(ctx) }()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not drain within timeout after fleet emptied")
	}
}

func TestBackoffDoublesIntervalAndStartsListener(t *testing.T) {
	rt := runtime.NewFakeRuntime()
	tr, err := New(rt, testConfig(t, "backoff"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	before := tr.backoffInterval
	tr.Backoff()
	if tr.backoffInterval != before*2 {
		t.Errorf("backoffInterval = %v, want %v", tr.backoffInterval, before*2)
	}
	if !tr.listener.running.Load() {
		t.Error("listener should be running after Backoff()")
	}
	tr.tmr.Stop()
	tr.samp.Kill()
}

// S6: during backoff, a new container appearing resets the Trial off
// backoff and stops the listener.
func TestListenerStopsBackoffOnNewContainer(t *testing.T) {
	rt := runtime.NewFakeRuntime()
	existingID, _ := rt.Create(context.Background(), "img", "/work", "a.py")
	cfg := testConfig(t, "s6")
	tr, err := New(rt, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() {
		tr.tmr.Stop()
		tr.samp.Kill()
		tr.listener.Stop()
	}()

	tr.Backoff()
	_ = existingID

	rt.Create(context.Background(), "img", "/work", "b.py")
	time.Sleep(40 * time.Millisecond)

	if tr.backoffInterval != cfg.Interval {
		t.Errorf("backoffInterval = %v, want reset to base %v after new container appeared", tr.backoffInterval, cfg.Interval)
	}
}
