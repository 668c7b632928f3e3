package container

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/flowcon/flowcon/pkg/runtime"
	"github.com/flowcon/flowcon/pkg/sampler"
)

func TestClassificationString(t *testing.T) {
	cases := map[Classification]string{
		Active:     "active",
		Watching:   "watching",
		Completing: "completing",
	}
	for c, want := range cases {
		if got := c.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", c, got, want)
		}
	}
}

func TestWatchingCompletingAccessors(t *testing.T) {
	h := New("c1", runtime.NewFakeRuntime())

	h.State = Active
	if h.Watching() || h.Completing() {
		t.Error("Active should report false for both accessors")
	}

	h.State = Watching
	if !h.Watching() || h.Completing() {
		t.Error("Watching should report Watching()=true, Completing()=false")
	}

	h.State = Completing
	if h.Watching() || !h.Completing() {
		t.Error("Completing should report Watching()=false, Completing()=true")
	}
}

func TestSetCPULimitWritesThrough(t *testing.T) {
	rt := runtime.NewFakeRuntime()
	rt.SeedContainer("c1")
	h := New("c1", rt)

	if err := h.SetCPULimit(context.Background(), 2.0); err != nil {
		t.Fatalf("SetCPULimit() error = %v", err)
	}
	if h.CPULimit != 2.0 {
		t.Errorf("CPULimit = %v, want 2.0", h.CPULimit)
	}
	got, _ := rt.CPULimit("c1")
	if got != 2.0 {
		t.Errorf("runtime CPU limit = %v, want 2.0 (write-through)", got)
	}
}

func TestSetCPULimitRuntimeErrorDoesNotUpdateField(t *testing.T) {
	rt := runtime.NewFakeRuntime() // c1 never seeded -> SetCPULimit errors
	h := New("c1", rt)

	if err := h.SetCPULimit(context.Background(), 2.0); err == nil {
		t.Fatal("expected error for unknown container")
	}
	if h.CPULimit != 0 {
		t.Errorf("CPULimit = %v, want unchanged 0 after runtime error", h.CPULimit)
	}
}

func TestLossTableParsesMatchingLines(t *testing.T) {
	rt := runtime.NewFakeRuntime()
	rt.SeedContainer("c1")
	rt.SetLogs("c1", []byte(
		"Loss: 1.5 Time: 100.0\n"+
			"garbage line, no match\n"+
			"Loss: 0.75 Time: 130.0\n",
	))
	h := New("c1", rt)

	table, err := h.LossTable(context.Background())
	if err != nil {
		t.Fatalf("LossTable() error = %v", err)
	}
	if len(table) != 2 {
		t.Fatalf("LossTable() len = %d, want 2 (unmatched line skipped)", len(table))
	}
	if table[0].Loss != 1.5 || table[0].Time != 100.0 {
		t.Errorf("table[0] = %+v, want {1.5 100}", table[0])
	}
	if table[1].Loss != 0.75 || table[1].Time != 130.0 {
		t.Errorf("table[1] = %+v, want {0.75 130}", table[1])
	}
}

func TestLossTableParsesReversedTokenOrder(t *testing.T) {
	rt := runtime.NewFakeRuntime()
	rt.SeedContainer("c1")
	rt.SetLogs("c1", []byte("Time: 100.0 stuff in between Loss: 1.5\n"))
	h := New("c1", rt)

	table, err := h.LossTable(context.Background())
	if err != nil {
		t.Fatalf("LossTable() error = %v", err)
	}
	if len(table) != 1 {
		t.Fatalf("LossTable() len = %d, want 1 (Time before Loss should still parse)", len(table))
	}
	if table[0].Loss != 1.5 || table[0].Time != 100.0 {
		t.Errorf("table[0] = %+v, want {1.5 100}", table[0])
	}
}

func TestGrowthTupleNilWhenNoPreviousInterval(t *testing.T) {
	rt := runtime.NewFakeRuntime()
	rt.SeedContainer("c1")
	now := float64(time.Now().Unix())
	rt.SetLogs("c1", []byte(
		"Loss: 1.0 Time: "+strconv.FormatFloat(now, 'f', 1, 64)+"\n",
	))
	h := New("c1", rt)
	samp, _ := sampler.New(rt, time.Hour)

	_, progress, growth, err := h.GrowthTuple(context.Background(), samp, 30*time.Second, 4)
	if err != nil {
		t.Fatalf("GrowthTuple() error = %v", err)
	}
	if progress != nil {
		t.Errorf("progress = %v, want nil (no previous-interval history)", *progress)
	}
	if growth != nil {
		t.Errorf("growth = %v, want nil", *growth)
	}
}
