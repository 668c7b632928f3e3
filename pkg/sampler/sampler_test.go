package sampler

import (
	"testing"
	"time"

	"github.com/flowcon/flowcon/pkg/runtime"
)

func TestNewSeedsHistorySynchronously(t *testing.T) {
	rt := runtime.NewFakeRuntime()
	rt.SetStats([]runtime.Stats{{ContainerID: "c1", CPUPercent: 10}})

	s, err := New(rt, time.Hour)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	history := s.History()
	if len(history) != 1 {
		t.Fatalf("History() len = %d, want 1 (synchronous seed sample)", len(history))
	}
	if history[0].ContainerID != "c1" {
		t.Errorf("History()[0].ContainerID = %q, want c1", history[0].ContainerID)
	}
}

func TestHistoryReturnsDefensiveCopy(t *testing.T) {
	rt := runtime.NewFakeRuntime()
	rt.SetStats([]runtime.Stats{{ContainerID: "c1"}})
	s, _ := New(rt, time.Hour)

	history := s.History()
	history[0].ContainerID = "mutated"

	if s.History()[0].ContainerID != "c1" {
		t.Error("mutating the returned slice affected internal history")
	}
}

func TestSamplerAccumulatesOnUpdate(t *testing.T) {
	rt := runtime.NewFakeRuntime()
	rt.SetStats([]runtime.Stats{{ContainerID: "c1", CPUPercent: 5}})
	s, _ := New(rt, 10*time.Millisecond)

	s.Start()
	defer s.Kill()

	time.Sleep(35 * time.Millisecond)

	if got := len(s.History()); got < 2 {
		t.Errorf("History() len = %d after 35ms at 10ms interval, want >= 2", got)
	}
}

func TestKillStopsButRetainsHistory(t *testing.T) {
	rt := runtime.NewFakeRuntime()
	rt.SetStats([]runtime.Stats{{ContainerID: "c1"}})
	s, _ := New(rt, 10*time.Millisecond)
	s.Start()

	time.Sleep(25 * time.Millisecond)
	s.Kill()
	countAfterKill := len(s.History())

	time.Sleep(30 * time.Millisecond)
	if got := len(s.History()); got != countAfterKill {
		t.Errorf("History() grew after Kill(): %d -> %d", countAfterKill, got)
	}
	if countAfterKill == 0 {
		t.Error("History() should retain samples after Kill()")
	}
}
