package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/orrery/internal/bus"
)

func newEngineCollector(t *testing.T) (*EngineCollector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}
	return c, reg
}

func TestEngineCollectorFramesAndTime(t *testing.T) {
	c, reg := newEngineCollector(t)
	c.ObserveFrame(2 * time.Millisecond)
	c.ObserveFrame(3 * time.Millisecond)
	c.ObserveTimeUpdate(bus.TimeUpdate{SimulationTime: time.Unix(946728000, 0)})

	if got := testutil.ToFloat64(c.FramesTotal); got != 2 {
		t.Fatalf("orrery_frames_total = %v, want 2", got)
	}
	if count := histogramSampleCount(t, reg, "orrery_frame_duration_seconds", nil); count != 2 {
		t.Fatalf("frame duration samples = %d, want 2", count)
	}
	if got := testutil.ToFloat64(c.TimeUpdates); got != 1 {
		t.Fatalf("orrery_time_updates_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.SimulationTime); got != 946728000 {
		t.Fatalf("orrery_simulation_time_seconds = %v, want 946728000", got)
	}
}

func TestEngineCollectorScenarioLifecycle(t *testing.T) {
	c, _ := newEngineCollector(t)
	c.ScenarioStarted("iss-tour")
	c.ScenarioActionFired("SET_CAMERA")
	c.ScenarioActionFired("SET_CAMERA")
	c.ScenarioActionFired("SHOW_NARRATION")

	if got := testutil.ToFloat64(c.ScenariosActive); got != 1 {
		t.Fatalf("active = %v, want 1", got)
	}
	c.ScenarioEnded("iss-tour", true)
	c.ScenarioStarted("moon")
	c.ScenarioEnded("moon", false)

	if got := testutil.ToFloat64(c.ScenariosActive); got != 0 {
		t.Fatalf("active = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.ScenarioActions.WithLabelValues("SET_CAMERA")); got != 2 {
		t.Fatalf("SET_CAMERA actions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.ScenarioRuns.WithLabelValues("completed")); got != 1 {
		t.Fatalf("completed runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.ScenarioRuns.WithLabelValues("stopped")); got != 1 {
		t.Fatalf("stopped runs = %v, want 1", got)
	}
}

func TestEngineCollectorFeed(t *testing.T) {
	c, _ := newEngineCollector(t)
	c.FeedClientConnected()
	c.FeedClientConnected()
	c.FeedClientDisconnected()
	c.FeedMessageDropped()
	if got := testutil.ToFloat64(c.FeedClients); got != 1 {
		t.Fatalf("feed clients = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.FeedDropped); got != 1 {
		t.Fatalf("feed dropped = %v, want 1", got)
	}
}

func TestNilEngineCollectorIsSafe(t *testing.T) {
	var c *EngineCollector
	c.ObserveFrame(time.Millisecond)
	c.ObserveTimeUpdate(bus.TimeUpdate{})
	c.ScenarioStarted("x")
	c.ScenarioActionFired("x")
	c.ScenarioEnded("x", true)
	c.FeedClientConnected()
	c.FeedClientDisconnected()
	c.FeedMessageDropped()
	if c.Gatherer() != nil {
		t.Fatalf("nil collector returned a gatherer")
	}
}
