package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/orrery/core"
	"github.com/signalsfoundry/orrery/internal/bus"
	"github.com/signalsfoundry/orrery/internal/observability"
	"github.com/signalsfoundry/orrery/internal/scenario"
	"github.com/signalsfoundry/orrery/model"
	"github.com/signalsfoundry/orrery/timectrl"
)

var (
	simStart  = time.Date(2021, 10, 3, 0, 0, 0, 0, time.UTC)
	wallStart = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *timectrl.FakeWallClock) {
	t.Helper()
	wall := timectrl.NewFakeWallClock(wallStart)
	opts = append([]Option{WithWallClock(wall)}, opts...)
	e := New(Config{StartDate: simStart}, opts...)
	if err := e.AddBodies(core.DefaultBodies()); err != nil {
		t.Fatalf("AddBodies: %v", err)
	}
	return e, wall
}

// frame advances the fake wall clock by d and runs one frame at that time.
func frame(e *Engine, wall *timectrl.FakeWallClock, d time.Duration) {
	e.Frame(wall.Advance(d))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.FrameInterval != time.Second/60 || cfg.Scale != core.DefaultScale ||
		cfg.InitialTimeScale != 86400 || cfg.DragThreshold != 5 {
		t.Fatalf("DefaultConfig() = %+v", cfg)
	}
	neg := Config{InitialTimeScale: -3600}.ApplyDefaults()
	if neg.InitialTimeScale != -3600 {
		t.Fatalf("negative time scale replaced: %v", neg.InitialTimeScale)
	}
}

func TestAddBodiesPlacesEveryBody(t *testing.T) {
	e, _ := newTestEngine(t)
	bodies := e.KB.ListBodies()
	if len(bodies) != 10 {
		t.Fatalf("catalog has %d bodies, want 10", len(bodies))
	}
	earth, err := e.KB.GetBody("earth")
	if err != nil {
		t.Fatalf("GetBody(earth): %v", err)
	}
	if r := earth.Position.Norm(); math.Abs(r-100) > 2 {
		t.Fatalf("earth distance = %v scene units, want ~100", r)
	}
	if !e.Input.IsInteractable("iss") {
		t.Fatalf("iss not registered as interactable")
	}
	if err := e.AddBody(model.Body{ID: "earth"}); err == nil {
		t.Fatalf("duplicate body accepted")
	}
}

func TestAddBodyRollsBackOnInvalidElements(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.AddBody(model.Body{ID: "rogue", Elements: &model.OrbitalElements{A: 1, E: 1.5, Period: 10}})
	if err == nil {
		t.Fatalf("invalid elements accepted")
	}
	if e.KB.HasBody("rogue") {
		t.Fatalf("catalog kept a body the motion model rejected")
	}
}

func TestFrameAdvancesClockAndMovesBodies(t *testing.T) {
	e, wall := newTestEngine(t)
	var updates []bus.TimeUpdate
	bus.Subscribe(e.Bus, bus.TimeUpdated, func(u bus.TimeUpdate) { updates = append(updates, u) })

	before, _ := e.KB.GetBody("mercury")
	e.Frame(wall.Now()) // baseline
	frame(e, wall, time.Second)

	if len(updates) != 1 {
		t.Fatalf("TIME_UPDATE count = %d, want 1", len(updates))
	}
	if got := e.Store.Snapshot().CurrentDate; !got.Equal(simStart.Add(24 * time.Hour)) {
		t.Fatalf("CurrentDate = %v, want one day later", got)
	}
	after, _ := e.KB.GetBody("mercury")
	if before.Position == after.Position {
		t.Fatalf("mercury did not move after a simulated day")
	}
	sun, _ := e.KB.GetBody("sun")
	if sun.Position != (model.Vector3{}) {
		t.Fatalf("sun moved to %+v", sun.Position)
	}
}

func TestStartPausedKeepsDate(t *testing.T) {
	wall := timectrl.NewFakeWallClock(wallStart)
	e := New(Config{StartDate: simStart, StartPaused: true}, WithWallClock(wall))
	e.Frame(wall.Now())
	frame(e, wall, time.Second)
	if got := e.Store.Snapshot().CurrentDate; !got.Equal(simStart) {
		t.Fatalf("paused engine moved date to %v", got)
	}
	if e.Clock.ElapsedTime() != 1 {
		t.Fatalf("elapsed = %v, want 1", e.Clock.ElapsedTime())
	}
}

func TestUpdatablesRunAfterClock(t *testing.T) {
	e, wall := newTestEngine(t)
	var order []string
	bus.Subscribe(e.Bus, bus.TimeUpdated, func(bus.TimeUpdate) { order = append(order, "clock") })
	var gotDelta, gotElapsed float64
	e.AddUpdatable(UpdatableFunc(func(delta, elapsed float64) {
		order = append(order, "updatable")
		gotDelta, gotElapsed = delta, elapsed
	}))

	e.Frame(wall.Now())
	order = nil
	frame(e, wall, 500*time.Millisecond)
	frame(e, wall, 250*time.Millisecond)

	want := []string{"clock", "updatable", "clock", "updatable"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if gotDelta != 0.25 || gotElapsed != 0.75 {
		t.Fatalf("updatable saw delta=%v elapsed=%v, want 0.25, 0.75", gotDelta, gotElapsed)
	}
}

func TestClickSetsCameraTarget(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Input.PointerMove(10, 10, "mars")
	e.Input.PointerDown(10, 10)
	e.Input.PointerUp()

	snap := e.Store.Snapshot()
	if snap.SelectedBodyID != "mars" || snap.CameraTargetID != "mars" {
		t.Fatalf("selected=%q camera=%q, want mars/mars", snap.SelectedBodyID, snap.CameraTargetID)
	}

	if err := e.RemoveBody("mars"); err != nil {
		t.Fatalf("RemoveBody: %v", err)
	}
	snap = e.Store.Snapshot()
	if snap.SelectedBodyID != model.NoBody || snap.HoveredBodyID != model.NoBody || snap.CameraTargetID != model.NoBody {
		t.Fatalf("removed body still referenced: %+v", snap)
	}
	if e.Input.IsInteractable("mars") {
		t.Fatalf("removed body still interactable")
	}
}

func TestScenarioCatalogAndPlayback(t *testing.T) {
	e, wall := newTestEngine(t)
	script := &model.ScenarioScript{
		ID:            "tour",
		TotalDuration: 1,
		Actions: []model.ScenarioAction{
			{Time: 0.5, Type: model.ActionSetCamera, Payload: json.RawMessage(`{"target":"earth"}`)},
		},
	}
	if err := e.AddScenario(script); err != nil {
		t.Fatalf("AddScenario: %v", err)
	}
	if err := e.AddScenario(script); !errors.Is(err, core.ErrInvalidScenario) {
		t.Fatalf("duplicate AddScenario err = %v, want ErrInvalidScenario", err)
	}
	if _, err := e.PlayScenario(context.Background(), "missing"); !errors.Is(err, ErrUnknownScenario) {
		t.Fatalf("PlayScenario(missing) err = %v, want ErrUnknownScenario", err)
	}

	var camera []string
	bus.Subscribe(e.Bus, bus.ActionTopic(model.ActionSetCamera), func(p json.RawMessage) {
		camera = append(camera, string(p))
	})
	var ended []bus.ScenarioEnd
	bus.Subscribe(e.Bus, bus.ScenarioEnded, func(p bus.ScenarioEnd) { ended = append(ended, p) })

	started, err := e.PlayScenario(context.Background(), "tour")
	if err != nil || !started {
		t.Fatalf("PlayScenario = %v, %v", started, err)
	}
	if again, _ := e.PlayScenario(context.Background(), "tour"); again {
		t.Fatalf("second PlayScenario started while playing")
	}
	if st := e.Status(); st.Scenario != "tour" || st.ScenarioState != scenario.Playing || st.RunID == "" {
		t.Fatalf("Status() = %+v", st)
	}

	frame(e, wall, 600*time.Millisecond)
	if len(camera) != 1 || camera[0] != `{"target":"earth"}` {
		t.Fatalf("SET_CAMERA payloads = %v", camera)
	}
	frame(e, wall, 600*time.Millisecond)
	if len(ended) != 1 || !ended[0].Completed {
		t.Fatalf("SCENARIO_END = %+v, want one completed", ended)
	}
	if ids := e.Status().Scenarios; len(ids) != 1 || ids[0] != "tour" {
		t.Fatalf("catalog ids = %v", ids)
	}
}

func TestRunServesDoAndFrames(t *testing.T) {
	e, wall := newTestEngine(t)
	src := timectrl.NewManualTickSource()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx, src) }()

	src.Tick(wall.Now())
	src.Tick(wall.Advance(time.Second))

	var date time.Time
	if err := e.Do(ctx, func() { date = e.Store.Snapshot().CurrentDate }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !date.Equal(simStart.Add(24 * time.Hour)) {
		t.Fatalf("CurrentDate = %v, want one day after start", date)
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	if err := e.Do(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Do after stop err = %v, want ErrStopped", err)
	}
	if err := e.Run(context.Background(), timectrl.NewManualTickSource()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run err = %v, want ErrAlreadyRunning", err)
	}
}

func TestRunStopsWhenTicksClose(t *testing.T) {
	e, _ := newTestEngine(t)
	src := timectrl.NewManualTickSource()
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(context.Background(), src) }()

	src.Stop()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after the tick source closed")
	}
	<-e.Done()
}

func TestDoHonoursContext(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Do(ctx, func() { t.Errorf("fn ran without a running engine") }); !errors.Is(err, context.Canceled) {
		t.Fatalf("Do err = %v, want context.Canceled", err)
	}
}

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := observability.NewEngineCollector(reg)
	if err != nil {
		t.Fatalf("NewEngineCollector: %v", err)
	}
	e, wall := newTestEngine(t, WithMetrics(collector))
	e.Frame(wall.Now())
	frame(e, wall, time.Second)

	if got := testutil.ToFloat64(collector.FramesTotal); got != 2 {
		t.Fatalf("frames = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.TimeUpdates); got != 1 {
		t.Fatalf("time updates = %v, want 1", got)
	}

	if err := e.AddScenario(&model.ScenarioScript{ID: "s", TotalDuration: 1}); err != nil {
		t.Fatalf("AddScenario: %v", err)
	}
	if _, err := e.PlayScenario(context.Background(), "s"); err != nil {
		t.Fatalf("PlayScenario: %v", err)
	}
	if got := testutil.ToFloat64(collector.ScenariosActive); got != 1 {
		t.Fatalf("active scenarios = %v, want 1", got)
	}
	e.Player.Stop()
	if got := testutil.ToFloat64(collector.ScenarioRuns.WithLabelValues("stopped")); got != 1 {
		t.Fatalf("stopped runs = %v, want 1", got)
	}
}
