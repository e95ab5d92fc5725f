// Package engine wires the clock, event bus, state store, scenario player,
// interaction coordinator and body catalog into one frame loop. Everything it
// owns is confined to the goroutine running Run; other goroutines reach it
// through Do.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/orrery/core"
	"github.com/signalsfoundry/orrery/internal/bus"
	"github.com/signalsfoundry/orrery/internal/interaction"
	"github.com/signalsfoundry/orrery/internal/logging"
	"github.com/signalsfoundry/orrery/internal/scenario"
	"github.com/signalsfoundry/orrery/internal/sim/state"
	"github.com/signalsfoundry/orrery/kb"
	"github.com/signalsfoundry/orrery/model"
	"github.com/signalsfoundry/orrery/timectrl"
)

var (
	// ErrStopped is returned by Do once Run has returned.
	ErrStopped = errors.New("engine stopped")
	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("engine already running")
	// ErrUnknownScenario is returned for scenario IDs not in the catalog.
	ErrUnknownScenario = errors.New("unknown scenario")
)

// Updatable is called once per frame after the clock and frame callbacks,
// with the wall delta and elapsed seconds.
type Updatable interface {
	Update(delta, elapsed float64)
}

// UpdatableFunc adapts a function to Updatable.
type UpdatableFunc func(delta, elapsed float64)

func (f UpdatableFunc) Update(delta, elapsed float64) { f(delta, elapsed) }

// Metrics receives engine measurements. observability.EngineCollector
// implements it.
type Metrics interface {
	timectrl.UpdateObserver
	scenario.Observer
	ObserveFrame(d time.Duration)
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	log     logging.Logger
	wall    timectrl.WallClock
	metrics Metrics
	tracer  trace.Tracer
	sink    interaction.EffectSink
}

// WithLogger sets the logger shared by every component.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithWallClock overrides the wall clock used by scenario playback.
func WithWallClock(w timectrl.WallClock) Option {
	return func(o *options) { o.wall = w }
}

// WithMetrics registers a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer overrides the tracer used for scenario spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithEffectSink attaches a Highlighter drawing into sink.
func WithEffectSink(sink interaction.EffectSink) Option {
	return func(o *options) { o.sink = sink }
}

type call struct {
	fn   func()
	done chan struct{}
}

// Engine owns one simulation.
type Engine struct {
	cfg     Config
	log     logging.Logger
	metrics Metrics

	Bus         *bus.Bus
	Store       *state.Store
	Clock       *timectrl.Clock
	Frames      *timectrl.FrameQueue
	Player      *scenario.Player
	Input       *interaction.Coordinator
	Highlighter *interaction.Highlighter
	KB          *kb.KnowledgeBase
	Motion      *core.MotionModel

	scenarios  map[string]*model.ScenarioScript
	updatables []Updatable

	calls   chan call
	stopped chan struct{}
	running atomic.Bool
}

// New builds an engine with an empty body catalog and no scenarios.
func New(cfg Config, opts ...Option) *Engine {
	cfg = cfg.ApplyDefaults()
	o := options{wall: timectrl.SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	log := logging.OrNoop(o.log).With(logging.Component("engine"))

	start := cfg.StartDate
	if start.IsZero() {
		start = o.wall.Now()
	}
	initial := state.DefaultAppState(start)
	initial.TimeScale = cfg.InitialTimeScale
	initial.IsPlaying = !cfg.StartPaused

	e := &Engine{
		cfg:       cfg,
		log:       log,
		metrics:   o.metrics,
		Bus:       bus.New(),
		Frames:    timectrl.NewFrameQueue(),
		KB:        kb.NewKnowledgeBase(),
		scenarios: make(map[string]*model.ScenarioScript),
		calls:     make(chan call),
		stopped:   make(chan struct{}),
	}
	e.Store = state.NewStore(e.Bus, initial)

	clockOpts := []timectrl.ClockOption{
		timectrl.WithZeroDeltaUpdates(cfg.ZeroDeltaUpdates),
		timectrl.WithClockLogger(log),
	}
	playerOpts := []scenario.Option{scenario.WithLogger(log), scenario.WithTracer(o.tracer)}
	if o.metrics != nil {
		clockOpts = append(clockOpts, timectrl.WithUpdateObserver(o.metrics))
		playerOpts = append(playerOpts, scenario.WithObserver(o.metrics))
	}
	e.Clock = timectrl.NewClock(e.Bus, e.Store, clockOpts...)
	e.Player = scenario.NewPlayer(e.Bus, o.wall, e.Frames, playerOpts...)
	e.Input = interaction.NewCoordinator(e.Bus, e.Store,
		interaction.WithDragThreshold(cfg.DragThreshold),
		interaction.WithLogger(log),
	)
	if o.sink != nil {
		e.Highlighter = interaction.NewHighlighter(e.Bus, e.Store, o.sink)
	}
	e.Motion = core.NewMotionModel(core.WithScale(cfg.Scale), core.WithPositionUpdater(e.KB))

	bus.Subscribe(e.Bus, bus.TimeUpdated, e.onTimeUpdate)
	bus.Subscribe(e.Bus, bus.BodyClicked, func(ref bus.BodyRef) {
		e.Store.SetCameraTarget(ref.ID)
	})
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// AddBody adds b to the catalog and the motion model and makes it
// interactable.
func (e *Engine) AddBody(b model.Body) error {
	if b.Name == "" {
		b.Name = string(b.ID)
	}
	if err := e.KB.AddBody(b); err != nil {
		return err
	}
	if err := e.Motion.AddBody(b); err != nil {
		_ = e.KB.RemoveBody(b.ID)
		return err
	}
	e.Input.RegisterInteractable(b.ID, b.Name)
	return nil
}

// AddBodies adds every body, then propagates all of them to the current
// date. Failing bodies are skipped and reported together.
func (e *Engine) AddBodies(bodies []model.Body) error {
	var errs []error
	for _, b := range bodies {
		if err := e.AddBody(b); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.Motion.UpdatePositions(e.Clock.Now()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RemoveBody drops id from the catalog, the motion model and the
// interactable registry. Selection or hover on the body is cleared.
func (e *Engine) RemoveBody(id model.BodyID) error {
	if err := e.KB.RemoveBody(id); err != nil {
		return err
	}
	_ = e.Motion.RemoveBody(id)
	e.Input.UnregisterInteractable(id)
	snap := e.Store.Snapshot()
	if snap.SelectedBodyID == id {
		e.Store.SelectBody(model.NoBody)
	}
	if snap.HoveredBodyID == id {
		e.Store.HoverBody(model.NoBody)
	}
	if snap.CameraTargetID == id {
		e.Store.SetCameraTarget(model.NoBody)
	}
	return nil
}

// AddScenario validates s and adds it to the catalog.
func (e *Engine) AddScenario(s *model.ScenarioScript) error {
	if err := core.ValidateScenario(s); err != nil {
		return err
	}
	if _, exists := e.scenarios[s.ID]; exists {
		return fmt.Errorf("%w: duplicate scenario id %q", core.ErrInvalidScenario, s.ID)
	}
	e.scenarios[s.ID] = s
	return nil
}

// Scenario returns the catalog entry for id.
func (e *Engine) Scenario(id string) (*model.ScenarioScript, bool) {
	s, ok := e.scenarios[id]
	return s, ok
}

// ScenarioIDs returns the catalog IDs, sorted.
func (e *Engine) ScenarioIDs() []string {
	ids := make([]string, 0, len(e.scenarios))
	for id := range e.scenarios {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PlayScenario starts the catalog scenario id. It reports false, with no
// error, when another scenario is already playing.
func (e *Engine) PlayScenario(ctx context.Context, id string) (bool, error) {
	s, ok := e.scenarios[id]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownScenario, id)
	}
	return e.Player.Play(ctx, s), nil
}

// AddUpdatable appends u to the per-frame pipeline.
func (e *Engine) AddUpdatable(u Updatable) {
	e.updatables = append(e.updatables, u)
}

// Frame runs one frame for the host timestamp now: clock, scheduled frame
// callbacks, then updatables.
func (e *Engine) Frame(now time.Time) {
	start := time.Now()
	e.Clock.Update(now)
	e.Frames.RunFrame(now)
	delta, elapsed := e.Clock.DeltaTime(), e.Clock.ElapsedTime()
	for _, u := range e.updatables {
		u.Update(delta, elapsed)
	}
	if e.metrics != nil {
		e.metrics.ObserveFrame(time.Since(start))
	}
}

// Run drives frames from src and serves Do calls until ctx is done or src is
// closed. Any playing scenario is stopped on the way out.
func (e *Engine) Run(ctx context.Context, src timectrl.TickSource) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(e.stopped)
	defer src.Stop()

	e.log.Info(ctx, "engine started",
		logging.Duration("frame_interval", e.cfg.FrameInterval),
		logging.Float64("time_scale", e.Store.Snapshot().TimeScale),
	)
	defer e.Player.Stop()

	ticks := src.Ticks()
	for {
		select {
		case <-ctx.Done():
			e.log.Info(context.Background(), "engine stopping", logging.Err(ctx.Err()))
			return ctx.Err()
		case now, ok := <-ticks:
			if !ok {
				e.log.Info(ctx, "tick source closed; engine stopping")
				return nil
			}
			e.Frame(now)
		case c := <-e.calls:
			c.fn()
			close(c.done)
		}
	}
}

// Do runs fn on the engine goroutine and waits for it to finish. It returns
// ErrStopped when the engine is no longer running.
func (e *Engine) Do(ctx context.Context, fn func()) error {
	c := call{fn: fn, done: make(chan struct{})}
	select {
	case e.calls <- c:
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	// Run executes a received call before it can return, so done always
	// closes.
	<-c.done
	return nil
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.stopped }

// Status is a point-in-time view of the engine.
type Status struct {
	State         state.AppState
	Scenario      string
	ScenarioState scenario.State
	RunID         string
	Bodies        int
	Scenarios     []string
}

// Status must be called on the engine goroutine, i.e. inside Do.
func (e *Engine) Status() Status {
	st := Status{
		State:         e.Store.Snapshot(),
		ScenarioState: e.Player.State(),
		RunID:         e.Player.RunID(),
		Bodies:        len(e.KB.ListBodies()),
		Scenarios:     e.ScenarioIDs(),
	}
	if s := e.Player.Script(); s != nil {
		st.Scenario = s.ID
	}
	return st
}

func (e *Engine) onTimeUpdate(u bus.TimeUpdate) {
	if err := e.Motion.UpdatePositions(u.SimulationTime); err != nil {
		e.log.Debug(context.Background(), "position update incomplete",
			logging.SimTime(u.SimulationTime),
			logging.Err(err),
		)
	}
}
