// Package scenario replays authored scripts of timed actions against wall
// time, re-emitting each action on the event bus exactly once.
package scenario

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/orrery/internal/bus"
	"github.com/signalsfoundry/orrery/internal/logging"
	"github.com/signalsfoundry/orrery/model"
	"github.com/signalsfoundry/orrery/timectrl"
)

const tracerName = "github.com/signalsfoundry/orrery/internal/scenario"

// State is the playback state of a Player.
type State int

const (
	Idle State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "idle"
	}
}

// Observer receives playback lifecycle notifications (metrics).
type Observer interface {
	ScenarioStarted(scriptID string)
	ScenarioActionFired(actionType string)
	ScenarioEnded(scriptID string, completed bool)
}

// Player replays one script at a time. It is confined to the engine
// goroutine, like the bus it publishes on.
type Player struct {
	bus    *bus.Bus
	wall   timectrl.WallClock
	frames timectrl.FrameScheduler
	log    logging.Logger
	tracer trace.Tracer
	obs    Observer

	state   State
	script  *model.ScenarioScript
	startAt time.Time
	// elapsed at the moment of Pause, restored by Resume
	pausedElapsed float64
	index         int

	frameID    string
	generation uint64

	runID string
	ctx   context.Context
	span  trace.Span
}

// Option configures a Player.
type Option func(*Player)

// WithLogger sets the player's logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Player) { p.log = logging.OrNoop(l) }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *Player) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithObserver registers a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(p *Player) { p.obs = o }
}

// NewPlayer constructs an idle player.
func NewPlayer(b *bus.Bus, wall timectrl.WallClock, frames timectrl.FrameScheduler, opts ...Option) *Player {
	p := &Player{
		bus:    b,
		wall:   wall,
		frames: frames,
		log:    logging.Noop(),
		tracer: otel.Tracer(tracerName),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current playback state.
func (p *Player) State() State { return p.state }

// Script returns the loaded script, or nil when idle.
func (p *Player) Script() *model.ScenarioScript { return p.script }

// RunID identifies the current playback run; empty when idle.
func (p *Player) RunID() string { return p.runID }

// Play starts script from the beginning. It is a silent no-op while another
// script is playing and reports whether playback started. Playing from
// Paused stops the paused run first, so SCENARIO_END precedes the new
// SCENARIO_START.
func (p *Player) Play(ctx context.Context, script *model.ScenarioScript) bool {
	if p.state == Playing || script == nil {
		return false
	}
	if p.state == Paused {
		p.stop(false)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p.generation++
	p.script = script
	p.index = 0
	p.pausedElapsed = 0
	p.startAt = p.wall.Now()
	p.state = Playing
	p.runID = uuid.NewString()
	p.ctx, p.span = p.tracer.Start(ctx, "scenario.play",
		trace.WithAttributes(
			attribute.String("scenario.id", script.ID),
			attribute.String("scenario.run_id", p.runID),
			attribute.Float64("scenario.total_duration_s", script.TotalDuration),
			attribute.Int("scenario.actions", len(script.Actions)),
		))

	p.log.Info(p.ctx, "scenario started",
		logging.String("scenario_id", script.ID),
		logging.String("title", script.Title),
		logging.String("run_id", p.runID),
	)
	if p.obs != nil {
		p.obs.ScenarioStarted(script.ID)
	}
	bus.Publish(p.bus, bus.ScenarioStarted, bus.ScenarioStart{
		ScenarioID:    script.ID,
		Title:         script.Title,
		TotalDuration: script.TotalDuration,
	})
	p.tick(p.generation)
	return true
}

// Pause freezes playback. It is a no-op unless Playing.
func (p *Player) Pause() {
	if p.state != Playing {
		return
	}
	p.pausedElapsed = p.elapsed()
	p.cancelFrame()
	p.generation++
	p.state = Paused
	p.span.AddEvent("pause", trace.WithAttributes(attribute.Float64("elapsed_s", p.pausedElapsed)))
	bus.Publish(p.bus, bus.ScenarioPause, bus.ScenarioPaused{ElapsedTime: p.pausedElapsed})
}

// Resume continues a paused script from where it stopped. It is a no-op
// unless Paused.
func (p *Player) Resume() {
	if p.state != Paused {
		return
	}
	p.startAt = p.wall.Now().Add(-time.Duration(p.pausedElapsed * float64(time.Second)))
	p.state = Playing
	p.generation++
	p.span.AddEvent("resume", trace.WithAttributes(attribute.Float64("elapsed_s", p.pausedElapsed)))
	bus.Publish(p.bus, bus.ScenarioResume, bus.ScenarioPaused{ElapsedTime: p.pausedElapsed})
	p.tick(p.generation)
}

// Stop ends playback, cancels the pending frame and emits SCENARIO_END.
// It is a no-op when idle.
func (p *Player) Stop() {
	p.stop(false)
}

func (p *Player) stop(completed bool) {
	if p.state == Idle {
		return
	}
	p.cancelFrame()
	p.generation++
	id := p.script.ID
	p.state = Idle
	p.script = nil

	p.log.Info(p.ctx, "scenario ended",
		logging.String("scenario_id", id),
		logging.String("run_id", p.runID),
		logging.Bool("completed", completed),
	)
	p.endSpan(completed)
	p.runID = ""
	if p.obs != nil {
		p.obs.ScenarioEnded(id, completed)
	}
	bus.Publish(p.bus, bus.ScenarioEnded, bus.ScenarioEnd{ScenarioID: id, Completed: completed})
}

func (p *Player) endSpan(completed bool) {
	if p.span == nil {
		return
	}
	if completed {
		p.span.SetStatus(codes.Ok, "")
	} else {
		p.span.SetAttributes(attribute.Bool("scenario.interrupted", true))
	}
	p.span.End()
	p.span = nil
	p.ctx = context.Background()
}

func (p *Player) cancelFrame() {
	if p.frameID != "" {
		p.frames.Cancel(p.frameID)
		p.frameID = ""
	}
}

// elapsed returns wall seconds since the (rebased) start.
func (p *Player) elapsed() float64 {
	return p.wall.Now().Sub(p.startAt).Seconds()
}

func (p *Player) tick(gen uint64) {
	// A callback from a previous run, or one that raced Pause/Stop, must
	// never re-enter playback.
	if gen != p.generation || p.state != Playing || p.script == nil {
		return
	}
	p.frameID = ""
	script := p.script
	elapsed := p.elapsed()

	for p.index < len(script.Actions) && elapsed >= script.Actions[p.index].Time {
		action := script.Actions[p.index]
		p.index++
		p.fire(action)
		// a subscriber may have stopped or restarted playback
		if gen != p.generation {
			return
		}
	}

	progress := 1.0
	if script.TotalDuration > 0 {
		progress = min(elapsed/script.TotalDuration, 1)
	}
	bus.Publish(p.bus, bus.ScenarioUpdated, bus.ScenarioProgress{Progress: progress, ElapsedTime: elapsed})
	if gen != p.generation {
		return
	}

	if elapsed >= script.TotalDuration {
		p.stop(true)
		return
	}
	p.frameID = p.frames.Request(func(time.Time) { p.tick(gen) })
}

func (p *Player) fire(action model.ScenarioAction) {
	p.log.Debug(p.ctx, "executing scenario action",
		logging.String("type", action.Type),
		logging.Float64("at_s", action.Time),
	)
	p.span.AddEvent("action", trace.WithAttributes(
		attribute.String("action.type", action.Type),
		attribute.Float64("action.time_s", action.Time),
	))
	if p.obs != nil {
		p.obs.ScenarioActionFired(action.Type)
	}
	bus.Publish(p.bus, bus.ActionTopic(action.Type), action.Payload)
}
