package timectrl

import (
	"context"
	"math"
	"time"

	"github.com/signalsfoundry/orrery/internal/bus"
	"github.com/signalsfoundry/orrery/internal/logging"
	"github.com/signalsfoundry/orrery/internal/sim/state"
)

// SimClock is read access to simulated time, so components can depend on an
// abstraction rather than the concrete Clock.
type SimClock interface {
	// Now returns the current simulated time.
	Now() time.Time
}

// UpdateObserver is notified after every published TIME_UPDATE.
type UpdateObserver interface {
	ObserveTimeUpdate(u bus.TimeUpdate)
}

// Clock drives simulated time from host frame timestamps. Simulated time is
// decoupled from wall time by the store's TimeScale and IsPlaying flags.
//
// Clock is confined to the engine goroutine.
type Clock struct {
	bus   *bus.Bus
	store *state.Store
	log   logging.Logger

	observer  UpdateObserver
	zeroDelta bool

	started   bool
	lastFrame time.Time
	delta     float64
	elapsed   float64
	simulated time.Time
}

// ClockOption configures a Clock.
type ClockOption func(*Clock)

// WithZeroDeltaUpdates makes Update advance and publish on every call, even
// when the wall timestamp did not move forward.
func WithZeroDeltaUpdates(enabled bool) ClockOption {
	return func(c *Clock) { c.zeroDelta = enabled }
}

// WithClockLogger sets the logger.
func WithClockLogger(l logging.Logger) ClockOption {
	return func(c *Clock) { c.log = logging.OrNoop(l) }
}

// WithUpdateObserver registers an observer (metrics).
func WithUpdateObserver(o UpdateObserver) ClockOption {
	return func(c *Clock) { c.observer = o }
}

// NewClock constructs a clock starting at the store's CurrentDate.
func NewClock(b *bus.Bus, store *state.Store, opts ...ClockOption) *Clock {
	c := &Clock{
		bus:       b,
		store:     store,
		log:       logging.Noop(),
		simulated: store.Snapshot().CurrentDate,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the current simulated time. Implements SimClock.
func (c *Clock) Now() time.Time { return c.simulated }

// DeltaTime returns the wall seconds between the last two frames.
func (c *Clock) DeltaTime() float64 { return c.delta }

// ElapsedTime returns wall seconds accumulated since the first frame.
func (c *Clock) ElapsedTime() float64 { return c.elapsed }

// Update advances the clock to the host frame timestamp now. The first call
// only records the baseline. It reports whether TIME_UPDATE was published.
func (c *Clock) Update(now time.Time) bool {
	if !c.started {
		c.started = true
		c.lastFrame = now
		return false
	}

	delta := now.Sub(c.lastFrame).Seconds()
	if delta <= 0 && !c.zeroDelta {
		if delta < 0 {
			c.log.Debug(context.Background(), "ignoring backwards frame timestamp",
				logging.Float64("delta_s", delta))
		}
		return false
	}

	c.delta = delta
	c.elapsed += delta
	c.lastFrame = now

	snap := c.store.Snapshot()
	if !snap.IsPlaying {
		return false
	}
	c.simulated = c.advance(c.simulated, delta*snap.TimeScale*1000)
	c.store.SetCurrentDate(c.simulated)
	c.publish()
	return true
}

// maxDurationMillis is the largest step time.Duration can hold (~292 years).
const maxDurationMillis = float64(math.MaxInt64 / int64(time.Millisecond))

// maxStepMillis caps one frame's advance at about 31,700 simulated years.
const maxStepMillis = 1e15

// advance moves t by ms simulated milliseconds. Steps that fit a Duration
// keep nanosecond precision; larger ones use Unix millisecond arithmetic.
func (c *Clock) advance(t time.Time, ms float64) time.Time {
	if math.Abs(ms) < maxDurationMillis {
		return t.Add(time.Duration(ms * float64(time.Millisecond)))
	}
	if math.Abs(ms) > maxStepMillis {
		c.log.Warn(context.Background(), "clamping simulated time step",
			logging.Float64("step_ms", ms))
		ms = math.Copysign(maxStepMillis, ms)
	}
	cur, step := t.UnixMilli(), int64(ms)
	if (step > 0 && cur > math.MaxInt64-step) || (step < 0 && cur < math.MinInt64-step) {
		return t
	}
	return time.UnixMilli(cur + step).In(t.Location())
}

// SetSimulationTime jumps to t and publishes TIME_UPDATE whether or not the
// clock is playing.
func (c *Clock) SetSimulationTime(t time.Time) {
	c.simulated = t
	c.store.SetCurrentDate(t)
	c.publish()
}

func (c *Clock) publish() {
	u := bus.TimeUpdate{
		SimulationTime: c.simulated,
		DeltaTime:      c.delta,
		ElapsedTime:    c.elapsed,
	}
	bus.Publish(c.bus, bus.TimeUpdated, u)
	if c.observer != nil {
		c.observer.ObserveTimeUpdate(u)
	}
}

// JulianDate returns the Julian date of t.
func JulianDate(t time.Time) float64 {
	return float64(t.UnixMilli())/86400000.0 + 2440587.5
}

// CenturiesSinceJ2000 returns Julian centuries elapsed since J2000.0.
func CenturiesSinceJ2000(t time.Time) float64 {
	return (JulianDate(t) - 2451545.0) / 36525.0
}
