package engine

import (
	"time"

	"github.com/signalsfoundry/orrery/core"
	"github.com/signalsfoundry/orrery/internal/interaction"
	"github.com/signalsfoundry/orrery/internal/sim/state"
)

// Config holds engine tuning.
type Config struct {
	// FrameInterval is the host frame period used by Run's default ticker.
	// Default: 1/60 s
	FrameInterval time.Duration

	// Scale is scene units per AU for Keplerian bodies.
	// Default: core.DefaultScale
	Scale float64

	// InitialTimeScale is simulated seconds per real second at start. It may
	// be negative; zero means the default.
	// Default: state.DefaultTimeScale (one day per second)
	InitialTimeScale float64

	// StartPaused starts the clock with IsPlaying=false.
	StartPaused bool

	// StartDate is the initial simulated date; the wall clock's now when zero.
	StartDate time.Time

	// DragThreshold is the per-axis pointer travel that turns a press into a
	// drag. Default: interaction.DefaultDragThreshold
	DragThreshold float64

	// ZeroDeltaUpdates publishes TIME_UPDATE even for frames that did not
	// move the wall clock forward.
	ZeroDeltaUpdates bool
}

// DefaultConfig returns a Config with defaults applied.
func DefaultConfig() Config {
	return Config{}.ApplyDefaults()
}

// ApplyDefaults fills zero or invalid fields with their defaults.
func (c Config) ApplyDefaults() Config {
	if c.FrameInterval <= 0 {
		c.FrameInterval = time.Second / 60
	}
	if c.Scale <= 0 {
		c.Scale = core.DefaultScale
	}
	if c.InitialTimeScale == 0 {
		c.InitialTimeScale = state.DefaultTimeScale
	}
	if c.DragThreshold <= 0 {
		c.DragThreshold = interaction.DefaultDragThreshold
	}
	return c
}
