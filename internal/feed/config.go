// Package feed is the renderer boundary: a WebSocket hub that pushes body
// positions, bus events and highlight effects to connected renderers and
// applies their pointer, touch and interactable messages to the engine.
package feed

import (
	"time"

	"github.com/signalsfoundry/orrery/core"
)

// Config tunes the hub.
type Config struct {
	// PositionRate caps positions messages per client, per second.
	PositionRate float64
	// PositionBurst is the limiter burst for positions messages.
	PositionBurst int
	// ClientBuffer is the outbound queue length per client. Messages that
	// do not fit are dropped.
	ClientBuffer int
	// WriteWait bounds a single websocket write.
	WriteWait time.Duration
	// MaxMessageSize bounds inbound messages.
	MaxMessageSize int64
	// OrbitSegments is the number of segments per orbit line in the
	// snapshot.
	OrbitSegments int
	// CheckOrigin, when set, replaces the same-origin check.
	CheckOrigin func(origin string) bool
}

// DefaultConfig returns the hub defaults.
func DefaultConfig() Config {
	return Config{
		PositionRate:   30,
		PositionBurst:  1,
		ClientBuffer:   256,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 64 << 10,
		OrbitSegments:  core.DefaultOrbitSegments,
	}
}

// ApplyDefaults fills zero fields from DefaultConfig.
func (c Config) ApplyDefaults() Config {
	def := DefaultConfig()
	if c.PositionRate <= 0 {
		c.PositionRate = def.PositionRate
	}
	if c.PositionBurst <= 0 {
		c.PositionBurst = def.PositionBurst
	}
	if c.ClientBuffer <= 0 {
		c.ClientBuffer = def.ClientBuffer
	}
	if c.WriteWait <= 0 {
		c.WriteWait = def.WriteWait
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.OrbitSegments <= 0 {
		c.OrbitSegments = def.OrbitSegments
	}
	return c
}
