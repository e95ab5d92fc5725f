package feed

import (
	"time"

	"github.com/signalsfoundry/orrery/internal/interaction"
	"github.com/signalsfoundry/orrery/internal/sim/state"
	"github.com/signalsfoundry/orrery/model"
)

// Outbound message types.
const (
	TypeSnapshot  = "snapshot"
	TypePositions = "positions"
	TypeEvent     = "event"
	TypeEffect    = "effect"
	TypeError     = "error"
)

// Inbound message types.
const (
	TypePointerDown  = "pointerDown"
	TypePointerMove  = "pointerMove"
	TypePointerUp    = "pointerUp"
	TypePointerLeave = "pointerLeave"
	TypeTouchStart   = "touchStart"
	TypeTouchMove    = "touchMove"
	TypeTouchEnd     = "touchEnd"
	TypeRegister     = "register"
	TypeUnregister   = "unregister"
)

// Effect names carried by effect messages.
const (
	EffectShowHover      = "showHover"
	EffectClearHover     = "clearHover"
	EffectShowSelection  = "showSelection"
	EffectClearSelection = "clearSelection"
)

type snapshotMessage struct {
	Type          string                         `json:"type"`
	State         state.AppState                 `json:"state"`
	Interactables []model.BodyID                 `json:"interactables"`
	Positions     map[model.BodyID]model.Vector3 `json:"positions"`
	// Orbits holds one closed line per Keplerian body, in scene units.
	Orbits map[model.BodyID][]model.Vector3 `json:"orbits"`
}

type positionsMessage struct {
	Type           string                         `json:"type"`
	SimulationTime time.Time                      `json:"simulationTime"`
	Positions      map[model.BodyID]model.Vector3 `json:"positions"`
}

type eventMessage struct {
	Type    string `json:"type"`
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

type effectMessage struct {
	Type   string       `json:"type"`
	Effect string       `json:"effect"`
	ID     model.BodyID `json:"id,omitempty"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// clientMessage is any message a renderer sends. Hit is the body under the
// pointer as resolved by the renderer's raycast.
type clientMessage struct {
	Type    string         `json:"type"`
	X       float64        `json:"x"`
	Y       float64        `json:"y"`
	Hit     model.BodyID   `json:"hit"`
	ID      model.BodyID   `json:"id"`
	Touches []touchMessage `json:"touches"`
}

type touchMessage struct {
	X   float64      `json:"x"`
	Y   float64      `json:"y"`
	Hit model.BodyID `json:"hit"`
}

func (m clientMessage) touchPoints() []interaction.TouchPoint {
	out := make([]interaction.TouchPoint, 0, len(m.Touches))
	for _, t := range m.Touches {
		out = append(out, interaction.TouchPoint{X: t.X, Y: t.Y, Hit: t.Hit})
	}
	return out
}
