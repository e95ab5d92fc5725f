package model

import "encoding/json"

// Pass-through action types understood by scene subscribers. The player never
// interprets them; script authors own the payload schema.
const (
	ActionSetCamera     = "SET_CAMERA"
	ActionShowNarration = "SHOW_NARRATION"
	ActionShowImage     = "SHOW_IMAGE"
	ActionPlayAudio     = "PLAY_AUDIO"
	ActionLoadModel     = "LOAD_MODEL"
	ActionMoveModel     = "MOVE_MODEL"
	ActionAnimateModel  = "ANIMATE_MODEL"
	ActionDestroyModel  = "DESTROY_MODEL"
)

// ActionTypes lists every known action type in declaration order.
var ActionTypes = []string{
	ActionSetCamera,
	ActionShowNarration,
	ActionShowImage,
	ActionPlayAudio,
	ActionLoadModel,
	ActionMoveModel,
	ActionAnimateModel,
	ActionDestroyModel,
}

// ScenarioAction is one timed step of a scenario script.
type ScenarioAction struct {
	Time    float64         `json:"time" jsonschema:"minimum=0"` // seconds from scenario start
	Type    string          `json:"type" jsonschema:"required"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ScenarioScript is an authored, time-indexed sequence of actions replayed in
// real time. Actions must already be sorted by Time.
type ScenarioScript struct {
	ID            string           `json:"id" jsonschema:"required"`
	Title         string           `json:"title"`
	TotalDuration float64          `json:"totalDuration" jsonschema:"required,exclusiveMinimum=0"` // seconds
	Actions       []ScenarioAction `json:"actions"`
}
