package bus

import (
	"encoding/json"
	"time"

	"github.com/signalsfoundry/orrery/model"
)

// Topic is a typed view over a named bus topic.
type Topic[T any] struct {
	name string
}

// NewTopic declares a typed topic.
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

// Name returns the wire name of the topic.
func (t Topic[T]) Name() string { return t.name }

// Subscribe registers a typed handler. Payloads of any other type published
// on the same name are ignored by this handler.
func Subscribe[T any](b *Bus, t Topic[T], fn func(T)) Subscription {
	return b.On(t.name, func(payload any) {
		if v, ok := payload.(T); ok {
			fn(v)
		}
	})
}

// SubscribeOnce registers a typed handler for a single delivery.
func SubscribeOnce[T any](b *Bus, t Topic[T], fn func(T)) Subscription {
	return b.Once(t.name, func(payload any) {
		if v, ok := payload.(T); ok {
			fn(v)
		}
	})
}

// Publish emits v on t.
func Publish[T any](b *Bus, t Topic[T], v T) {
	b.Emit(t.name, v)
}

// TimeUpdate is published by the clock after every advance.
type TimeUpdate struct {
	SimulationTime time.Time `json:"simulationTime"`
	DeltaTime      float64   `json:"deltaTime"`   // wall seconds since the previous frame
	ElapsedTime    float64   `json:"elapsedTime"` // wall seconds since the clock started
}

// BodyHover is published when the pointer starts hovering a body.
type BodyHover struct {
	ID model.BodyID `json:"id"`
	X  float64      `json:"x"`
	Y  float64      `json:"y"`
}

// BodyRef carries only a body ID.
type BodyRef struct {
	ID model.BodyID `json:"id"`
}

// ScenarioStart is published when a scenario begins.
type ScenarioStart struct {
	ScenarioID    string  `json:"scenarioId"`
	Title         string  `json:"title"`
	TotalDuration float64 `json:"totalDuration"`
}

// ScenarioProgress is published every playback tick.
type ScenarioProgress struct {
	Progress    float64 `json:"progress"` // in [0,1]
	ElapsedTime float64 `json:"elapsedTime"`
}

// ScenarioEnd is published when a scenario stops, either by reaching its
// duration or by Stop.
type ScenarioEnd struct {
	ScenarioID string `json:"scenarioId"`
	Completed  bool   `json:"completed"`
}

// ScenarioPaused is published on pause and resume.
type ScenarioPaused struct {
	ElapsedTime float64 `json:"elapsedTime"`
}

var (
	TimeUpdated    = NewTopic[TimeUpdate]("TIME_UPDATE")
	BodyHovered    = NewTopic[BodyHover]("BODY_HOVER")
	BodyHoverEnded = NewTopic[BodyRef]("BODY_HOVER_END")
	BodyClicked    = NewTopic[BodyRef]("BODY_CLICK")

	ScenarioStarted = NewTopic[ScenarioStart]("SCENARIO_START")
	ScenarioUpdated = NewTopic[ScenarioProgress]("SCENARIO_UPDATE")
	ScenarioEnded   = NewTopic[ScenarioEnd]("SCENARIO_END")
	ScenarioPause   = NewTopic[ScenarioPaused]("SCENARIO_PAUSE")
	ScenarioResume  = NewTopic[ScenarioPaused]("SCENARIO_RESUME")
)

// ActionTopic returns the topic a scenario action of the given type is
// re-emitted on. The payload is the action's raw JSON, untouched.
func ActionTopic(actionType string) Topic[json.RawMessage] {
	return NewTopic[json.RawMessage](actionType)
}
