// Package state holds the single canonical application state and broadcasts
// every write on the event bus as "state:<field>".
package state

import (
	"time"

	"github.com/signalsfoundry/orrery/internal/bus"
	"github.com/signalsfoundry/orrery/model"
)

// DefaultTimeScale is one simulated day per real second.
const DefaultTimeScale = 86400.0

// AppState is the canonical interaction and display state.
type AppState struct {
	CurrentDate    time.Time    `json:"currentDate"`
	SelectedBodyID model.BodyID `json:"selectedBody"`
	HoveredBodyID  model.BodyID `json:"hoveredBody"`
	IsPlaying      bool         `json:"isPlaying"`
	TimeScale      float64      `json:"timeScale"` // simulated seconds per real second; negative rewinds
	CameraTargetID model.BodyID `json:"cameraTarget"`

	ShowOrbits bool `json:"showOrbits"`
	ShowLabels bool `json:"showLabels"`
	ShowEvents bool `json:"showEvents"`
}

// DefaultAppState returns the initial state: playing at one day per second
// with orbits and events shown.
func DefaultAppState(now time.Time) AppState {
	return AppState{
		CurrentDate: now,
		IsPlaying:   true,
		TimeScale:   DefaultTimeScale,
		ShowOrbits:  true,
		ShowLabels:  false,
		ShowEvents:  true,
	}
}

// Change is the payload of every state:<field> topic.
type Change[T any] struct {
	OldValue T `json:"oldValue"`
	NewValue T `json:"newValue"`
}

// Key names one AppState field and its type.
type Key[T any] struct {
	name string
	get  func(*AppState) T
	set  func(*AppState, T)
}

// Name returns the field name used in the topic.
func (k Key[T]) Name() string { return k.name }

// Topic returns the bus topic announcing changes to this field.
func (k Key[T]) Topic() bus.Topic[Change[T]] {
	return bus.NewTopic[Change[T]]("state:" + k.name)
}

var (
	CurrentDate = Key[time.Time]{"currentDate",
		func(s *AppState) time.Time { return s.CurrentDate },
		func(s *AppState, v time.Time) { s.CurrentDate = v }}
	SelectedBodyID = Key[model.BodyID]{"selectedBody",
		func(s *AppState) model.BodyID { return s.SelectedBodyID },
		func(s *AppState, v model.BodyID) { s.SelectedBodyID = v }}
	HoveredBodyID = Key[model.BodyID]{"hoveredBody",
		func(s *AppState) model.BodyID { return s.HoveredBodyID },
		func(s *AppState, v model.BodyID) { s.HoveredBodyID = v }}
	IsPlaying = Key[bool]{"isPlaying",
		func(s *AppState) bool { return s.IsPlaying },
		func(s *AppState, v bool) { s.IsPlaying = v }}
	TimeScale = Key[float64]{"timeScale",
		func(s *AppState) float64 { return s.TimeScale },
		func(s *AppState, v float64) { s.TimeScale = v }}
	CameraTargetID = Key[model.BodyID]{"cameraTarget",
		func(s *AppState) model.BodyID { return s.CameraTargetID },
		func(s *AppState, v model.BodyID) { s.CameraTargetID = v }}
	ShowOrbits = Key[bool]{"showOrbits",
		func(s *AppState) bool { return s.ShowOrbits },
		func(s *AppState, v bool) { s.ShowOrbits = v }}
	ShowLabels = Key[bool]{"showLabels",
		func(s *AppState) bool { return s.ShowLabels },
		func(s *AppState, v bool) { s.ShowLabels = v }}
	ShowEvents = Key[bool]{"showEvents",
		func(s *AppState) bool { return s.ShowEvents },
		func(s *AppState, v bool) { s.ShowEvents = v }}
)

// Store owns an AppState. Like the bus it is confined to the engine
// goroutine and takes no locks.
type Store struct {
	state AppState
	bus   *bus.Bus
}

// NewStore constructs a store with initial state publishing on b.
func NewStore(b *bus.Bus, initial AppState) *Store {
	return &Store{state: initial, bus: b}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() AppState {
	return s.state
}

// Get reads one field.
func Get[T any](s *Store, k Key[T]) T {
	return k.get(&s.state)
}

// Set writes one field and always emits state:<field>, even when the value
// is unchanged. The new value is committed before subscribers run.
func Set[T any](s *Store, k Key[T], v T) {
	old := k.get(&s.state)
	k.set(&s.state, v)
	if s.bus != nil {
		bus.Publish(s.bus, k.Topic(), Change[T]{OldValue: old, NewValue: v})
	}
}

// OnChange subscribes fn to changes of one field.
func OnChange[T any](s *Store, k Key[T], fn func(Change[T])) bus.Subscription {
	return bus.Subscribe(s.bus, k.Topic(), fn)
}

func (s *Store) SetCurrentDate(t time.Time)         { Set(s, CurrentDate, t) }
func (s *Store) SelectBody(id model.BodyID)         { Set(s, SelectedBodyID, id) }
func (s *Store) HoverBody(id model.BodyID)          { Set(s, HoveredBodyID, id) }
func (s *Store) SetPlaying(playing bool)            { Set(s, IsPlaying, playing) }
func (s *Store) TogglePlay()                        { Set(s, IsPlaying, !s.state.IsPlaying) }
func (s *Store) SetTimeScale(scale float64)         { Set(s, TimeScale, scale) }
func (s *Store) SetCameraTarget(id model.BodyID)    { Set(s, CameraTargetID, id) }
func (s *Store) SetShowOrbits(show bool)            { Set(s, ShowOrbits, show) }
func (s *Store) SetShowLabels(show bool)            { Set(s, ShowLabels, show) }
func (s *Store) SetShowEvents(show bool)            { Set(s, ShowEvents, show) }
