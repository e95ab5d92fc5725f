package core

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/orrery/model"
)

// ParentFrame is the already-resolved position and size of a body's parent.
type ParentFrame struct {
	Position model.Vector3
	Radius   float64
}

// BodyPropagator computes a body's scene position at a simulated date.
type BodyPropagator interface {
	Propagate(date time.Time, parent ParentFrame) (model.Vector3, error)
}

// StaticMotion keeps a body at a fixed scene position.
type StaticMotion struct {
	Position model.Vector3
}

// Propagate returns the fixed position.
func (m StaticMotion) Propagate(time.Time, ParentFrame) (model.Vector3, error) {
	return m.Position, nil
}

// KeplerianMotion propagates heliocentric orbital elements relative to the
// parent (the Sun for planets).
type KeplerianMotion struct {
	Elements model.OrbitalElements
	Scale    float64
}

// Propagate places the body on its ellipse at date.
func (m KeplerianMotion) Propagate(date time.Time, parent ParentFrame) (model.Vector3, error) {
	pos, err := Position(m.Elements, date, m.Scale)
	if err != nil {
		return model.Vector3{}, err
	}
	return parent.Position.Add(pos), nil
}

// SatelliteMotion uses a TLE and SGP4 to place a satellite above its parent.
// go-satellite reports geodetic latitude/longitude; the sub-satellite point is
// projected onto a shell just outside the parent's rendered sphere.
type SatelliteMotion struct {
	sat satellite.Satellite
}

// NewSatelliteMotion parses the TLE lines. go-satellite panics on malformed
// numeric fields, so the panic is turned into an error here.
func NewSatelliteMotion(tle model.TLE) (m *SatelliteMotion, err error) {
	if tle.Line1 == "" || tle.Line2 == "" {
		return nil, errors.New("TLE lines must not be empty")
	}
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, fmt.Errorf("parse TLE: %v", r)
		}
	}()
	sat := satellite.TLEToSat(tle.Line1, tle.Line2, satellite.GravityWGS72)
	return &SatelliteMotion{sat: sat}, nil
}

// Propagate runs SGP4 at date and returns the position in the scene.
func (m *SatelliteMotion) Propagate(date time.Time, parent ParentFrame) (model.Vector3, error) {
	date = date.UTC()
	year, month, day := date.Date()
	hour, min, sec := date.Clock()

	posECI, _ := satellite.Propagate(m.sat, year, int(month), day, hour, min, sec)
	if math.IsNaN(posECI.X) || math.IsNaN(posECI.Y) || math.IsNaN(posECI.Z) {
		return model.Vector3{}, fmt.Errorf("sgp4 propagation failed at %s", date.Format(time.RFC3339))
	}
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	_, _, lla := satellite.ECIToLLA(posECI, gmst)

	radius := parent.Radius
	if radius <= 0 {
		radius = 1
	}
	offset := SphericalToScene(lla.Latitude, lla.Longitude, radius*SatelliteShellFactor)
	return parent.Position.Add(offset), nil
}

// NewBodyPropagator chooses the propagator for b: TLE bodies use SGP4,
// bodies with elements use Kepler, everything else is static.
func NewBodyPropagator(b model.Body, scale float64) (BodyPropagator, error) {
	switch {
	case b.TLE != nil:
		return NewSatelliteMotion(*b.TLE)
	case b.Elements != nil:
		if err := ValidateElements(*b.Elements); err != nil {
			return nil, err
		}
		return KeplerianMotion{Elements: *b.Elements, Scale: scale}, nil
	default:
		return StaticMotion{Position: b.Position}, nil
	}
}

// PositionUpdater receives the propagated position of every tracked body.
type PositionUpdater interface {
	UpdateBodyPosition(id model.BodyID, pos model.Vector3) error
}

type trackedBody struct {
	parent     model.BodyID
	radius     float64
	propagator BodyPropagator
}

// MotionModel propagates a set of bodies to a simulated date, resolving
// parents before children, and pushes the results to a PositionUpdater.
type MotionModel struct {
	mu sync.RWMutex

	scale     float64
	updater   PositionUpdater
	bodies    map[model.BodyID]*trackedBody
	order     []model.BodyID
	positions map[model.BodyID]model.Vector3
}

// MotionOption configures a MotionModel.
type MotionOption func(*MotionModel)

// WithPositionUpdater sets where propagated positions are written.
func WithPositionUpdater(u PositionUpdater) MotionOption {
	return func(m *MotionModel) { m.updater = u }
}

// WithScale overrides DefaultScale for Keplerian bodies.
func WithScale(scale float64) MotionOption {
	return func(m *MotionModel) {
		if scale > 0 {
			m.scale = scale
		}
	}
}

// NewMotionModel constructs an empty motion model.
func NewMotionModel(opts ...MotionOption) *MotionModel {
	m := &MotionModel{
		scale:     DefaultScale,
		bodies:    make(map[model.BodyID]*trackedBody),
		positions: make(map[model.BodyID]model.Vector3),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddBody starts tracking b. It fails on duplicate IDs, self-parenting, or
// when no propagator can be built for the body.
func (m *MotionModel) AddBody(b model.Body) error {
	if b.ID == model.NoBody {
		return errors.New("body id must not be empty")
	}
	if b.ParentID == b.ID {
		return fmt.Errorf("body %q cannot be its own parent", b.ID)
	}
	prop, err := NewBodyPropagator(b, m.scale)
	if err != nil {
		return fmt.Errorf("body %q: %w", b.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bodies[b.ID]; exists {
		return fmt.Errorf("body %q already tracked", b.ID)
	}
	m.bodies[b.ID] = &trackedBody{parent: b.ParentID, radius: b.Radius, propagator: prop}
	m.order = append(m.order, b.ID)
	m.positions[b.ID] = b.Position
	return nil
}

// RemoveBody stops tracking id.
func (m *MotionModel) RemoveBody(id model.BodyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bodies[id]; !ok {
		return fmt.Errorf("body %q not tracked", id)
	}
	delete(m.bodies, id)
	delete(m.positions, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Position returns the last propagated position of id.
func (m *MotionModel) Position(id model.BodyID) (model.Vector3, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[id]
	return pos, ok
}

// Positions returns a copy of every tracked body's last position.
func (m *MotionModel) Positions() map[model.BodyID]model.Vector3 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[model.BodyID]model.Vector3, len(m.positions))
	for id, pos := range m.positions {
		out[id] = pos
	}
	return out
}

// UpdatePositions propagates every body to date. A failing body keeps its
// previous position; the remaining bodies are still updated and all errors
// are returned joined.
func (m *MotionModel) UpdatePositions(date time.Time) error {
	m.mu.Lock()
	resolved := make(map[model.BodyID]model.Vector3, len(m.bodies))
	visiting := make(map[model.BodyID]bool)
	var errs []error

	var resolve func(id model.BodyID) (model.Vector3, error)
	resolve = func(id model.BodyID) (model.Vector3, error) {
		if pos, ok := resolved[id]; ok {
			return pos, nil
		}
		tb, ok := m.bodies[id]
		if !ok {
			return model.Vector3{}, fmt.Errorf("body %q not tracked", id)
		}
		if visiting[id] {
			return model.Vector3{}, fmt.Errorf("parent cycle at body %q", id)
		}
		visiting[id] = true
		defer delete(visiting, id)

		var frame ParentFrame
		if tb.parent != model.NoBody {
			ppos, err := resolve(tb.parent)
			if err != nil {
				return model.Vector3{}, fmt.Errorf("parent of %q: %w", id, err)
			}
			frame = ParentFrame{Position: ppos, Radius: m.bodies[tb.parent].radius}
		}
		pos, err := tb.propagator.Propagate(date, frame)
		if err != nil {
			return model.Vector3{}, err
		}
		resolved[id] = pos
		return pos, nil
	}

	updates := make([]model.BodyID, 0, len(m.order))
	for _, id := range m.order {
		if _, err := resolve(id); err != nil {
			errs = append(errs, fmt.Errorf("propagate %q: %w", id, err))
			continue
		}
		updates = append(updates, id)
	}
	for id, pos := range resolved {
		m.positions[id] = pos
	}
	updater := m.updater
	m.mu.Unlock()

	if updater != nil {
		for _, id := range updates {
			if err := updater.UpdateBodyPosition(id, resolved[id]); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
