package core

import (
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/orrery/model"
)

type capturingUpdater struct {
	positions map[model.BodyID]model.Vector3
	calls     map[model.BodyID]int
}

func (c *capturingUpdater) UpdateBodyPosition(id model.BodyID, pos model.Vector3) error {
	if c.positions == nil {
		c.positions = make(map[model.BodyID]model.Vector3)
	}
	if c.calls == nil {
		c.calls = make(map[model.BodyID]int)
	}
	c.positions[id] = pos
	c.calls[id]++
	return nil
}

func (c *capturingUpdater) snapshot(id model.BodyID) (model.Vector3, int) {
	return c.positions[id], c.calls[id]
}

func TestStaticMotion_NoChange(t *testing.T) {
	m := StaticMotion{Position: model.Vector3{X: 1, Y: 2, Z: 3}}

	t1 := time.Now().UTC()
	got, err := m.Propagate(t1, ParentFrame{})
	if err != nil || got != (model.Vector3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("Propagate = %+v, %v; want fixed position", got, err)
	}
	got, _ = m.Propagate(t1.Add(time.Hour), ParentFrame{Position: model.Vector3{X: 100}})
	if got != (model.Vector3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("static motion should ignore time and parent, got %+v", got)
	}
}

// Exact orbital values belong to go-satellite; only the shell radius and
// motion over time are asserted here.
func TestSatelliteMotion_StaysOnShellAndMoves(t *testing.T) {
	m, err := NewSatelliteMotion(ISSTLE)
	if err != nil {
		t.Fatalf("NewSatelliteMotion: %v", err)
	}
	parent := ParentFrame{Position: model.Vector3{X: 50, Y: 0, Z: -20}, Radius: 2}

	t1 := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)
	first, err := m.Propagate(t1, parent)
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	second, err := m.Propagate(t1.Add(5*time.Minute), parent)
	if err != nil {
		t.Fatalf("Propagate: %v", err)
	}
	if first == second {
		t.Fatalf("expected satellite to move, got %+v at both times", first)
	}
	want := 2 * SatelliteShellFactor
	for _, p := range []model.Vector3{first, second} {
		if r := p.DistanceTo(parent.Position); r < want-1e-9 || r > want+1e-9 {
			t.Fatalf("distance from parent = %v, want %v", r, want)
		}
	}
}

func TestNewSatelliteMotion_RejectsEmptyTLE(t *testing.T) {
	if _, err := NewSatelliteMotion(model.TLE{Line1: ISSTLE.Line1}); err == nil {
		t.Fatalf("expected error for missing line 2")
	}
}

func TestMotionModel_AddUpdateAndRemove(t *testing.T) {
	updater := &capturingUpdater{}
	mm := NewMotionModel(WithPositionUpdater(updater))

	for _, b := range DefaultBodies() {
		if err := mm.AddBody(b); err != nil {
			t.Fatalf("AddBody(%s): %v", b.ID, err)
		}
	}
	if err := mm.AddBody(model.Body{ID: "earth"}); err == nil {
		t.Fatalf("expected duplicate AddBody error")
	}

	t1 := time.Date(2021, 10, 2, 0, 0, 0, 0, time.UTC)
	if err := mm.UpdatePositions(t1); err != nil {
		t.Fatalf("UpdatePositions first tick: %v", err)
	}
	firstEarth, earthCalls := updater.snapshot("earth")
	firstSun, sunCalls := updater.snapshot("sun")
	firstISS, _ := updater.snapshot("iss")

	if d := firstISS.DistanceTo(firstEarth); d < 1.7 || d > 1.9 {
		t.Fatalf("ISS should orbit just above Earth, distance %v", d)
	}

	t2 := t1.Add(24 * time.Hour)
	if err := mm.UpdatePositions(t2); err != nil {
		t.Fatalf("UpdatePositions second tick: %v", err)
	}
	secondEarth, earthCalls2 := updater.snapshot("earth")
	secondSun, sunCalls2 := updater.snapshot("sun")
	if earthCalls2 <= earthCalls {
		t.Fatalf("expected earth to be updated again, calls %d -> %d", earthCalls, earthCalls2)
	}
	if firstEarth == secondEarth {
		t.Fatalf("expected earth to move after a day, got %+v", secondEarth)
	}
	if firstSun != secondSun || sunCalls2 <= sunCalls {
		t.Fatalf("sun should be re-published at the same place, got %+v (calls %d -> %d)", secondSun, sunCalls, sunCalls2)
	}
	if pos, ok := mm.Position("earth"); !ok || pos != secondEarth {
		t.Fatalf("Position(earth) = %+v, %v; want %+v", pos, ok, secondEarth)
	}

	if err := mm.RemoveBody("mars"); err != nil {
		t.Fatalf("RemoveBody: %v", err)
	}
	_, marsCalls := updater.snapshot("mars")
	if err := mm.UpdatePositions(t2.Add(time.Hour)); err != nil {
		t.Fatalf("UpdatePositions after removal: %v", err)
	}
	if _, marsCalls2 := updater.snapshot("mars"); marsCalls2 != marsCalls {
		t.Fatalf("removed body should not be updated, calls %d -> %d", marsCalls, marsCalls2)
	}
	if err := mm.RemoveBody("mars"); err == nil {
		t.Fatalf("expected error removing an untracked body")
	}
}

func TestMotionModel_ChildBeforeParentStillResolves(t *testing.T) {
	mm := NewMotionModel()
	tle := ISSTLE
	el := DefaultElements["earth"]
	if err := mm.AddBody(model.Body{ID: "iss", ParentID: "earth", TLE: &tle}); err != nil {
		t.Fatalf("AddBody iss: %v", err)
	}
	if err := mm.AddBody(model.Body{ID: "earth", Radius: 1, Elements: &el}); err != nil {
		t.Fatalf("AddBody earth: %v", err)
	}
	if err := mm.UpdatePositions(time.Date(2021, 10, 3, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("UpdatePositions: %v", err)
	}
	earth, _ := mm.Position("earth")
	iss, _ := mm.Position("iss")
	if d := iss.DistanceTo(earth); d < 1 || d > 1.1 {
		t.Fatalf("iss distance from earth = %v, want ~%v", d, SatelliteShellFactor)
	}
}

func TestMotionModel_MissingParentReportsErrorAndContinues(t *testing.T) {
	updater := &capturingUpdater{}
	mm := NewMotionModel(WithPositionUpdater(updater))
	tle := ISSTLE
	if err := mm.AddBody(model.Body{ID: "orphan", ParentID: "nowhere", TLE: &tle}); err != nil {
		t.Fatalf("AddBody: %v", err)
	}
	if err := mm.AddBody(model.Body{ID: "rock", Position: model.Vector3{X: 3}}); err != nil {
		t.Fatalf("AddBody: %v", err)
	}
	err := mm.UpdatePositions(J2000)
	if err == nil || !strings.Contains(err.Error(), "orphan") {
		t.Fatalf("err = %v, want error naming the orphan", err)
	}
	if _, calls := updater.snapshot("rock"); calls != 1 {
		t.Fatalf("rock updated %d times, want 1", calls)
	}
}

func TestMotionModel_RejectsInvalidElements(t *testing.T) {
	mm := NewMotionModel()
	el := model.OrbitalElements{A: 1, E: 1.2, Period: 10}
	if err := mm.AddBody(model.Body{ID: "comet", Elements: &el}); err == nil {
		t.Fatalf("expected invalid elements to be rejected")
	}
	if err := mm.AddBody(model.Body{ID: "loop", ParentID: "loop"}); err == nil {
		t.Fatalf("expected self-parented body to be rejected")
	}
}
