package core

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/orrery/model"
)

const apolloJSON = `{
  "id": "apollo11",
  "title": "Apollo 11",
  "totalDuration": 12,
  "actions": [
    {"time": 0, "type": "SET_CAMERA", "payload": {"target": "earth"}},
    {"time": 4, "type": "SHOW_NARRATION", "payload": {"text": "Liftoff"}},
    {"time": 4, "type": "LOAD_MODEL", "payload": {"id": "saturnV"}},
    {"time": 11.5, "type": "DESTROY_MODEL", "payload": {"id": "saturnV"}}
  ]
}`

func TestLoadScenario_Valid(t *testing.T) {
	s, err := LoadScenario(strings.NewReader(apolloJSON))
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	if s.ID != "apollo11" || s.Title != "Apollo 11" || s.TotalDuration != 12 {
		t.Fatalf("unexpected header: %+v", s)
	}
	if len(s.Actions) != 4 {
		t.Fatalf("len(actions) = %d, want 4", len(s.Actions))
	}
	if s.Actions[1].Type != model.ActionShowNarration || string(s.Actions[1].Payload) != `{"text": "Liftoff"}` {
		t.Fatalf("payload should pass through untouched, got %s %s", s.Actions[1].Type, s.Actions[1].Payload)
	}
}

func TestLoadScenario_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing id":    `{"title":"x","totalDuration":1,"actions":[]}`,
		"zero duration": `{"id":"x","totalDuration":0,"actions":[]}`,
		"unsorted":      `{"id":"x","totalDuration":5,"actions":[{"time":2,"type":"A"},{"time":1,"type":"B"}]}`,
		"negative time": `{"id":"x","totalDuration":5,"actions":[{"time":-1,"type":"A"}]}`,
		"untyped":       `{"id":"x","totalDuration":5,"actions":[{"time":1}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadScenario(strings.NewReader(doc))
			if !errors.Is(err, ErrInvalidScenario) {
				t.Fatalf("err = %v, want ErrInvalidScenario", err)
			}
		})
	}

	if _, err := LoadScenario(strings.NewReader("{not json")); err == nil || errors.Is(err, ErrInvalidScenario) {
		t.Fatalf("decode failure should be reported as a decode error, got %v", err)
	}
}

func TestLoadScenarioDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("b.json", `{"id":"second","totalDuration":2,"actions":[]}`)
	write("a.json", apolloJSON)
	write("notes.txt", "ignored")

	scripts, err := LoadScenarioDir(dir)
	if err != nil {
		t.Fatalf("LoadScenarioDir: %v", err)
	}
	if len(scripts) != 2 || scripts[0].ID != "apollo11" || scripts[1].ID != "second" {
		t.Fatalf("unexpected scripts: %+v", scripts)
	}

	write("c.json", `{"id":"second","totalDuration":3,"actions":[]}`)
	if _, err := LoadScenarioDir(dir); !errors.Is(err, ErrInvalidScenario) {
		t.Fatalf("duplicate ids: err = %v, want ErrInvalidScenario", err)
	}
}

func TestLoadBodies(t *testing.T) {
	doc := `[
	  {"id":"sun","kind":"star","radius":10},
	  {"id":"earth","name":"Earth","kind":"planet","parent":"sun","radius":1.7,
	   "elements":{"a":1.00000261,"e":0.01671123,"i":0,"L":100.46,"longPeri":102.94,"longNode":0,"period":365.256}},
	  {"id":"beacon","kind":"probe","position":{"x":1,"y":2,"z":3}}
	]`
	bodies, err := LoadBodies(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadBodies: %v", err)
	}
	if len(bodies) != 3 {
		t.Fatalf("len(bodies) = %d, want 3", len(bodies))
	}
	if bodies[0].Kind != model.BodyKindStar || bodies[0].Name != "sun" {
		t.Fatalf("sun = %+v", bodies[0])
	}
	if bodies[1].ParentID != "sun" || bodies[1].Elements == nil || bodies[1].Elements.Period != 365.256 {
		t.Fatalf("earth = %+v", bodies[1])
	}
	if bodies[2].Kind != model.BodyKindUnknown || bodies[2].Position != (model.Vector3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("beacon = %+v", bodies[2])
	}
}

func TestLoadBodies_RejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"duplicate":  `[{"id":"a"},{"id":"a"}]`,
		"empty id":   `[{"name":"nameless"}]`,
		"bad orbit":  `[{"id":"a","elements":{"a":1,"e":1,"period":10}}]`,
		"not a list": `{"id":"a"}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadBodies(strings.NewReader(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
