package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/signalsfoundry/orrery/model"
)

// ErrInvalidScenario is returned when a scenario script fails validation.
var ErrInvalidScenario = errors.New("invalid scenario")

// LoadScenario decodes and validates a scenario script from r.
func LoadScenario(r io.Reader) (*model.ScenarioScript, error) {
	var script model.ScenarioScript
	dec := json.NewDecoder(r)
	if err := dec.Decode(&script); err != nil {
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}
	if err := ValidateScenario(&script); err != nil {
		return nil, fmt.Errorf("LoadScenario: %w", err)
	}
	return &script, nil
}

// ValidateScenario checks the fields the player relies on. The player trusts
// action order, so unsorted scripts are rejected here rather than re-sorted.
func ValidateScenario(s *model.ScenarioScript) error {
	if s == nil {
		return fmt.Errorf("%w: nil script", ErrInvalidScenario)
	}
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidScenario)
	}
	if !(s.TotalDuration > 0) || math.IsInf(s.TotalDuration, 0) {
		return fmt.Errorf("%w: %s: totalDuration %g must be > 0", ErrInvalidScenario, s.ID, s.TotalDuration)
	}
	prev := 0.0
	for i, a := range s.Actions {
		if a.Type == "" {
			return fmt.Errorf("%w: %s: action %d has no type", ErrInvalidScenario, s.ID, i)
		}
		if a.Time < 0 || math.IsNaN(a.Time) || math.IsInf(a.Time, 0) {
			return fmt.Errorf("%w: %s: action %d time %g must be >= 0", ErrInvalidScenario, s.ID, i, a.Time)
		}
		if a.Time < prev {
			return fmt.Errorf("%w: %s: action %d at %gs precedes previous action at %gs", ErrInvalidScenario, s.ID, i, a.Time, prev)
		}
		prev = a.Time
	}
	return nil
}

// LoadScenarioFile reads a single scenario script from path.
func LoadScenarioFile(path string) (*model.ScenarioScript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	script, err := LoadScenario(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return script, nil
}

// LoadScenarioDir loads every *.json file in dir, sorted by file name. It
// fails fast on the first invalid file and on duplicate script IDs.
func LoadScenarioDir(dir string) ([]*model.ScenarioScript, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	seen := make(map[string]string, len(paths))
	scripts := make([]*model.ScenarioScript, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenarioFile(p)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("%w: id %q defined in both %s and %s", ErrInvalidScenario, s.ID, prev, p)
		}
		seen[s.ID] = p
		scripts = append(scripts, s)
	}
	return scripts, nil
}

// BodyRecord is one entry of a JSON body table.
type BodyRecord struct {
	ID       string                 `json:"id" jsonschema:"required"`
	Name     string                 `json:"name,omitempty"`
	Kind     string                 `json:"kind,omitempty" jsonschema:"enum=star,enum=planet,enum=moon,enum=satellite"`
	Parent   string                 `json:"parent,omitempty"`
	Radius   float64                `json:"radius" jsonschema:"minimum=0"`
	Elements *model.OrbitalElements `json:"elements,omitempty"`
	TLE      *model.TLE             `json:"tle,omitempty"`
	Position *model.Vector3         `json:"position,omitempty"`
}

// LoadBodies decodes a JSON array of bodies and validates their elements.
func LoadBodies(r io.Reader) ([]model.Body, error) {
	var payload []BodyRecord
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadBodies: decode failed: %w", err)
	}

	seen := make(map[string]struct{}, len(payload))
	bodies := make([]model.Body, 0, len(payload))
	for i, jb := range payload {
		if jb.ID == "" {
			return nil, fmt.Errorf("LoadBodies: body %d has empty id", i)
		}
		if _, dup := seen[jb.ID]; dup {
			return nil, fmt.Errorf("LoadBodies: duplicate body id %q", jb.ID)
		}
		seen[jb.ID] = struct{}{}
		if jb.Elements != nil {
			if err := ValidateElements(*jb.Elements); err != nil {
				return nil, fmt.Errorf("LoadBodies: body %q: %w", jb.ID, err)
			}
		}
		b := model.Body{
			ID:       model.BodyID(jb.ID),
			Name:     jb.Name,
			Kind:     kindFromString(jb.Kind),
			ParentID: model.BodyID(jb.Parent),
			Radius:   jb.Radius,
			Elements: jb.Elements,
			TLE:      jb.TLE,
		}
		if jb.Position != nil {
			b.Position = *jb.Position
		}
		if b.Name == "" {
			b.Name = jb.ID
		}
		bodies = append(bodies, b)
	}
	return bodies, nil
}

// LoadBodiesFile reads a body table from path.
func LoadBodiesFile(path string) ([]model.Body, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadBodies(f)
}

// kindFromString is tolerant: unknown values map to BodyKindUnknown, which
// the motion model treats like any other body.
func kindFromString(s string) model.BodyKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "star", "sun":
		return model.BodyKindStar
	case "planet":
		return model.BodyKindPlanet
	case "moon":
		return model.BodyKindMoon
	case "satellite", "spacecraft":
		return model.BodyKindSatellite
	default:
		return model.BodyKindUnknown
	}
}
