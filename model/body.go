package model

// BodyID identifies a body in the scene (e.g. "earth", "iss").
type BodyID string

// NoBody is the empty BodyID, used wherever an id is optional.
const NoBody BodyID = ""

// BodyKind describes what sort of object a body is.
type BodyKind int

const (
	BodyKindUnknown BodyKind = iota
	BodyKindStar
	BodyKindPlanet
	BodyKindMoon
	BodyKindSatellite // TLE-based orbit propagation around a parent body
)

// String returns the lower-case name used in JSON tables.
func (k BodyKind) String() string {
	switch k {
	case BodyKindStar:
		return "star"
	case BodyKindPlanet:
		return "planet"
	case BodyKindMoon:
		return "moon"
	case BodyKindSatellite:
		return "satellite"
	default:
		return "unknown"
	}
}

// OrbitalElements holds the Keplerian elements of a heliocentric orbit at the
// J2000 epoch. Values are reference data and never mutated.
type OrbitalElements struct {
	A        float64 `json:"a"`        // semi-major axis (AU)
	E        float64 `json:"e"`        // eccentricity
	I        float64 `json:"i"`        // inclination (degrees)
	L        float64 `json:"L"`        // mean longitude at epoch (degrees)
	LongPeri float64 `json:"longPeri"` // longitude of perihelion (degrees)
	LongNode float64 `json:"longNode"` // longitude of ascending node (degrees)
	Period   float64 `json:"period"`   // orbital period (days)
}

// TLE is a NORAD two-line element set.
type TLE struct {
	Line1 string `json:"line1"`
	Line2 string `json:"line2"`
}

// Body is a scene object whose position the engine propagates.
// Bodies with neither Elements nor TLE stay where they are (the Sun).
type Body struct {
	ID       BodyID
	Name     string
	Kind     BodyKind
	ParentID BodyID // satellites are placed relative to their parent

	// Radius is the rendered radius in scene units. Satellites use the
	// parent's radius to derive their orbit shell.
	Radius float64

	Elements *OrbitalElements
	TLE      *TLE

	Position Vector3
}
