package core

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/orrery/model"
)

// DefaultScale converts astronomical units to scene units.
const DefaultScale = 100.0

// keplerIterations is the fixed number of fixed-point steps used to solve
// Kepler's equation. Accuracy degrades at high eccentricity; that is fine for
// visualisation and the cost per body stays constant.
const keplerIterations = 10

const msPerDay = 86400000.0

// J2000 is the reference epoch of the element tables (2000-01-01T12:00:00Z).
var J2000 = time.Date(2000, time.January, 1, 12, 0, 0, 0, time.UTC)

// ErrInvalidElements is returned when orbital elements cannot describe a
// closed orbit.
var ErrInvalidElements = errors.New("invalid orbital elements")

// ValidateElements checks that elements describe a bound elliptical orbit.
func ValidateElements(el model.OrbitalElements) error {
	for name, v := range map[string]float64{
		"a": el.A, "e": el.E, "i": el.I, "L": el.L,
		"longPeri": el.LongPeri, "longNode": el.LongNode, "period": el.Period,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidElements, name)
		}
	}
	if el.Period <= 0 {
		return fmt.Errorf("%w: period %g must be > 0", ErrInvalidElements, el.Period)
	}
	if el.E < 0 || el.E >= 1 {
		return fmt.Errorf("%w: eccentricity %g outside [0,1)", ErrInvalidElements, el.E)
	}
	if el.A <= 0 {
		return fmt.Errorf("%w: semi-major axis %g must be > 0", ErrInvalidElements, el.A)
	}
	return nil
}

// Position propagates el to date and returns the heliocentric position in
// scene units (AU multiplied by scale).
func Position(el model.OrbitalElements, date time.Time, scale float64) (model.Vector3, error) {
	if err := ValidateElements(el); err != nil {
		return model.Vector3{}, err
	}
	return positionAt(el, DaysSinceJ2000(date), scale), nil
}

// DaysSinceJ2000 returns the fractional days between J2000 and date. It
// works on Unix milliseconds so dates centuries away from the epoch keep
// their full range.
func DaysSinceJ2000(date time.Time) float64 {
	return float64(date.UnixMilli()-J2000.UnixMilli()) / msPerDay
}

func positionAt(el model.OrbitalElements, daysSinceEpoch, scale float64) model.Vector3 {
	n := 360.0 / el.Period
	M := normalizeDegrees(el.L + n*daysSinceEpoch - el.LongPeri)
	mRad := degToRad(M)

	E := mRad
	for range keplerIterations {
		E = mRad + el.E*math.Sin(E)
	}

	v := 2 * math.Atan2(
		math.Sqrt(1+el.E)*math.Sin(E/2),
		math.Sqrt(1-el.E)*math.Cos(E/2),
	)
	r := el.A * (1 - el.E*math.Cos(E))

	xOrb := r * math.Cos(v)
	yOrb := r * math.Sin(v)

	omega := degToRad(el.LongPeri - el.LongNode)
	node := degToRad(el.LongNode)
	incl := degToRad(el.I)

	// argument of perihelion, in the orbital plane
	x1 := xOrb*math.Cos(omega) - yOrb*math.Sin(omega)
	y1 := xOrb*math.Sin(omega) + yOrb*math.Cos(omega)

	// inclination splits y1 into an in-ecliptic and an out-of-plane part
	inPlane := y1 * math.Cos(incl)
	outOfPlane := y1 * math.Sin(incl)

	// longitude of the ascending node, in the ecliptic
	xEcl := x1*math.Cos(node) - inPlane*math.Sin(node)
	yEcl := x1*math.Sin(node) + inPlane*math.Cos(node)
	zEcl := outOfPlane

	return EclipticToScene(xEcl, yEcl, zEcl).Scale(scale)
}

// OrbitPath samples one full period of el starting at J2000 and returns
// segments+1 points, the last coinciding with the first.
func OrbitPath(el model.OrbitalElements, segments int, scale float64) ([]model.Vector3, error) {
	if err := ValidateElements(el); err != nil {
		return nil, err
	}
	if segments <= 0 {
		segments = DefaultOrbitSegments
	}
	points := make([]model.Vector3, 0, segments+1)
	for i := 0; i <= segments; i++ {
		days := float64(i) / float64(segments) * el.Period
		points = append(points, positionAt(el, days, scale))
	}
	return points, nil
}

// DefaultOrbitSegments is the number of segments used for orbit lines.
const DefaultOrbitSegments = 256

func degToRad(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// normalizeDegrees maps an angle into [0, 360).
func normalizeDegrees(angle float64) float64 {
	angle = math.Mod(angle, 360.0)
	if angle < 0 {
		angle += 360.0
	}
	return angle
}
