package core

import (
	"math"

	"github.com/signalsfoundry/orrery/model"
)

// SatelliteShellFactor places low-orbit satellites just above their parent
// sphere (ISS at ~6779 km over a 6371 km Earth).
const SatelliteShellFactor = 1.064

// EclipticToScene maps heliocentric ecliptic coordinates onto scene axes.
// The ecliptic plane becomes X-Z and the ecliptic north pole points along +Y.
func EclipticToScene(x, y, z float64) model.Vector3 {
	return model.Vector3{X: x, Y: z, Z: y}
}

// SphericalToScene converts a latitude/longitude pair (radians) on a sphere
// of the given radius into a scene offset from the sphere's centre.
func SphericalToScene(lat, lon, radius float64) model.Vector3 {
	return model.Vector3{
		X: radius * math.Cos(lat) * math.Cos(lon),
		Y: radius * math.Sin(lat),
		Z: radius * math.Cos(lat) * math.Sin(lon),
	}
}
