package core

import "github.com/signalsfoundry/orrery/model"

// DefaultElements holds J2000 Keplerian elements for the eight planets.
var DefaultElements = map[model.BodyID]model.OrbitalElements{
	"mercury": {A: 0.38709927, E: 0.20563593, I: 7.00497902, L: 252.25032350, LongPeri: 77.45779628, LongNode: 48.33076593, Period: 87.969},
	"venus":   {A: 0.72333566, E: 0.00677672, I: 3.39467605, L: 181.97909950, LongPeri: 131.60246718, LongNode: 76.67984255, Period: 224.701},
	"earth":   {A: 1.00000261, E: 0.01671123, I: -0.00001531, L: 100.46457166, LongPeri: 102.93768193, LongNode: 0.0, Period: 365.256},
	"mars":    {A: 1.52371034, E: 0.09339410, I: 1.84969142, L: -4.55343205, LongPeri: -23.94362959, LongNode: 49.55953891, Period: 686.980},
	"jupiter": {A: 5.20288700, E: 0.04838624, I: 1.30439695, L: 34.39644051, LongPeri: 14.72847983, LongNode: 100.47390909, Period: 4332.589},
	"saturn":  {A: 9.53667594, E: 0.05386179, I: 2.48599187, L: 49.95424423, LongPeri: 92.59887831, LongNode: 113.66242448, Period: 10759.22},
	"uranus":  {A: 19.18916464, E: 0.04725744, I: 0.77263783, L: 313.23810451, LongPeri: 170.95427630, LongNode: 74.01692503, Period: 30688.5},
	"neptune": {A: 30.06992276, E: 0.00859048, I: 1.77004347, L: -55.12002969, LongPeri: 44.96476227, LongNode: 131.78422574, Period: 60182.0},
}

// ISSTLE is a reference two-line element set for the International Space
// Station (epoch 2021-10-02).
var ISSTLE = model.TLE{
	Line1: "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990",
	Line2: "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760",
}

type planetSpec struct {
	id     model.BodyID
	name   string
	radius float64
}

// Rendered radii in scene units; not to scale with the orbits.
var defaultPlanets = []planetSpec{
	{"mercury", "Mercury", 0.8},
	{"venus", "Venus", 1.6},
	{"earth", "Earth", 1.7},
	{"mars", "Mars", 1.2},
	{"jupiter", "Jupiter", 5.0},
	{"saturn", "Saturn", 4.3},
	{"uranus", "Uranus", 2.8},
	{"neptune", "Neptune", 2.7},
}

// DefaultBodies returns a fresh copy of the reference solar system: the Sun
// at the origin, the eight planets, and the ISS orbiting Earth.
func DefaultBodies() []model.Body {
	bodies := make([]model.Body, 0, len(defaultPlanets)+2)
	bodies = append(bodies, model.Body{ID: "sun", Name: "Sun", Kind: model.BodyKindStar, Radius: 10})
	for _, p := range defaultPlanets {
		el := DefaultElements[p.id]
		bodies = append(bodies, model.Body{
			ID:       p.id,
			Name:     p.name,
			Kind:     model.BodyKindPlanet,
			ParentID: "sun",
			Radius:   p.radius,
			Elements: &el,
		})
	}
	tle := ISSTLE
	bodies = append(bodies, model.Body{
		ID:       "iss",
		Name:     "International Space Station",
		Kind:     model.BodyKindSatellite,
		ParentID: "earth",
		Radius:   0.03,
		TLE:      &tle,
	})
	return bodies
}
