package propagation

import (
	"math"
	"time"

	"github.com/star/skytrack/internal/tle"
	"github.com/star/skytrack/internal/transform"
)

// muEarth is Earth's gravitational parameter in km^3/s^2.
const muEarth = 398600.4418

// Kepler is a two-body approximation driven only by the mean elements.
//
// Mean anomaly advances linearly from epoch and Kepler's equation gets a single
// first-order correction (E = M + e sin M). The orbital-plane point is placed on
// the sphere through the inclination and RAAN only: no nodal precession, no
// rotation by argument of perigee, and inertial longitude is reported as-is.
// Output is illustrative, good for "plausible latitude/longitude" and nothing
// finer.
type Kepler struct{}

// NewKepler returns the approximate propagator.
func NewKepler() Kepler {
	return Kepler{}
}

// Name implements Propagator.
func (Kepler) Name() string {
	return ModelKepler
}

// Propagate computes an approximate geodetic state of rec at t.
func (Kepler) Propagate(rec tle.ElementRecord, t time.Time) (State, error) {
	if rec.MeanMotion <= 0 {
		return State{}, newError(ModelKepler, rec.NORADID, ErrInputUnavailable, "mean motion %.8f", rec.MeanMotion)
	}
	e := rec.Eccentricity
	if e < 0 || e >= 1 {
		return State{}, newError(ModelKepler, rec.NORADID, ErrInputUnavailable, "eccentricity %.7f", e)
	}

	elapsedDays := t.Sub(rec.Epoch).Hours() / 24
	meanAnomalyDeg := math.Mod(rec.MeanAnomaly+rec.MeanMotion*elapsedDays*360, 360)

	// Kepler's third law from mean motion in rad/s.
	n := rec.MeanMotion * 2 * math.Pi / 86400
	a := math.Cbrt(muEarth / (n * n))

	m := meanAnomalyDeg * math.Pi / 180
	ecc := m + e*math.Sin(m)

	nu := 2 * math.Atan2(
		math.Sqrt(1+e)*math.Sin(ecc/2),
		math.Sqrt(1-e)*math.Cos(ecc/2),
	)
	r := a * (1 - e*math.Cos(ecc))

	if r < minOrbitRadiusKm {
		return State{}, newError(ModelKepler, rec.NORADID, ErrNoSolution, "orbit radius %.1f km", r)
	}

	inc := rec.Inclination * math.Pi / 180
	raan := rec.RAAN * math.Pi / 180

	latC := math.Asin(clamp(math.Sin(inc)*math.Sin(nu), -1, 1))
	lon := raan + math.Atan2(math.Cos(inc)*math.Sin(nu), math.Cos(nu))

	x := r * math.Cos(latC) * math.Cos(lon)
	y := r * math.Cos(latC) * math.Sin(lon)
	z := r * math.Sin(latC)
	lat, lonDeg, alt := transform.ECEFToGeodetic(x, y, z)

	if math.IsNaN(lat) || math.IsNaN(lonDeg) || math.IsNaN(alt) {
		return State{}, newError(ModelKepler, rec.NORADID, ErrComputation, "output is NaN")
	}

	return State{
		NORADID:     rec.NORADID,
		Name:        rec.Name,
		Time:        t.UTC(),
		Lat:         lat,
		Lon:         lonDeg,
		AltKm:       alt,
		VelocityKmh: math.Sqrt(muEarth/r) * 3600,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
