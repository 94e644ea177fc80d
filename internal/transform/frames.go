package transform

import (
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
	"gonum.org/v1/gonum/spatial/r3"
)

// OmegaEarth is Earth's rotation rate in rad/s (IAU value).
const OmegaEarth = 7.292115146706979e-5

// IAU-82 GMST polynomial in seconds of time, T in Julian centuries of UT1
// from J2000.0 (Vallado Eq 3-47). The linear term folds in 876600 h.
const (
	j2000       = 2451545.0
	daysPerCent = 36525.0
	secondsDay  = 86400.0

	gmst0 = 67310.54841
	gmst1 = 876600*3600 + 8640184.812866
	gmst2 = 0.093104
	gmst3 = -6.2e-6
)

// Earth's rotation axis; TEME and ECEF share it.
var zAxis = r3.Vec{Z: 1}

// StateVector is a position (km) and velocity (km/s) in a Cartesian frame.
type StateVector struct {
	Pos r3.Vec
	Vel r3.Vec
}

// JulianDate converts a time.Time to Julian Date (UTC scale).
func JulianDate(t time.Time) float64 {
	return julian.TimeToJD(t.UTC())
}

// GMST returns Greenwich Mean Sidereal Time in radians, in [0, 2π).
func GMST(t time.Time) float64 {
	c := (JulianDate(t) - j2000) / daysPerCent
	sec := math.Mod(gmst0+c*(gmst1+c*(gmst2+c*gmst3)), secondsDay)
	if sec < 0 {
		sec += secondsDay
	}
	return sec / secondsDay * 2 * math.Pi
}

// TEMEToECEF rotates an SGP4 state into the Earth-fixed frame at t.
func TEMEToECEF(teme StateVector, t time.Time) StateVector {
	return TEMEToECEFWithGMST(teme, GMST(t))
}

// TEMEToECEFWithGMST is TEMEToECEF with a precomputed sidereal angle, for
// batches propagated to one instant.
//
//	r_ECEF = R3(θ) r_TEME
//	v_ECEF = R3(θ) v_TEME - ω × r_ECEF
//
// Polar motion and the equation of the equinoxes are ignored (tens of meters).
func TEMEToECEFWithGMST(teme StateVector, gmst float64) StateVector {
	rot := r3.NewRotation(-gmst, zAxis)
	pos := rot.Rotate(teme.Pos)
	omega := r3.Scale(OmegaEarth, zAxis)
	return StateVector{
		Pos: pos,
		Vel: r3.Sub(rot.Rotate(teme.Vel), r3.Cross(omega, pos)),
	}
}

// ValidECEF reports whether p is finite and between 6200 km and 50000 km from
// Earth's center, the band any tracked Earth orbiter occupies.
func ValidECEF(p r3.Vec) bool {
	for _, v := range []float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	r := r3.Norm(p)
	return r >= 6200 && r <= 50000
}
