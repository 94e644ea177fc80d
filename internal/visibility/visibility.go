// Package visibility computes look angles from a ground observer to the
// satellites of a snapshot and filters them by elevation mask.
package visibility

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/skytrack/internal/source"
	"github.com/star/skytrack/internal/transform"
)

// DefaultMinElevation is the elevation mask used when a caller supplies none.
const DefaultMinElevation = 10.0

// degenerateKm is the range below which look angles are undefined.
const degenerateKm = 1e-9

const (
	deg2rad = math.Pi / 180.0
	rad2deg = 180.0 / math.Pi
)

// Observer is a ground location in geodetic degrees and km above the ellipsoid.
type Observer struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	AltKm float64 `json:"alt_km"`
}

// Validate checks the observer's coordinates are usable.
func (o Observer) Validate() error {
	switch {
	case math.IsNaN(o.Lat) || o.Lat < -90 || o.Lat > 90:
		return fmt.Errorf("latitude %v out of range [-90, 90]", o.Lat)
	case math.IsNaN(o.Lon) || o.Lon < -180 || o.Lon > 180:
		return fmt.Errorf("longitude %v out of range [-180, 180]", o.Lon)
	case math.IsNaN(o.AltKm) || o.AltKm < -1 || o.AltKm > 100:
		return fmt.Errorf("altitude %v km out of range [-1, 100]", o.AltKm)
	}
	return nil
}

// LookAngles holds azimuth, elevation and range from observer to satellite.
type LookAngles struct {
	AzimuthDeg   float64 `json:"azimuth"`   // 0 = North, clockwise
	ElevationDeg float64 `json:"elevation"` // 0 = horizon, 90 = zenith
	RangeKm      float64 `json:"range_km"`
}

// VisibleSatellite is a snapshot position annotated with its look angles.
type VisibleSatellite struct {
	source.Position
	LookAngles
}

// Calculator computes visibility. It holds no mutable state and is safe for
// concurrent use.
type Calculator struct{}

// NewCalculator returns a Calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// observerFrame caches the observer's ECEF position and local up vector.
type observerFrame struct {
	obs Observer
	pos r3.Vec
	up  r3.Vec
}

func newObserverFrame(obs Observer) observerFrame {
	x, y, z := transform.GeodeticToECEF(obs.Lat, obs.Lon, obs.AltKm)
	lat := obs.Lat * deg2rad
	lon := obs.Lon * deg2rad
	return observerFrame{
		obs: obs,
		pos: r3.Vec{X: x, Y: y, Z: z},
		// Ellipsoid normal at the observer.
		up: r3.Vec{
			X: math.Cos(lat) * math.Cos(lon),
			Y: math.Cos(lat) * math.Sin(lon),
			Z: math.Sin(lat),
		},
	}
}

func (f observerFrame) lookAngles(p source.Position) LookAngles {
	x, y, z := transform.GeodeticToECEF(p.Lat, p.Lng, p.AltitudeKm)
	rng := r3.Sub(r3.Vec{X: x, Y: y, Z: z}, f.pos)
	dist := r3.Norm(rng)
	if dist < degenerateKm {
		return LookAngles{}
	}

	sinEl := r3.Dot(r3.Scale(1/dist, rng), f.up)
	return LookAngles{
		AzimuthDeg:   bearing(f.obs.Lat, f.obs.Lon, p.Lat, p.Lng),
		ElevationDeg: math.Asin(clamp(sinEl, -1, 1)) * rad2deg,
		RangeKm:      dist,
	}
}

// LookAngles computes azimuth, elevation and range to a single position.
func (c *Calculator) LookAngles(obs Observer, p source.Position) LookAngles {
	return newObserverFrame(obs).lookAngles(p)
}

// ComputeVisibility returns the positions at or above minElevation degrees,
// highest first. Equal elevations keep their input order.
func (c *Calculator) ComputeVisibility(obs Observer, positions []source.Position, minElevation float64) []VisibleSatellite {
	frame := newObserverFrame(obs)

	visible := make([]VisibleSatellite, 0, len(positions))
	for _, p := range positions {
		la := frame.lookAngles(p)
		// NaN elevations fail this comparison and are dropped.
		if !(la.ElevationDeg >= minElevation) {
			continue
		}
		visible = append(visible, VisibleSatellite{Position: p, LookAngles: la})
	}

	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].ElevationDeg > visible[j].ElevationDeg
	})
	return visible
}

// bearing is the initial great-circle bearing from (lat1, lon1) to (lat2, lon2)
// in degrees [0, 360). Coincident and antipodal points yield 0.
func bearing(lat1, lon1, lat2, lon2 float64) float64 {
	φ1 := lat1 * deg2rad
	φ2 := lat2 * deg2rad
	Δλ := (lon2 - lon1) * deg2rad

	y := math.Sin(Δλ) * math.Cos(φ2)
	x := math.Cos(φ1)*math.Sin(φ2) - math.Sin(φ1)*math.Cos(φ2)*math.Cos(Δλ)
	if math.Abs(x) < 1e-12 && math.Abs(y) < 1e-12 {
		return 0
	}

	az := math.Atan2(y, x) * rad2deg
	if az < 0 {
		az += 360
	}
	if az >= 360 {
		az -= 360
	}
	return az
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
