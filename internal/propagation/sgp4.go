package propagation

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/skytrack/internal/tle"
	"github.com/star/skytrack/internal/transform"
)

// SGP4 library choice: github.com/joshuaferrara/go-satellite
//
// Pure Go (no CGO), explicit TEME output, includes ECIToECEF for cross-validation.
//
// Note: Propagate() takes Satellite by value so SGP4 error codes are not visible
// to the caller. We detect propagation failures by checking output for NaN/Inf
// and unreasonable position magnitudes.

// Position magnitude bounds for a plausible Earth orbit (km from the center).
const (
	minOrbitRadiusKm = 6200.0
	maxOrbitRadiusKm = 50000.0
)

// sgp4Entry is an initialised satellite for one element record.
type sgp4Entry struct {
	epoch time.Time
	sat   satellite.Satellite
}

// SGP4 propagates element records with the SGP4 model. Each record is
// initialised once and reused until a record with a different epoch arrives
// for the same catalog number. Safe for concurrent use.
type SGP4 struct {
	mu    sync.RWMutex
	cache map[int]sgp4Entry
}

// NewSGP4 creates an SGP4 propagator with an empty initialisation cache.
func NewSGP4() *SGP4 {
	return &SGP4{cache: make(map[int]sgp4Entry)}
}

// Name implements Propagator.
func (s *SGP4) Name() string {
	return ModelSGP4
}

// Propagate computes the geodetic state of rec at t.
func (s *SGP4) Propagate(rec tle.ElementRecord, t time.Time) (State, error) {
	sat, err := s.satellite(rec)
	if err != nil {
		return State{}, err
	}

	t = t.UTC()
	pos, vel := satellite.Propagate(sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	// Propagate only takes whole seconds. Carry the remainder along the
	// velocity so the position matches the GMST used below.
	if frac := float64(t.Nanosecond()) / 1e9; frac > 0 {
		pos.X += vel.X * frac
		pos.Y += vel.Y * frac
		pos.Z += vel.Z * frac
	}

	for _, v := range []float64{pos.X, pos.Y, pos.Z, vel.X, vel.Y, vel.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return State{}, newError(ModelSGP4, rec.NORADID, ErrComputation, "output is NaN/Inf")
		}
	}

	mag := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	switch {
	case mag < minOrbitRadiusKm:
		return State{}, newError(ModelSGP4, rec.NORADID, ErrNoSolution, "position magnitude %.1f km", mag)
	case mag > maxOrbitRadiusKm:
		return State{}, newError(ModelSGP4, rec.NORADID, ErrComputation, "unreasonable position magnitude %.1f km", mag)
	}

	ecef := transform.TEMEToECEF(transform.StateVector{
		Pos: r3.Vec{X: pos.X, Y: pos.Y, Z: pos.Z},
		Vel: r3.Vec{X: vel.X, Y: vel.Y, Z: vel.Z},
	}, t)
	lat, lon, alt := transform.ECEFToGeodetic(ecef.Pos.X, ecef.Pos.Y, ecef.Pos.Z)

	speed := math.Sqrt(vel.X*vel.X + vel.Y*vel.Y + vel.Z*vel.Z)

	return State{
		NORADID:     rec.NORADID,
		Name:        rec.Name,
		Time:        t,
		Lat:         lat,
		Lon:         lon,
		AltKm:       alt,
		VelocityKmh: speed * 3600,
	}, nil
}

// satellite returns the initialised SGP4 satellite for rec, building it on first use.
func (s *SGP4) satellite(rec tle.ElementRecord) (satellite.Satellite, error) {
	s.mu.RLock()
	e, ok := s.cache[rec.NORADID]
	s.mu.RUnlock()
	if ok && e.epoch.Equal(rec.Epoch) {
		return e.sat, nil
	}

	// go-satellite calls log.Fatal on malformed input, so reject anything it
	// could choke on before handing the lines over.
	if err := tle.ValidateLines(rec.Line1, rec.Line2); err != nil {
		return satellite.Satellite{}, newError(ModelSGP4, rec.NORADID, ErrInputUnavailable, "%v", err)
	}
	if err := checkNumericColumns(rec.Line1, rec.Line2); err != nil {
		return satellite.Satellite{}, newError(ModelSGP4, rec.NORADID, ErrInputUnavailable, "%v", err)
	}

	sat := satellite.TLEToSat(rec.Line1, rec.Line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return satellite.Satellite{}, newError(ModelSGP4, rec.NORADID, ErrInputUnavailable, "init code=%d %s", sat.Error, sat.ErrorStr)
	}

	s.mu.Lock()
	s.cache[rec.NORADID] = sgp4Entry{epoch: rec.Epoch, sat: sat}
	s.mu.Unlock()
	return sat, nil
}

// Cached reports how many initialised satellites are held.
func (s *SGP4) Cached() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// numericColumns are the [start, end) ranges go-satellite parses as numbers.
var (
	line1NumericColumns = [][2]int{{2, 7}, {18, 32}, {33, 43}, {44, 52}, {53, 61}}
	line2NumericColumns = [][2]int{{8, 16}, {17, 25}, {26, 33}, {34, 42}, {43, 51}, {52, 63}}
)

func checkNumericColumns(line1, line2 string) error {
	check := func(line string, n int, cols [][2]int) error {
		for _, c := range cols {
			field := line[c[0]:c[1]]
			if strings.TrimSpace(field) == "" {
				return fmt.Errorf("line%d columns %d-%d are blank", n, c[0]+1, c[1])
			}
			if strings.Trim(field, " +-.0123456789") != "" {
				return fmt.Errorf("line%d columns %d-%d not numeric: %q", n, c[0]+1, c[1], field)
			}
		}
		return nil
	}
	if err := check(line1, 1, line1NumericColumns); err != nil {
		return err
	}
	return check(line2, 2, line2NumericColumns)
}
