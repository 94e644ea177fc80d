package source

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/star/skytrack/internal/propagation"
)

// Data source tags reported in Snapshot.DataSource.
const (
	TagSatelliteMap = "satellitemap_enhanced"
	TagAviationEdge = "aviation_edge_premium"
	TagSpaceTrack   = "spacetrack_sgp4"
	TagCelesTrak    = "celestrak_tle"
	TagFallback     = "fallback"
)

// Position is one satellite's location inside a snapshot.
type Position struct {
	Name            string  `json:"name"`
	NORADID         int     `json:"norad_id"`
	Lat             float64 `json:"lat"`
	Lng             float64 `json:"lng"`
	AltitudeKm      float64 `json:"altitude_km"`
	VelocityKmh     float64 `json:"velocity_kmh"`
	Status          string  `json:"status,omitempty"`
	HardwareVersion string  `json:"hardware_version,omitempty"`
}

// Snapshot is a timestamped view of the constellation produced by one provider.
// Snapshots are shared read-only once built; a refresh replaces them whole.
type Snapshot struct {
	ID                  string             `json:"snapshot_id"`
	Timestamp           time.Time          `json:"timestamp"`
	SatelliteCount      int                `json:"satellite_count"`
	PositionsCalculated int                `json:"positions_calculated"`
	Positions           []Position         `json:"positions"`
	DataSource          string             `json:"data_source"`
	TLEAgeHours         float64            `json:"tle_age_hours"`
	Coverage            map[string]float64 `json:"coverage,omitempty"`
	Note                string             `json:"note,omitempty"`
}

// NewSnapshot builds a snapshot with a fresh ID and coverage statistics.
// satelliteCount is the number of satellites the source knows about, which may
// exceed len(positions).
func NewSnapshot(dataSource string, now time.Time, positions []Position, satelliteCount int, tleAgeHours float64) *Snapshot {
	if satelliteCount < len(positions) {
		satelliteCount = len(positions)
	}
	return &Snapshot{
		ID:                  uuid.NewString(),
		Timestamp:           now.UTC(),
		SatelliteCount:      satelliteCount,
		PositionsCalculated: len(positions),
		Positions:           positions,
		DataSource:          dataSource,
		TLEAgeHours:         math.Round(tleAgeHours*100) / 100,
		Coverage:            CoverageStats(positions),
	}
}

// Empty reports whether the snapshot has no usable positions.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Positions) == 0
}

// Lookup returns the position of a satellite by catalog number.
func (s *Snapshot) Lookup(noradID int) (Position, bool) {
	if s == nil {
		return Position{}, false
	}
	for _, p := range s.Positions {
		if p.NORADID == noradID {
			return p, true
		}
	}
	return Position{}, false
}

// FromState converts a propagated state into a snapshot position.
func FromState(st propagation.State) Position {
	return Position{
		Name:        st.Name,
		NORADID:     st.NORADID,
		Lat:         st.Lat,
		Lng:         st.Lon,
		AltitudeKm:  st.AltKm,
		VelocityKmh: st.VelocityKmh,
	}
}

// CoverageStats is a rough coverage estimate: ten active satellites count as
// full global coverage. Positions without a status are counted as active.
func CoverageStats(positions []Position) map[string]float64 {
	if len(positions) == 0 {
		return map[string]float64{"global_coverage": 0, "active_satellites": 0, "total_tracked": 0}
	}
	var active int
	for _, p := range positions {
		if p.Status == "" || p.Status == "active" {
			active++
		}
	}
	return map[string]float64{
		"global_coverage":   math.Min(100, float64(active)/10*100),
		"active_satellites": float64(active),
		"total_tracked":     float64(len(positions)),
	}
}
