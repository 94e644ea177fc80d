package source

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/star/skytrack/internal/transform"
)

// DefaultSyntheticCount is the size of the synthetic constellation.
const DefaultSyntheticCount = 12

// syntheticPeriod is the pseudo orbital period used to drift synthetic longitudes.
const syntheticPeriod = 90 * time.Minute

// Synthetic generates a clearly labelled placeholder constellation. Output is
// a pure function of the seed and the requested time. It is not a physical
// model and never stands in for propagation.
type Synthetic struct {
	seed  int64
	count int
}

// NewSynthetic creates a generator for count satellites. A non-positive count
// selects DefaultSyntheticCount.
func NewSynthetic(seed int64, count int) *Synthetic {
	if count <= 0 {
		count = DefaultSyntheticCount
	}
	return &Synthetic{seed: seed, count: count}
}

// Snapshot returns the synthetic constellation at now, tagged "fallback".
func (s *Synthetic) Snapshot(now time.Time) *Snapshot {
	rng := rand.New(rand.NewSource(s.seed))

	phase := float64(now.UnixNano()%int64(syntheticPeriod)) / float64(syntheticPeriod)
	drift := phase * 360

	positions := make([]Position, 0, s.count)
	for i := 0; i < s.count; i++ {
		lat := 45.0 + math.Mod(float64(i*15), 90) - 45 + (rng.Float64()-0.5)*10
		lng := -120.0 + math.Mod(float64(i*30), 360) + (rng.Float64()-0.5)*10 + drift

		hw := "v1.0"
		if i > 6 {
			hw = "v1.5"
		}
		positions = append(positions, Position{
			Name:            fmt.Sprintf("STARLINK-%d", 1000+i),
			NORADID:         44700 + i,
			Lat:             transform.ClampLatitude(lat),
			Lng:             transform.NormalizeLongitude(lng),
			AltitudeKm:      550.0 + float64(i%3)*10,
			VelocityKmh:     7.66 * 3600,
			Status:          "active",
			HardwareVersion: hw,
		})
	}

	snap := NewSnapshot(TagFallback, now, positions, len(positions), 0)
	snap.Note = "synthetic fallback data: all sources unavailable"
	return snap
}
