package propagation

import "time"

// Model names accepted by New and used as metric labels.
const (
	ModelSGP4   = "sgp4"
	ModelKepler = "kepler"
)

// State is one satellite's geodetic position at a single instant.
// It is derived on demand and never cached.
type State struct {
	NORADID     int
	Name        string
	Time        time.Time
	Lat         float64 // degrees, [-90, 90]
	Lon         float64 // degrees, (-180, 180]
	AltKm       float64
	VelocityKmh float64
}

// Config holds propagation configuration.
type Config struct {
	Workers int    // worker pool size (default: runtime.NumCPU())
	Model   string // sgp4 (with kepler fallback) or kepler
}
