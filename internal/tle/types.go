package tle

import (
	"errors"
	"time"
)

// MaxEpochLead is how far an element epoch may sit in the future relative to
// the acquisition time before the record is rejected.
const MaxEpochLead = 6 * time.Hour

// LineLength is the fixed width of both TLE data lines.
const LineLength = 69

// ErrNoRecords is returned by Store.Ingest when the input held no acceptable triplet.
var ErrNoRecords = errors.New("no valid element records")

// ElementRecord is one satellite's parsed two-line element set.
// Records are immutable once parsed; a newer ingest supersedes them.
type ElementRecord struct {
	NORADID int
	Name    string
	Epoch   time.Time // UTC

	Inclination  float64 // degrees
	RAAN         float64 // right ascension of the ascending node, degrees
	Eccentricity float64 // dimensionless, 0 <= e < 1
	ArgPerigee   float64 // degrees
	MeanAnomaly  float64 // degrees
	MeanMotion   float64 // revolutions per day

	Line1 string
	Line2 string
}

// EpochRange represents the minimum and maximum epoch times in a dataset.
type EpochRange struct {
	Min time.Time
	Max time.Time
}

// Dataset is the complete working set produced by one successful ingest.
type Dataset struct {
	FetchedAt  time.Time
	EpochRange EpochRange
	Records    []ElementRecord
	byID       map[int]int // NORAD ID -> index into Records
}

func newDataset(records []ElementRecord, fetchedAt time.Time) *Dataset {
	ds := &Dataset{
		FetchedAt: fetchedAt,
		Records:   records,
		byID:      make(map[int]int, len(records)),
	}
	for i, r := range records {
		// Later duplicates win: they are the newer record for that catalog number.
		ds.byID[r.NORADID] = i
		if ds.EpochRange.Min.IsZero() || r.Epoch.Before(ds.EpochRange.Min) {
			ds.EpochRange.Min = r.Epoch
		}
		if r.Epoch.After(ds.EpochRange.Max) {
			ds.EpochRange.Max = r.Epoch
		}
	}
	return ds
}

// Lookup returns the record for a catalog number.
func (ds *Dataset) Lookup(noradID int) (ElementRecord, bool) {
	i, ok := ds.byID[noradID]
	if !ok {
		return ElementRecord{}, false
	}
	return ds.Records[i], true
}
