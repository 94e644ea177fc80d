// Command skydiag loads a TLE file, propagates it with both models and prints
// what an observer would see.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/star/skytrack/internal/propagation"
	"github.com/star/skytrack/internal/source"
	"github.com/star/skytrack/internal/tle"
	"github.com/star/skytrack/internal/transform"
	"github.com/star/skytrack/internal/visibility"
)

func main() {
	var (
		tlePath   string
		at        string
		latLon    []float64
		altKm     float64
		elevation float64
		limit     int
		verbose   bool
	)
	pflag.StringVarP(&tlePath, "tle", "f", "", "path to a 2LE/3LE file (required)")
	pflag.StringVarP(&at, "time", "t", "", "target time in RFC 3339 (default now)")
	pflag.Float64SliceVarP(&latLon, "latlon", "l", []float64{39.7392, -104.9903}, "observer lat,lon in degrees")
	pflag.Float64Var(&altKm, "alt", 1.609, "observer altitude in km")
	pflag.Float64VarP(&elevation, "elevation", "e", visibility.DefaultMinElevation, "minimum elevation in degrees")
	pflag.IntVarP(&limit, "limit", "n", 10, "satellites to print in the model comparison")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "log parser warnings")
	pflag.Lookup("verbose").NoOptDefVal = "true"
	pflag.Parse()

	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if tlePath == "" || len(latLon) != 2 {
		pflag.Usage()
		os.Exit(2)
	}

	target := time.Now().UTC()
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			fmt.Println("ERROR parsing --time:", err)
			os.Exit(1)
		}
		target = t.UTC()
	}

	data, err := os.ReadFile(tlePath)
	if err != nil {
		fmt.Println("ERROR reading TLE file:", err)
		os.Exit(1)
	}

	store := tle.NewStore(0, logger)
	n, err := store.IngestAt(data, target)
	if err != nil {
		fmt.Println("ERROR parsing TLE:", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d element records from %s\n", n, tlePath)
	fmt.Printf("Target time: %s (GMST %.4f rad)\n\n", target.Format(time.RFC3339), transform.GMST(target))

	pool := propagation.NewWorkerPool(0, logger)
	sgp4, _ := propagation.New(propagation.ModelSGP4)
	primary := propagation.NewEngine(store, sgp4, pool, logger)
	sgp4States, err := primary.PropagateAll(context.Background(), target, 0)
	if err != nil {
		fmt.Println("ERROR propagating:", err)
		os.Exit(1)
	}
	secondary := propagation.NewEngine(store, propagation.NewKepler(), pool, logger)
	keplerStates, _ := secondary.PropagateAll(context.Background(), target, 0)

	kepler := make(map[int]propagation.State, len(keplerStates))
	for _, st := range keplerStates {
		kepler[st.NORADID] = st
	}

	fmt.Printf("Model comparison, %s vs %s (%d of %d propagated):\n",
		primary.Model(), secondary.Model(), min(limit, len(sgp4States)), len(sgp4States))
	fmt.Printf("  %-24s %7s %9s %9s %8s %9s %8s\n", "NAME", "NORAD", "LAT", "LON", "ALT km", "AGE h", "DIFF km")
	for i, st := range sgp4States {
		if i >= limit {
			break
		}
		diff := "-"
		if k, ok := kepler[st.NORADID]; ok {
			diff = fmt.Sprintf("%.1f", r3.Norm(r3.Sub(ecef(st), ecef(k))))
		}
		age, _ := store.Age(st.NORADID, target)
		fmt.Printf("  %-24s %7d %9.4f %9.4f %8.1f %9.1f %8s\n",
			st.Name, st.NORADID, st.Lat, st.Lon, st.AltKm, age.Hours(), diff)
	}

	positions := make([]source.Position, len(sgp4States))
	for i, st := range sgp4States {
		positions[i] = source.FromState(st)
	}

	obs := visibility.Observer{Lat: latLon[0], Lon: latLon[1], AltKm: altKm}
	if err := obs.Validate(); err != nil {
		fmt.Println("ERROR observer:", err)
		os.Exit(1)
	}
	visible := visibility.NewCalculator().ComputeVisibility(obs, positions, elevation)

	fmt.Printf("\nVisible from %.4f,%.4f above %.1f deg: %d\n", obs.Lat, obs.Lon, elevation, len(visible))
	for _, v := range visible {
		fmt.Printf("  %-24s el=%5.1f az=%5.1f range=%7.1f km\n", v.Name, v.ElevationDeg, v.AzimuthDeg, v.RangeKm)
	}
	fmt.Printf("\nCoverage: %v\n", source.CoverageStats(positions))
}

func ecef(st propagation.State) r3.Vec {
	x, y, z := transform.GeodeticToECEF(st.Lat, st.Lon, st.AltKm)
	return r3.Vec{X: x, Y: y, Z: z}
}
