package tle

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Parse decodes 3LE text (name line, line 1, line 2) into element records.
// Blank lines are ignored. A bad triplet is logged and skipped, so only a read
// failure is an error. Epochs more than MaxEpochLead past now are rejected;
// a zero now disables that check.
func Parse(r io.Reader, now time.Time, logger *slog.Logger) ([]ElementRecord, error) {
	lines, err := nonBlankLines(r)
	if err != nil {
		return nil, err
	}

	var records []ElementRecord
	for i := 0; i+2 < len(lines); {
		// 3LE output from authenticated catalogs prefixes the name line with "0 ".
		name := strings.TrimSpace(strings.TrimPrefix(lines[i], "0 "))
		line1 := lines[i+1]
		line2 := lines[i+2]

		// Not aligned on a triplet: resync one line at a time.
		if !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
			logger.Warn("skipping malformed TLE entry", "line_index", i, "name", name)
			i++
			continue
		}

		rec, err := parseRecord(name, line1, line2, now)
		if err != nil {
			logger.Warn("skipping invalid TLE entry", "name", name, "error", err)
			i += 3
			continue
		}
		records = append(records, rec)
		i += 3
	}

	return records, nil
}

func nonBlankLines(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	var lines []string
	for sc.Scan() {
		if line := strings.TrimRight(sc.Text(), "\r "); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read element text: %w", err)
	}
	return lines, nil
}

// parseRecord validates one triplet and extracts its orbital elements.
func parseRecord(name, line1, line2 string, now time.Time) (ElementRecord, error) {
	if err := ValidateLines(line1, line2); err != nil {
		return ElementRecord{}, err
	}

	noradStr := strings.TrimSpace(line1[2:7])
	noradID, err := strconv.Atoi(noradStr)
	if err != nil {
		return ElementRecord{}, fmt.Errorf("invalid NORAD ID %q: %w", noradStr, err)
	}

	epoch, err := parseEpoch(strings.TrimSpace(line1[18:32]))
	if err != nil {
		return ElementRecord{}, err
	}
	if !now.IsZero() && epoch.After(now.Add(MaxEpochLead)) {
		return ElementRecord{}, fmt.Errorf("epoch %s is ahead of acquisition time %s", epoch.Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}

	rec := ElementRecord{
		NORADID: noradID,
		Name:    name,
		Epoch:   epoch,
		Line1:   line1,
		Line2:   line2,
	}

	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"inclination", line2[8:16], &rec.Inclination},
		{"raan", line2[17:25], &rec.RAAN},
		{"eccentricity", "0." + strings.TrimSpace(line2[26:33]), &rec.Eccentricity},
		{"arg_perigee", line2[34:42], &rec.ArgPerigee},
		{"mean_anomaly", line2[43:51], &rec.MeanAnomaly},
		{"mean_motion", line2[52:63], &rec.MeanMotion},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f.raw), 64)
		if err != nil {
			return ElementRecord{}, fmt.Errorf("invalid %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = v
	}
	if rec.MeanMotion <= 0 {
		return ElementRecord{}, fmt.Errorf("non-positive mean motion %f", rec.MeanMotion)
	}

	return rec, nil
}

// ValidateLines checks the fixed-width layout of a TLE line pair.
// go-satellite calls log.Fatal on malformed input, so SGP4 callers must run this first.
func ValidateLines(line1, line2 string) error {
	if len(line1) != LineLength {
		return fmt.Errorf("line1 length %d, expected %d", len(line1), LineLength)
	}
	if len(line2) != LineLength {
		return fmt.Errorf("line2 length %d, expected %d", len(line2), LineLength)
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}

// parseEpoch converts the YYDDD.DDDDDDDD epoch field to UTC. Two-digit
// years 57-99 are 19xx and 00-56 are 20xx; day 1.0 is midnight on January 1.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch %q too short", s)
	}
	yy, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("epoch year %q: %w", s[:2], err)
	}
	day, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("epoch day %q: %w", s[2:], err)
	}
	if day < 1 || day >= 367 {
		return time.Time{}, fmt.Errorf("epoch day %f out of range", day)
	}

	year := 2000 + yy
	if yy >= 57 {
		year = 1900 + yy
	}
	frac := time.Duration((day - 1) * float64(24*time.Hour))
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).Add(frac), nil
}
