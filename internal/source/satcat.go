package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// satcatLimit is how many of the most recently launched objects a catalog
// query returns.
const satcatLimit = 100

// CatalogEntry is one row of the Space-Track satellite catalog (SATCAT).
type CatalogEntry struct {
	NORADID        int     `json:"norad_id"`
	Name           string  `json:"name"`
	LaunchDate     string  `json:"launch_date,omitempty"`
	Site           string  `json:"site,omitempty"`
	DecayDate      string  `json:"decay_date,omitempty"`
	PeriodMinutes  float64 `json:"period_minutes"`
	InclinationDeg float64 `json:"inclination_deg"`
	ApogeeKm       float64 `json:"apogee_km"`
	PerigeeKm      float64 `json:"perigee_km"`
}

// flexFloat decodes a JSON number, numeric string or null.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s: %w", b, err)
	}
	*f = flexFloat(v)
	return nil
}

// satcatRow mirrors the upper-case, string-typed SATCAT JSON.
type satcatRow struct {
	NORADID     flexInt   `json:"NORAD_CAT_ID"`
	Name        string    `json:"OBJECT_NAME"`
	Launch      string    `json:"LAUNCH"`
	Site        string    `json:"SITE"`
	Decay       *string   `json:"DECAY"`
	Period      flexFloat `json:"PERIOD"`
	Inclination flexFloat `json:"INCLINATION"`
	Apogee      flexFloat `json:"APOGEE"`
	Perigee     flexFloat `json:"PERIGEE"`
}

type satcatCache struct {
	entries   []CatalogEntry
	fetchedAt time.Time
}

func (s *SpaceTrack) satcatURL() string {
	return fmt.Sprintf("%s/basicspacedata/query/class/satcat/OBJECT_NAME/~~STARLINK/CURRENT/Y/orderby/LAUNCH%%20desc/limit/%d/format/json",
		s.cfg.BaseURL, satcatLimit)
}

// Catalog returns SATCAT details for the most recently launched Starlink
// objects. Results are reused for the provider TTL. Without credentials it
// fails with ErrConfiguration and makes no network call.
func (s *SpaceTrack) Catalog(ctx context.Context) ([]CatalogEntry, error) {
	if !s.Configured() {
		return nil, unavailable(s.name, ErrConfiguration)
	}

	s.satcatMu.Lock()
	defer s.satcatMu.Unlock()

	now := s.now()
	if c := s.satcat; c != nil && now.Sub(c.fetchedAt) < s.cfg.TTL {
		return c.entries, nil
	}

	body, err := s.query(ctx, s.satcatURL())
	if err != nil {
		return nil, unavailable(s.name, err)
	}
	var rows []satcatRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, unavailablef(s.name, "decoding satcat: %w", err)
	}

	entries := make([]CatalogEntry, 0, len(rows))
	for _, r := range rows {
		e := CatalogEntry{
			NORADID:        int(r.NORADID),
			Name:           strings.TrimSpace(r.Name),
			LaunchDate:     r.Launch,
			Site:           r.Site,
			PeriodMinutes:  float64(r.Period),
			InclinationDeg: float64(r.Inclination),
			ApogeeKm:       float64(r.Apogee),
			PerigeeKm:      float64(r.Perigee),
		}
		if r.Decay != nil {
			e.DecayDate = *r.Decay
		}
		entries = append(entries, e)
	}

	s.satcat = &satcatCache{entries: entries, fetchedAt: now}
	s.logger.Info("space-track catalog fetched", "entries", len(entries))
	return entries, nil
}
