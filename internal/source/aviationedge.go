package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/star/skytrack/internal/observability"
)

// Aviation Edge defaults.
const (
	DefaultAviationEdgeURL = "https://aviation-edge.com/v2/public"

	aviationEdgeMaxBody = 10 << 20

	// Used when a row omits altitude or speed.
	aviationEdgeDefaultAltKm    = 550.0
	aviationEdgeDefaultVelocity = 7.66 // km/s
)

// AviationEdgeConfig configures the premium positioned feed.
type AviationEdgeConfig struct {
	BaseURL string
	APIKey  string
}

// AviationEdge is the premium feed; it reports positions directly and needs an API key.
type AviationEdge struct {
	cfg    AviationEdgeConfig
	client *http.Client
	logger *slog.Logger
}

// NewAviationEdge creates the premium feed provider. Without an API key the
// provider is permanently unavailable with ErrConfiguration.
func NewAviationEdge(cfg AviationEdgeConfig, logger *slog.Logger) *AviationEdge {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAviationEdgeURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &AviationEdge{
		cfg:    cfg,
		client: observability.NewHTTPClient(10 * time.Second),
		logger: logger.With("provider", "aviation_edge"),
	}
}

// Name implements Provider.
func (a *AviationEdge) Name() string {
	return "aviation_edge"
}

// flexInt decodes a JSON number or numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid integer %s: %w", b, err)
	}
	*f = flexInt(n)
	return nil
}

type aviationEdgeRow struct {
	NORADID       flexInt  `json:"noradID"`
	SatelliteName string   `json:"satelliteName"`
	Lat           *float64 `json:"lat"`
	Lng           *float64 `json:"lng"`
	Alt           *float64 `json:"alt"`
	Velocity      *float64 `json:"velocity"`
}

// Fetch implements Provider.
func (a *AviationEdge) Fetch(ctx context.Context, now time.Time) (*Snapshot, error) {
	if a.cfg.APIKey == "" {
		return nil, unavailable(a.Name(), ErrConfiguration)
	}

	q := url.Values{
		"key":            {a.cfg.APIKey},
		"satellite_name": {"starlink"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/satelliteDatabase?"+q.Encode(), nil)
	if err != nil {
		return nil, unavailablef(a.Name(), "creating request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, unavailable(a.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unavailablef(a.Name(), "unexpected status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, aviationEdgeMaxBody))
	if err != nil {
		return nil, unavailablef(a.Name(), "reading response body: %w", err)
	}

	// Errors come back as an object with status 200.
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		return nil, unavailablef(a.Name(), "unexpected response: %.200s", body)
	}

	var rows []aviationEdgeRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, unavailablef(a.Name(), "decoding response: %w", err)
	}

	positions := make([]Position, 0, len(rows))
	var matched int
	for _, r := range rows {
		if !strings.Contains(strings.ToLower(r.SatelliteName), "starlink") {
			continue
		}
		matched++
		if r.Lat == nil || r.Lng == nil {
			continue
		}
		alt, vel := aviationEdgeDefaultAltKm, aviationEdgeDefaultVelocity
		if r.Alt != nil {
			alt = *r.Alt
		}
		if r.Velocity != nil {
			vel = *r.Velocity
		}
		positions = append(positions, Position{
			Name:        r.SatelliteName,
			NORADID:     int(r.NORADID),
			Lat:         *r.Lat,
			Lng:         *r.Lng,
			AltitudeKm:  alt,
			VelocityKmh: vel * 3600,
			Status:      "active",
		})
	}

	a.logger.Debug("aviation edge rows processed", "rows", len(rows), "matched", matched, "positioned", len(positions))

	return NewSnapshot(TagAviationEdge, now, positions, matched, 0), nil
}
