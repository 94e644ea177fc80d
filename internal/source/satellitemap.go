package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/star/skytrack/internal/observability"
	"github.com/star/skytrack/internal/propagation"
	"github.com/star/skytrack/internal/tle"
)

// SatelliteMap defaults.
const (
	DefaultSatelliteMapURL   = "https://api2.satellitemap.space"
	DefaultSatelliteMapLimit = 100

	satelliteMapMaxBody = 10 << 20
)

var errSessionRejected = errors.New("session key rejected")

// SatelliteMapConfig configures the primary network feed.
type SatelliteMapConfig struct {
	BaseURL       string
	Constellation string // default "starlink"
	Limit         int
}

// SatelliteMap is the primary live feed. It obtains an anonymous session key,
// then lists active satellites. Entries that carry a position are used as-is;
// entries that carry element lines are propagated; the rest are counted but
// not positioned.
type SatelliteMap struct {
	cfg    SatelliteMapConfig
	client *http.Client
	prop   propagation.Propagator
	logger *slog.Logger

	mu  sync.Mutex
	key string
}

// NewSatelliteMap creates the primary feed provider.
func NewSatelliteMap(cfg SatelliteMapConfig, prop propagation.Propagator, logger *slog.Logger) *SatelliteMap {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSatelliteMapURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Constellation == "" {
		cfg.Constellation = "starlink"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultSatelliteMapLimit
	}
	return &SatelliteMap{
		cfg:    cfg,
		client: observability.NewHTTPClient(10 * time.Second),
		prop:   prop,
		logger: logger.With("provider", "satellitemap"),
	}
}

// Name implements Provider.
func (s *SatelliteMap) Name() string {
	return "satellitemap"
}

// satelliteMapEntry is one row of the satellite listing. Position fields are
// optional; alt is km and velocity km/s.
type satelliteMapEntry struct {
	NORADID         int      `json:"norad_id"`
	Name            string   `json:"name"`
	Status          string   `json:"status"`
	HardwareVersion string   `json:"hardware_version"`
	Lat             *float64 `json:"lat"`
	Lng             *float64 `json:"lng"`
	Alt             *float64 `json:"alt"`
	Velocity        *float64 `json:"velocity"`
	Line1           string   `json:"tle_line1"`
	Line2           string   `json:"tle_line2"`
}

// Fetch implements Provider.
func (s *SatelliteMap) Fetch(ctx context.Context, now time.Time) (*Snapshot, error) {
	key, err := s.sessionKey(ctx)
	if err != nil {
		return nil, unavailable(s.Name(), err)
	}

	entries, err := s.list(ctx, key)
	if errors.Is(err, errSessionRejected) {
		s.dropKey(key)
	}
	if err != nil {
		return nil, unavailable(s.Name(), err)
	}

	positions := make([]Position, 0, len(entries))
	var propagated, unpositioned int
	for _, e := range entries {
		if p, ok := e.position(); ok {
			positions = append(positions, p)
			continue
		}
		if e.Line1 != "" && e.Line2 != "" {
			if p, ok := s.propagate(e, now); ok {
				positions = append(positions, p)
				propagated++
				continue
			}
		}
		unpositioned++
	}

	s.logger.Debug("satellite listing processed",
		"entries", len(entries),
		"positioned", len(positions),
		"propagated", propagated,
		"unpositioned", unpositioned,
	)

	return NewSnapshot(TagSatelliteMap, now, positions, len(entries), 0), nil
}

func (e satelliteMapEntry) position() (Position, bool) {
	if e.Lat == nil || e.Lng == nil {
		return Position{}, false
	}
	p := Position{
		Name:            e.Name,
		NORADID:         e.NORADID,
		Lat:             *e.Lat,
		Lng:             *e.Lng,
		Status:          e.Status,
		HardwareVersion: e.HardwareVersion,
	}
	if e.Alt != nil {
		p.AltitudeKm = *e.Alt
	}
	if e.Velocity != nil {
		p.VelocityKmh = *e.Velocity * 3600
	}
	return p, true
}

func (s *SatelliteMap) propagate(e satelliteMapEntry, now time.Time) (Position, bool) {
	raw := e.Name + "\n" + e.Line1 + "\n" + e.Line2 + "\n"
	recs, err := tle.Parse(strings.NewReader(raw), now, s.logger)
	if err != nil || len(recs) != 1 {
		return Position{}, false
	}
	st, err := s.prop.Propagate(recs[0], now)
	if err != nil {
		s.logger.Debug("listing entry propagation failed", "norad_id", e.NORADID, "error", err)
		return Position{}, false
	}
	p := FromState(st)
	p.Status = e.Status
	p.HardwareVersion = e.HardwareVersion
	return p, true
}

// sessionKey returns the cached session key, creating one on first use.
func (s *SatelliteMap) sessionKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != "" {
		return s.key, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/api/keys/session", nil)
	if err != nil {
		return "", fmt.Errorf("creating session request: %w", err)
	}
	body, err := s.do(req)
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}

	var out struct {
		Success bool `json:"success"`
		Data    struct {
			Key string `json:"key"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decoding session response: %w", err)
	}
	if !out.Success || out.Data.Key == "" {
		return "", errors.New("session request was not successful")
	}

	s.key = out.Data.Key
	s.logger.Info("satellitemap session created")
	return s.key, nil
}

func (s *SatelliteMap) dropKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == key {
		s.key = ""
	}
}

func (s *SatelliteMap) list(ctx context.Context, key string) ([]satelliteMapEntry, error) {
	q := url.Values{
		"key":           {key},
		"constellation": {s.cfg.Constellation},
		"limit":         {strconv.Itoa(s.cfg.Limit)},
		"status":        {"active"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/satellites?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating listing request: %w", err)
	}
	body, err := s.do(req)
	if err != nil {
		return nil, err
	}
	return decodeSatelliteMapListing(body)
}

// decodeSatelliteMapListing accepts either a bare array or {"data": [...]}.
func decodeSatelliteMapListing(body []byte) ([]satelliteMapEntry, error) {
	body = bytes.TrimSpace(body)
	var entries []satelliteMapEntry
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, fmt.Errorf("decoding listing: %w", err)
		}
		return entries, nil
	}

	var wrapped struct {
		Data []satelliteMapEntry `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding listing: %w", err)
	}
	return wrapped.Data, nil
}

func (s *SatelliteMap) do(req *http.Request) ([]byte, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", errSessionRejected, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, req.URL.Path)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, satelliteMapMaxBody))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}
