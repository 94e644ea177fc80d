package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/star/skytrack/internal/observability"
	"github.com/star/skytrack/internal/propagation"
)

// Space-Track defaults.
const (
	DefaultSpaceTrackURL   = "https://www.space-track.org"
	DefaultSpaceTrackTTL   = 30 * time.Minute
	DefaultSpaceTrackLimit = 500

	spaceTrackSessionTTL = time.Hour
	spaceTrackMaxBody    = 50 << 20
)

var errSpaceTrackAuth = errors.New("space-track authentication failed")

// SpaceTrackConfig configures the authoritative catalog provider.
type SpaceTrackConfig struct {
	BaseURL      string
	Username     string
	Password     string
	Limit        int // newest catalog entries to request
	TTL          time.Duration
	CacheDir     string
	MaxPositions int
}

// SpaceTrack serves the authenticated Space-Track catalog, propagated locally.
// The login cookie is reused for an hour before logging in again.
type SpaceTrack struct {
	*catalog
	cfg    SpaceTrackConfig
	client *http.Client

	mu         sync.Mutex
	loggedInAt time.Time
	now        func() time.Time

	satcatMu sync.Mutex
	satcat   *satcatCache
}

// NewSpaceTrack creates the authoritative catalog provider. Missing credentials
// leave it permanently unavailable with ErrConfiguration.
func NewSpaceTrack(cfg SpaceTrackConfig, prop propagation.Propagator, pool *propagation.WorkerPool, logger *slog.Logger) *SpaceTrack {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSpaceTrackURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultSpaceTrackLimit
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSpaceTrackTTL
	}

	// cookiejar.New only fails on a bad PublicSuffixList option.
	jar, _ := cookiejar.New(nil)

	client := observability.NewHTTPClient(30 * time.Second)
	client.Jar = jar

	s := &SpaceTrack{
		cfg:    cfg,
		client: client,
		now:    time.Now,
	}
	s.catalog = newCatalog("spacetrack", TagSpaceTrack, cfg.TTL, cfg.CacheDir, cfg.MaxPositions,
		prop, pool, logger, s.fetchElements)
	return s
}

// Name implements Provider.
func (s *SpaceTrack) Name() string {
	return s.name
}

// Configured reports whether credentials are present.
func (s *SpaceTrack) Configured() bool {
	return s.cfg.Username != "" && s.cfg.Password != ""
}

// Fetch implements Provider.
func (s *SpaceTrack) Fetch(ctx context.Context, now time.Time) (*Snapshot, error) {
	if !s.Configured() {
		return nil, unavailable(s.name, ErrConfiguration)
	}
	return s.snapshot(ctx, now)
}

func (s *SpaceTrack) queryURL() string {
	return fmt.Sprintf("%s/basicspacedata/query/class/tle_latest/ORDINAL/1/OBJECT_NAME/~~STARLINK/orderby/NORAD_CAT_ID%%20desc/limit/%d/format/3le",
		s.cfg.BaseURL, s.cfg.Limit)
}

// fetchElements returns raw three-line element text.
func (s *SpaceTrack) fetchElements(ctx context.Context) ([]byte, error) {
	return s.query(ctx, s.queryURL())
}

// query GETs u inside a login session, logging in first when the session is
// missing or older than an hour. A 401 forces one re-login.
func (s *SpaceTrack) query(ctx context.Context, u string) ([]byte, error) {
	if err := s.ensureSession(ctx, false); err != nil {
		return nil, err
	}

	body, status, err := s.get(ctx, u)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		s.logger.Info("space-track session rejected, logging in again")
		if err := s.ensureSession(ctx, true); err != nil {
			return nil, err
		}
		body, status, err = s.get(ctx, u)
		if err != nil {
			return nil, err
		}
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("space-track query returned status %d", status)
	}
	return body, nil
}

func (s *SpaceTrack) ensureSession(ctx context.Context, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !force && !s.loggedInAt.IsZero() && s.now().Sub(s.loggedInAt) < spaceTrackSessionTTL {
		return nil
	}

	form := url.Values{
		"identity": {s.cfg.Username},
		"password": {s.cfg.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/ajaxauth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("space-track login: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", errSpaceTrackAuth, resp.StatusCode)
	}
	// A rejected login still answers 200 with {"Login":"Failed"}.
	if bytes.Contains(body, []byte(`"Failed"`)) {
		return fmt.Errorf("%w: credentials rejected", errSpaceTrackAuth)
	}

	s.loggedInAt = s.now()
	s.logger.Info("space-track login succeeded")
	return nil
}

func (s *SpaceTrack) get(ctx context.Context, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("space-track query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, spaceTrackMaxBody+1))
	if err != nil {
		return nil, 0, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > spaceTrackMaxBody {
		return nil, 0, fmt.Errorf("space-track response exceeds %d byte limit", spaceTrackMaxBody)
	}
	return body, resp.StatusCode, nil
}
