// Package config loads skytrack configuration from flags, an optional config
// file and SKYTRACK_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/star/skytrack/internal/auth"
	"github.com/star/skytrack/internal/monitor"
	"github.com/star/skytrack/internal/observability"
	"github.com/star/skytrack/internal/propagation"
	"github.com/star/skytrack/internal/resolver"
	"github.com/star/skytrack/internal/source"
	"github.com/star/skytrack/internal/stream"
	"github.com/star/skytrack/internal/tle"
)

// EnvPrefix is prepended to every environment variable, e.g.
// SKYTRACK_RESOLVER_TTL for resolver.ttl.
const EnvPrefix = "SKYTRACK"

// Provider names accepted in the providers list.
const (
	ProviderSatelliteMap = "satellitemap"
	ProviderAviationEdge = "aviation_edge"
	ProviderSpaceTrack   = "spacetrack"
	ProviderCelesTrak    = "celestrak"
)

// DefaultProviders is the resolver's provider order, most live source first.
var DefaultProviders = []string{
	ProviderSatelliteMap,
	ProviderAviationEdge,
	ProviderSpaceTrack,
	ProviderCelesTrak,
}

// Config is the fully resolved process configuration.
type Config struct {
	HTTPAddr  string
	LogLevel  slog.Level
	LogFormat string // json | text

	Auth        auth.Config
	Propagation propagation.Config
	Providers   []string

	CelesTrak    source.CelesTrakConfig
	SpaceTrack   source.SpaceTrackConfig
	SatelliteMap source.SatelliteMapConfig
	AviationEdge source.AviationEdgeConfig

	Resolver         resolver.Config
	Monitor          monitor.Config
	MonitorAutostart bool
	Stream           stream.Config
	Tracing          observability.TracingConfig
}

// Load parses args (without the program name) and resolves the configuration.
// Malformed optional values log a warning and keep their default; a missing
// auth token or an unreadable config file is an error.
func Load(args []string, logger *slog.Logger) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fs := pflag.NewFlagSet("skytrack", pflag.ContinueOnError)
	configFile := fs.StringP("config", "c", "", "path to a YAML, TOML or JSON config file")
	fs.String("http-addr", ":8080", "HTTP listen address")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "json", "log format (json, text)")
	fs.StringSlice("providers", DefaultProviders, "provider order for the resolver")
	fs.Bool("autostart", false, "start the refresh loop on boot")
	fs.Lookup("autostart").NoOptDefVal = "true"
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	for key, flag := range map[string]string{
		"http_addr":         "http-addr",
		"log.level":         "log-level",
		"log.format":        "log-format",
		"providers":         "providers",
		"monitor.autostart": "autostart",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", *configFile, err)
		}
		logger.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	l := loader{v: v, logger: logger}
	cfg := &Config{
		HTTPAddr:  v.GetString("http_addr"),
		LogLevel:  l.level("log.level"),
		LogFormat: l.oneOf("log.format", "json", "text"),
	}

	var err error
	if cfg.Auth, err = l.auth(); err != nil {
		return nil, err
	}

	cfg.Propagation = propagation.Config{
		Workers: l.positiveInt("propagation.workers"),
		Model:   l.oneOf("propagation.model", propagation.ModelSGP4, propagation.ModelKepler),
	}
	cfg.Providers = l.providers()

	cacheDir := v.GetString("tle.cache_dir")
	cfg.CelesTrak = source.CelesTrakConfig{
		URL:          v.GetString("celestrak.url"),
		ExtraURLs:    l.stringList("celestrak.extra_urls"),
		TTL:          l.duration("celestrak.ttl"),
		CacheDir:     cacheDir,
		MaxPositions: l.positiveInt("tle.max_positions"),
	}
	cfg.SpaceTrack = source.SpaceTrackConfig{
		BaseURL:      v.GetString("spacetrack.url"),
		Username:     v.GetString("spacetrack.username"),
		Password:     v.GetString("spacetrack.password"),
		Limit:        l.positiveInt("spacetrack.limit"),
		TTL:          l.duration("spacetrack.ttl"),
		CacheDir:     cacheDir,
		MaxPositions: l.positiveInt("tle.max_positions"),
	}
	cfg.SatelliteMap = source.SatelliteMapConfig{
		BaseURL:       v.GetString("satellitemap.url"),
		Constellation: v.GetString("satellitemap.constellation"),
		Limit:         l.positiveInt("satellitemap.limit"),
	}
	cfg.AviationEdge = source.AviationEdgeConfig{
		BaseURL: v.GetString("aviation_edge.url"),
		APIKey:  v.GetString("aviation_edge.api_key"),
	}

	cfg.Resolver = resolver.Config{
		TTL:             l.duration("resolver.ttl"),
		ProviderTimeout: l.duration("resolver.provider_timeout"),
		SyntheticSeed:   l.int64("resolver.synthetic_seed"),
	}
	cfg.Monitor = monitor.Config{
		Interval:    l.duration("monitor.interval"),
		Backoff:     l.duration("monitor.backoff"),
		TickTimeout: l.duration("monitor.tick_timeout"),
	}
	cfg.MonitorAutostart = l.boolean("monitor.autostart")

	cfg.Stream = stream.Config{
		MaxConcurrentPerIP: l.positiveInt("stream.max_concurrent"),
		MaxTotal:           l.positiveInt("stream.max_total"),
		KeepaliveInterval:  l.duration("stream.keepalive_interval"),
		BufferSize:         l.positiveInt("stream.buffer_size"),
		TrustProxy:         l.boolean("stream.trust_proxy"),
	}

	cfg.Tracing = observability.TracingConfig{
		Enabled:     l.boolean("tracing.enabled"),
		ServiceName: v.GetString("tracing.service_name"),
		Exporter:    l.oneOf("tracing.exporter", "stdout", "otlp"),
		Endpoint:    v.GetString("tracing.endpoint"),
		SampleRatio: l.ratio("tracing.sample_ratio"),
	}

	logger.Info("config loaded",
		"http_addr", cfg.HTTPAddr,
		"auth_enabled", cfg.Auth.Enabled,
		"providers", cfg.Providers,
		"propagation_model", cfg.Propagation.Model,
		"propagation_workers", cfg.Propagation.Workers,
		"resolver_ttl_seconds", cfg.Resolver.TTL.Seconds(),
		"monitor_interval_seconds", cfg.Monitor.Interval.Seconds(),
		"monitor_autostart", cfg.MonitorAutostart,
		"tracing_enabled", cfg.Tracing.Enabled,
	)
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.token", "")

	v.SetDefault("propagation.workers", runtime.NumCPU())
	v.SetDefault("propagation.model", propagation.ModelSGP4)

	v.SetDefault("providers", DefaultProviders)
	v.SetDefault("tle.cache_dir", "/tmp/skytrack/tle")
	v.SetDefault("tle.max_positions", source.DefaultMaxPositions)

	v.SetDefault("celestrak.url", tle.DefaultSourceURL)
	v.SetDefault("celestrak.extra_urls", []string{})
	v.SetDefault("celestrak.ttl", tle.DefaultTTL.String())

	v.SetDefault("spacetrack.url", source.DefaultSpaceTrackURL)
	v.SetDefault("spacetrack.username", "")
	v.SetDefault("spacetrack.password", "")
	v.SetDefault("spacetrack.limit", source.DefaultSpaceTrackLimit)
	v.SetDefault("spacetrack.ttl", source.DefaultSpaceTrackTTL.String())

	v.SetDefault("satellitemap.url", source.DefaultSatelliteMapURL)
	v.SetDefault("satellitemap.constellation", "starlink")
	v.SetDefault("satellitemap.limit", source.DefaultSatelliteMapLimit)

	v.SetDefault("aviation_edge.url", source.DefaultAviationEdgeURL)
	v.SetDefault("aviation_edge.api_key", "")

	v.SetDefault("resolver.ttl", resolver.DefaultTTL.String())
	v.SetDefault("resolver.provider_timeout", resolver.DefaultProviderTimeout.String())
	v.SetDefault("resolver.synthetic_seed", 42)

	v.SetDefault("monitor.interval", monitor.DefaultInterval.String())
	v.SetDefault("monitor.backoff", monitor.DefaultBackoff.String())
	v.SetDefault("monitor.tick_timeout", monitor.DefaultTickTimeout.String())
	v.SetDefault("monitor.autostart", false)

	v.SetDefault("stream.max_concurrent", 10)
	v.SetDefault("stream.max_total", stream.DefaultMaxTotal)
	v.SetDefault("stream.keepalive_interval", "30s")
	v.SetDefault("stream.buffer_size", stream.DefaultBufferSize)
	v.SetDefault("stream.trust_proxy", false)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "skytrack")
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// loader reads typed values, falling back to the registered default with a
// warning when a value does not parse.
type loader struct {
	v      *viper.Viper
	logger *slog.Logger
}

func (l loader) fallback(key string, value any) any {
	def := l.defaultOf(key)
	l.logger.Warn("invalid config value, using default",
		"key", key,
		"env", envName(key),
		"value", value,
		"default", def,
	)
	return def
}

// defaultOf returns the default registered for key, ignoring overrides.
func (l loader) defaultOf(key string) any {
	d := viper.New()
	setDefaults(d)
	return d.Get(key)
}

func (l loader) auth() (auth.Config, error) {
	cfg := auth.Config{}
	raw := l.v.GetString("auth.enabled")
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return cfg, fmt.Errorf("%s must be a boolean value (true/false/1/0)", envName("auth.enabled"))
	}
	cfg.Enabled = enabled
	if cfg.Enabled {
		cfg.Token = l.v.GetString("auth.token")
		if cfg.Token == "" {
			return cfg, errors.New(envName("auth.token") + " is required when auth is enabled")
		}
		l.logger.Info("auth enabled")
	}
	return cfg, nil
}

func (l loader) positiveInt(key string) int {
	raw := l.v.GetString(key)
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		def, _ := strconv.Atoi(fmt.Sprint(l.fallback(key, raw)))
		return def
	}
	return n
}

func (l loader) int64(key string) int64 {
	raw := l.v.GetString(key)
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		def, _ := strconv.ParseInt(fmt.Sprint(l.fallback(key, raw)), 10, 64)
		return def
	}
	return n
}

func (l loader) boolean(key string) bool {
	raw := l.v.GetString(key)
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		def, _ := strconv.ParseBool(fmt.Sprint(l.fallback(key, raw)))
		return def
	}
	return b
}

func (l loader) ratio(key string) float64 {
	raw := l.v.GetString(key)
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || f < 0 || f > 1 {
		def, _ := strconv.ParseFloat(fmt.Sprint(l.fallback(key, raw)), 64)
		return def
	}
	return f
}

// duration accepts Go duration strings ("90s", "5m") or a bare number of seconds.
func (l loader) duration(key string) time.Duration {
	raw := strings.TrimSpace(l.v.GetString(key))
	if d, ok := parseDuration(raw); ok {
		return d
	}
	d, _ := parseDuration(fmt.Sprint(l.fallback(key, raw)))
	return d
}

func parseDuration(s string) (time.Duration, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 {
			return 0, false
		}
		return time.Duration(n) * time.Second, true
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func (l loader) oneOf(key string, allowed ...string) string {
	raw := strings.ToLower(strings.TrimSpace(l.v.GetString(key)))
	for _, a := range allowed {
		if raw == a {
			return raw
		}
	}
	return fmt.Sprint(l.fallback(key, raw))
}

func (l loader) level(key string) slog.Level {
	raw := l.v.GetString(key)
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		_ = lvl.UnmarshalText([]byte(fmt.Sprint(l.fallback(key, raw))))
	}
	return lvl
}

// stringList accepts a list from a config file or a comma separated string
// from the environment or flags.
func (l loader) stringList(key string) []string {
	var out []string
	for _, part := range strings.Split(strings.Join(l.v.GetStringSlice(key), ","), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (l loader) providers() []string {
	var out []string
	seen := make(map[string]bool)
	for _, name := range l.stringList("providers") {
		name = strings.ToLower(name)
		switch name {
		case ProviderSatelliteMap, ProviderAviationEdge, ProviderSpaceTrack, ProviderCelesTrak:
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		default:
			l.logger.Warn("unknown provider in config, skipping", "provider", name)
		}
	}
	if len(out) == 0 {
		l.logger.Warn("no valid providers configured, using default order", "default", DefaultProviders)
		return append([]string(nil), DefaultProviders...)
	}
	return out
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// NewLogger builds the process logger in the configured format.
func NewLogger(w io.Writer, cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
