// Package stream pushes refresh loop payloads to browsers over Server-Sent
// Events on GET /api/v1/stream.
//
// A new connection receives a retry hint, then a metadata message describing
// the last published payload, then that payload itself:
//
//	retry: 4210
//
//	data: {"type":"metadata","data_source":"celestrak_tle","tle_age_hours":0.5,"last_update":"..."}
//
//	event: data_update
//	data: {"timestamp":"2026-02-06T04:00:00Z","tick":12,"satellites":{...},"monitoring_active":true}
//
// Every later publish arrives as another data_update event. An empty comment
// (":") is written after KeepaliveInterval of silence.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/star/skytrack/internal/httputil"
	"github.com/star/skytrack/internal/metrics"
)

// EventDataUpdate names the SSE event carrying a published payload.
const EventDataUpdate = "data_update"

const (
	defaultMaxPerIP  = 10
	defaultKeepalive = 30 * time.Second

	// Reconnect hints are spread over [retryBase, retryBase+retrySpread).
	retryBase   = 3 * time.Second
	retrySpread = 4 * time.Second
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // per client address, default 10
	MaxTotal           int           // across all clients, default DefaultMaxTotal
	KeepaliveInterval  time.Duration // default 30s
	BufferSize         int           // hub backlog per subscriber
	TrustProxy         bool          // key the limiter on X-Forwarded-For
}

// Handler serves the payload stream.
type Handler struct {
	hub     *Hub
	config  Config
	limiter *streamLimiter
	logger  *slog.Logger
}

// NewHandler creates a streaming handler over hub.
func NewHandler(hub *Hub, config Config, logger *slog.Logger) *Handler {
	if config.MaxConcurrentPerIP <= 0 {
		config.MaxConcurrentPerIP = defaultMaxPerIP
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = defaultKeepalive
	}
	return &Handler{
		hub:     hub,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP, config.MaxTotal),
		logger:  logger.With("component", "stream"),
	}
}

// HandleStream serves GET /api/v1/stream until the client goes away.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded", "remote_ip", ip, "current_count", h.limiter.count(ip))
		w.Header().Set("Retry-After", "30")
		writeJSONError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}
	defer h.limiter.release(ip)

	if !canFlush(w) {
		metrics.IncStreamErrors("no_flush")
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ew := newEventWriter(w, h.logger)
	// The server-wide WriteTimeout would otherwise cut every stream short.
	if err := ew.rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	sub, latest, meta := h.hub.subscribe(ip)
	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()
	opened := time.Now()
	h.logger.Info("stream connected", "remote_ip", ip, "user_agent", r.UserAgent())

	err := h.serve(r.Context(), ew, sub, latest, meta)

	h.hub.unsubscribe(sub)
	metrics.IncStreamConnections("disconnect")
	metrics.DecStreamsActive()
	if err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream write failed", "remote_ip", ip, "error", err)
	}
	h.logger.Info("stream disconnected",
		"remote_ip", ip,
		"messages", ew.frames,
		"bytes", ew.bytes,
		"duration_seconds", int(time.Since(opened).Seconds()),
	)
}

// serve primes a fresh connection and then relays hub messages until ctx ends
// or a write fails.
func (h *Handler) serve(ctx context.Context, ew *eventWriter, sub *subscriber, latest []byte, meta *metadataMessage) error {
	if err := ew.retry(retryBase + time.Duration(rand.Int63n(int64(retrySpread)))); err != nil {
		return err
	}
	if meta != nil {
		if err := ew.object(meta); err != nil {
			return err
		}
	}
	if latest != nil {
		if err := ew.event(EventDataUpdate, latest); err != nil {
			return err
		}
	}

	idle := time.NewTimer(h.config.KeepaliveInterval)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-sub.ch:
			if err := ew.event(EventDataUpdate, data); err != nil {
				return err
			}
		case <-idle.C:
			if err := ew.comment(); err != nil {
				return err
			}
		}
		idle.Reset(h.config.KeepaliveInterval)
	}
}

// canFlush reports whether w, or a writer it wraps, supports flushing.
func canFlush(w http.ResponseWriter) bool {
	for {
		switch v := w.(type) {
		case http.Flusher:
			return true
		case interface{ Unwrap() http.ResponseWriter }:
			w = v.Unwrap()
		default:
			return false
		}
	}
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// metadataMessage describes the payload a new subscriber is primed with.
type metadataMessage struct {
	Type        string    `json:"type"`
	DataSource  string    `json:"data_source,omitempty"`
	TLEAgeHours float64   `json:"tle_age_hours"`
	LastUpdate  time.Time `json:"last_update"`
}
