package stream

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/star/skytrack/internal/metrics"
	"github.com/star/skytrack/internal/monitor"
)

// DefaultBufferSize is the number of undelivered messages a subscriber may lag
// behind before new messages are dropped for it.
const DefaultBufferSize = 4

// Hub fans published payloads out to every connected stream. Publish never
// blocks on a slow subscriber.
type Hub struct {
	mu         sync.RWMutex
	subs       map[*subscriber]struct{}
	latest     []byte
	latestMeta *metadataMessage
	bufferSize int
	logger     *slog.Logger
}

type subscriber struct {
	ch chan []byte
	ip string
}

// NewHub creates an empty hub. A non-positive bufferSize selects DefaultBufferSize.
func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subs:       make(map[*subscriber]struct{}),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Publish encodes p once and delivers it to every subscriber. It has the
// signature the refresh loop expects for its publish callback.
func (h *Hub) Publish(p monitor.Payload) {
	data, err := json.Marshal(p)
	if err != nil {
		metrics.IncStreamErrors("marshal_error")
		h.logger.Warn("stream marshal error", "error", err)
		return
	}

	meta := &metadataMessage{Type: "metadata", LastUpdate: p.Timestamp}
	if p.Satellites != nil {
		meta.DataSource = p.Satellites.DataSource
		meta.TLEAgeHours = p.Satellites.TLEAgeHours
	}

	h.mu.Lock()
	h.latest = data
	h.latestMeta = meta
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	var dropped int
	for _, s := range subs {
		select {
		case s.ch <- data:
		default:
			dropped++
			metrics.IncStreamErrors("dropped")
		}
	}
	if dropped > 0 {
		h.logger.Debug("stream messages dropped for slow subscribers", "dropped", dropped)
	}
}

// subscribe registers a new subscriber and returns the most recent payload
// and its metadata, if any.
func (h *Hub) subscribe(ip string) (*subscriber, []byte, *metadataMessage) {
	s := &subscriber{ch: make(chan []byte, h.bufferSize), ip: ip}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s] = struct{}{}
	return s, h.latest, h.latestMeta
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

// Subscribers returns the number of connected streams.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
