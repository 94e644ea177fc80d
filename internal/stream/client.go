package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/skytrack/internal/metrics"
)

// writeTimeout bounds each write to a stream.
const writeTimeout = 30 * time.Second

// eventWriter frames SSE messages onto one connection. Flushes and write
// deadlines both go through the ResponseController so wrapped writers work.
type eventWriter struct {
	w      http.ResponseWriter
	rc     *http.ResponseController
	logger *slog.Logger
	buf    bytes.Buffer

	frames int64
	bytes  int64
}

func newEventWriter(w http.ResponseWriter, logger *slog.Logger) *eventWriter {
	return &eventWriter{w: w, rc: http.NewResponseController(w), logger: logger}
}

// retry tells the browser how long to wait before reconnecting.
func (ew *eventWriter) retry(d time.Duration) error {
	ew.buf.Reset()
	ew.buf.WriteString("retry: ")
	ew.buf.WriteString(strconv.FormatInt(d.Milliseconds(), 10))
	ew.buf.WriteString("\n\n")
	return ew.flush(false)
}

// object marshals v into an unnamed message.
func (ew *eventWriter) object(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	return ew.event("", data)
}

// event writes one message. Multi-line data is split across data fields so
// the frame stays well formed.
func (ew *eventWriter) event(name string, data []byte) error {
	ew.buf.Reset()
	if name != "" {
		ew.buf.WriteString("event: ")
		ew.buf.WriteString(name)
		ew.buf.WriteByte('\n')
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		ew.buf.WriteString("data: ")
		ew.buf.Write(line)
		ew.buf.WriteByte('\n')
	}
	ew.buf.WriteByte('\n')
	return ew.flush(true)
}

// comment writes an empty comment frame, which clients ignore.
func (ew *eventWriter) comment() error {
	ew.buf.Reset()
	ew.buf.WriteString(":\n\n")
	return ew.flush(false)
}

func (ew *eventWriter) flush(counted bool) error {
	if err := ew.rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		ew.logger.Debug("could not set write deadline", "error", err)
	}
	n, err := ew.w.Write(ew.buf.Bytes())
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := ew.rc.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	ew.bytes += int64(n)
	metrics.AddStreamBytes(int64(n))
	if counted {
		ew.frames++
		metrics.IncStreamMessages()
	}
	return nil
}
