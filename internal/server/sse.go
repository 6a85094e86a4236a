package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rotisserie/eris"
)

// SSEWriter writes Server-Sent Events frames and flushes each one.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter sets the event-stream headers on w. It fails when w cannot
// flush.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, eris.New("server: streaming not supported")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// Open commits the 200 status and headers so clients see the stream before
// the first frame.
func (s *SSEWriter) Open() {
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

// WriteData sends v as a single JSON data frame.
func (s *SSEWriter) WriteData(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "server: marshal sse data")
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return eris.Wrap(err, "server: write sse data")
	}
	s.flusher.Flush()
	return nil
}

// Heartbeat sends a comment frame that clients ignore.
func (s *SSEWriter) Heartbeat() error {
	if _, err := fmt.Fprint(s.w, ": heartbeat\n\n"); err != nil {
		return eris.Wrap(err, "server: write heartbeat")
	}
	s.flusher.Flush()
	return nil
}
