package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/signalcore/evidence-engine/internal/model"
	"github.com/signalcore/evidence-engine/internal/session"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultHeartbeat    = 15 * time.Second
)

// Streamer relays a session's event log to a client as SSE. Events are
// delivered in order, each exactly once, and the stream closes after the
// session reaches a terminal status.
type Streamer struct {
	registry  *session.Registry
	poll      time.Duration
	heartbeat time.Duration
}

// NewStreamer creates a Streamer. Non-positive durations take the defaults.
func NewStreamer(reg *session.Registry, poll, heartbeat time.Duration) *Streamer {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Streamer{registry: reg, poll: poll, heartbeat: heartbeat}
}

// Stream writes events for sessionID until the session finishes, expires or
// the client goes away.
func (st *Streamer) Stream(w http.ResponseWriter, r *http.Request, sessionID string) {
	sse, err := NewSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	log := zap.L().With(zap.String("session_id", sessionID))

	snap, changed, ok := st.registry.Watch(sessionID)
	if !ok {
		_ = sse.WriteData(model.ErrorEvent("", "Session not found"))
		return
	}
	sse.Open()

	ticker := time.NewTicker(st.poll)
	defer ticker.Stop()
	idle := time.NewTimer(st.heartbeat)
	defer idle.Stop()

	sent := 0
	for {
		if sent < len(snap.Events) {
			for _, ev := range snap.Events[sent:] {
				if err := sse.WriteData(ev); err != nil {
					log.Debug("stream: client write failed", zap.Error(err))
					return
				}
			}
			sent = len(snap.Events)
			idle.Reset(st.heartbeat)
		}
		if snap.Status.Done() {
			log.Debug("stream: session finished", zap.Int("events", sent))
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-changed:
		case <-ticker.C:
		case <-idle.C:
			if err := sse.Heartbeat(); err != nil {
				return
			}
			idle.Reset(st.heartbeat)
			continue
		}

		snap, changed, ok = st.registry.Watch(sessionID)
		if !ok {
			_ = sse.WriteData(model.ErrorEvent("", "Session expired"))
			return
		}
	}
}
