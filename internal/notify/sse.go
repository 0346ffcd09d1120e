package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rendis/flowcore/pkg/schema"
)

const defaultHeartbeatInterval = 30 * time.Second

// SSEHandler streams status events to HTTP clients via Server-Sent Events.
// Clients may scope the stream to one workflow with ?workflow_id= or to a
// single run with ?run_id=.
type SSEHandler struct {
	hub               Hub
	logger            *slog.Logger
	heartbeatInterval time.Duration
}

// NewSSEHandler creates an SSE handler over the given hub.
func NewSSEHandler(hub Hub, logger *slog.Logger) *SSEHandler {
	return &SSEHandler{
		hub:               hub,
		logger:            logger,
		heartbeatInterval: defaultHeartbeatInterval,
	}
}

func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	filter := EventFilter{
		WorkflowID: r.URL.Query().Get("workflow_id"),
		RunID:      r.URL.Query().Get("run_id"),
	}
	ch, cancel, err := h.hub.Subscribe(r.Context(), filter)
	if err != nil {
		h.logger.Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	writeEvent(w, StatusEvent{Type: schema.EventTypeConnected, Timestamp: time.Now().UTC()})
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			writeEvent(w, StatusEvent{Type: schema.EventTypeHeartbeat, Timestamp: time.Now().UTC()})
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, event)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event StatusEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
}
