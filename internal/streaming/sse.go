package streaming

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// SSEHandler streams hub events to HTTP clients as Server-Sent Events.
// The optional query parameters surface and type (comma separated) narrow
// the stream.
func SSEHandler(hub EventHub, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := EventFilter{Surface: r.URL.Query().Get("surface")}
		if types := r.URL.Query().Get("type"); types != "" {
			filter.EventTypes = strings.Split(types, ",")
		}
		serveSSE(w, r, hub, filter, logger)
	})
}

func serveSSE(w http.ResponseWriter, r *http.Request, hub EventHub, filter EventFilter, logger *slog.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch, cancel, err := hub.Subscribe(r.Context(), filter)
	if err != nil {
		logger.Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
			flusher.Flush()
		}
	}
}
