package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kaiwalab/kaiwa/pkg/core/live"
)

// handleStream serves the session event feed as server-sent events.
// Every session event becomes one `event: <type>` frame; a status frame
// goes out on connect and at each keepalive interval so clients can
// resynchronize after dropped events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errors.New("streaming not supported"), requestIDFromContext(r.Context()))
		return
	}

	sub := s.hub.subscribe()
	defer s.hub.unsubscribe(sub)

	s.metrics.SubscriberConnected("sse")
	defer s.metrics.SubscriberDisconnected("sse")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.writeStatusFrame(w)
	flusher.Flush()

	keepalive := time.NewTicker(s.config.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub:
			if !open {
				return
			}
			payload, err := encodeEvent(ev)
			if err != nil {
				continue
			}
			writeSSE(w, ev.EventType(), payload)
			flusher.Flush()
		case <-keepalive.C:
			s.writeStatusFrame(w)
			flusher.Flush()
		}
	}
}

func (s *Server) writeStatusFrame(w http.ResponseWriter) {
	payload, err := json.Marshal(s.session.Status())
	if err != nil {
		return
	}
	writeSSE(w, "status", payload)
}

func writeSSE(w http.ResponseWriter, event string, payload []byte) {
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

// encodeEvent marshals a session event with its type injected, so feed
// clients can switch on a single "type" field.
func encodeEvent(event live.Event) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, err
	}
	obj["type"] = event.EventType()
	return json.Marshal(obj)
}
