package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/kaiwalab/kaiwa/pkg/core/live"
)

// handleWS serves the session event feed over a WebSocket. The feed is
// one-way: a status snapshot on connect, then every session event as a
// JSON text message carrying a "type" field.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.hub.subscribe()
	defer s.hub.unsubscribe(sub)

	s.metrics.SubscriberConnected("ws")
	defer s.metrics.SubscriberDisconnected("ws")

	if payload, err := encodeStatus(s.session.Status()); err == nil {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}

	// Forward events to the client.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub {
			payload, err := encodeEvent(ev)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}()

	// The feed takes no input; reading surfaces disconnects and answers
	// control frames.
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	// Unblock the forwarder before waiting for it.
	s.hub.unsubscribe(sub)
	<-done
}

func encodeStatus(status live.Status) ([]byte, error) {
	payload, err := json.Marshal(status)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, err
	}
	obj["type"] = "status"
	return json.Marshal(obj)
}
