package server

import (
	"sync"

	"github.com/kaiwalab/kaiwa/pkg/core/live"
)

// subscriberBuffer is the per-client event queue. A client that falls
// this far behind starts losing events rather than stalling the feed.
const subscriberBuffer = 64

// eventHub fans one session event stream out to any number of HTTP
// subscribers. Slow subscribers drop events; they can resynchronize
// from the status endpoint.
type eventHub struct {
	mu     sync.Mutex
	subs   map[chan live.Event]struct{}
	closed bool
}

func newEventHub() *eventHub {
	return &eventHub{
		subs: make(map[chan live.Event]struct{}),
	}
}

// run pumps session events to all subscribers until the session's
// event channel closes, then closes every subscriber.
func (h *eventHub) run(events <-chan live.Event) {
	for ev := range events {
		h.broadcast(ev)
	}
	h.close()
}

func (h *eventHub) broadcast(ev live.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for sub := range h.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}

// subscribe registers a new subscriber channel. The caller must
// unsubscribe when done.
func (h *eventHub) subscribe() chan live.Event {
	ch := make(chan live.Event, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	return ch
}

// unsubscribe removes a subscriber and closes its channel.
func (h *eventHub) unsubscribe(ch chan live.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// close shuts down the hub and every remaining subscriber.
func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub)
	}
}
