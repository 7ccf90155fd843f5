// internal/ws/hub.go
//
// Topic-based fan-out for realtime messages.
// Topics are "game:<id>" for match broadcast groups and "user:<id>" for
// direct notifications. The Hub implements match.Publisher: sessions
// hand it events and it serializes them onto every subscriber's
// buffered send queue. Publish never blocks: a subscriber whose queue
// is full has the message dropped and the connection closed, so a slow
// consumer can never stall a tick loop. Per-topic ordering is preserved
// because each Publish call appends under the lock and each client's
// queue is FIFO.

package ws

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/pongarena/server/internal/match"
)

// Hub maps topics to subscribed clients.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*client]struct{}
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*client]struct{})}
}

// Publish implements match.Publisher.
func (h *Hub) Publish(topic string, event match.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("marshal event")
		return
	}

	h.mu.RLock()
	subscribers := make([]*client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		subscribers = append(subscribers, c)
	}
	h.mu.RUnlock()

	for _, c := range subscribers {
		if !c.trySend(data) {
			log.Warn().Str("topic", topic).Str("userId", c.identity.ID).Msg("dropping slow subscriber")
			c.close()
		}
	}
}

// Subscribe adds a client to a topic's broadcast group.
func (h *Hub) Subscribe(c *client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*client]struct{})
	}
	h.topics[topic][c] = struct{}{}
}

// Unsubscribe removes a client from one topic.
func (h *Hub) Unsubscribe(c *client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, topic)
}

// UnsubscribeAll removes a client everywhere. Called on connection
// close.
func (h *Hub) UnsubscribeAll(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic := range h.topics {
		h.removeLocked(c, topic)
	}
}

func (h *Hub) removeLocked(c *client, topic string) {
	if subs, ok := h.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}
