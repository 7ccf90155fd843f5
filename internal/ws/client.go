// internal/ws/client.go
//
// One websocket connection and its read/write pumps.
// The usual gorilla split: readPump is the sole reader and drives
// inbound dispatch, writePump is the sole writer and drains the
// buffered send queue while keeping the connection alive with pings.

package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pongarena/server/internal/auth"
	"github.com/pongarena/server/internal/match"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 256
)

// client is one authenticated connection.
type client struct {
	gw       *Gateway
	conn     *websocket.Conn
	identity auth.Identity
	send     chan []byte
	done     chan struct{}

	mu     sync.Mutex
	games  map[string]struct{} // game topics this connection joined or spectates
	closed bool
}

func newClient(gw *Gateway, conn *websocket.Conn, identity auth.Identity) *client {
	return &client{
		gw:       gw,
		conn:     conn,
		identity: identity,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		games:    make(map[string]struct{}),
	}
}

// trySend queues an outbound frame without blocking. False means the
// queue is full (slow consumer) or the client is closed.
func (c *client) trySend(data []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// sendEvent marshals and queues an event for this connection only.
func (c *client) sendEvent(e match.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("type", e.Type).Msg("marshal event")
		return
	}
	c.trySend(data)
}

// close tears the connection down. Safe to call more than once.
func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	_ = c.conn.Close()
}

// trackGame remembers a game topic so disconnect can forfeit it.
func (c *client) trackGame(gameID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.games[gameID] = struct{}{}
}

// trackedGames snapshots the joined game ids.
func (c *client) trackedGames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.games))
	for id := range c.games {
		out = append(out, id)
	}
	return out
}

// readPump is the connection's only reader. It dispatches every frame
// to the gateway and performs the implicit-disconnect cleanup on exit.
func (c *client) readPump() {
	defer func() {
		c.gw.dropClient(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("userId", c.identity.ID).Msg("websocket read")
			}
			return
		}
		c.gw.handleMessage(c, data)
	}
}

// writePump is the connection's only writer.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
