// internal/ws/gateway.go
//
// The realtime gateway: terminates websocket connections, authenticates
// them, and translates wire messages into match session calls.
// It owns no game state beyond the connection-to-identity and
// connection-to-subscription mappings. Malformed or unauthorized messages
// produce an error reply to the originating connection only; they never
// reach other subscribers or kill a session.

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pongarena/server/internal/auth"
	"github.com/pongarena/server/internal/match"
	"github.com/pongarena/server/internal/store"
)

// lookupTimeout bounds the storage read behind session creation.
const lookupTimeout = 5 * time.Second

// inbound is the wire envelope for client messages.
type inbound struct {
	Type      string `json:"type"`
	GameID    string `json:"gameId"`
	Direction int    `json:"direction"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Gateway upgrades connections and routes their messages.
type Gateway struct {
	registry *match.Registry
	hub      *Hub
	verifier *auth.Verifier
	upgrader websocket.Upgrader
}

// NewGateway wires the gateway to a registry, hub, and identity check.
// Cross-origin upgrades are only accepted from clientOrigin; an empty
// clientOrigin accepts anything (development).
func NewGateway(registry *match.Registry, hub *Hub, verifier *auth.Verifier, clientOrigin string) *Gateway {
	return &Gateway{
		registry: registry,
		hub:      hub,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return clientOrigin == "" || origin == "" || origin == clientOrigin
			},
		},
	}
}

// ServeWS handles GET /ws: verify identity, upgrade, start the pumps.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	identity, err := g.verifier.Verify(token)
	if err != nil {
		http.Error(w, `{"error":"Invalid token"}`, http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	c := newClient(g, conn, identity)
	g.hub.Subscribe(c, "user:"+identity.ID)
	log.Info().Str("userId", identity.ID).Str("username", identity.Username).Msg("client connected")

	go c.writePump()
	go c.readPump()
}

// handleMessage decodes one inbound frame and dispatches it.
func (g *Gateway) handleMessage(c *client, data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendEvent(match.Event{Type: "error", Data: errorPayload{Message: "Invalid message"}})
		return
	}

	switch msg.Type {
	case "game:join":
		g.handleJoin(c, msg.GameID)
	case "game:ready":
		g.handleReady(c, msg.GameID)
	case "game:paddle_move":
		g.handlePaddleMove(c, msg.GameID, msg.Direction)
	case "game:spectate":
		g.handleSpectate(c, msg.GameID)
	default:
		c.sendEvent(match.Event{Type: "error", Data: errorPayload{Message: "Unknown message type"}})
	}
}

// handleJoin admits a participant into their match and subscribes the
// connection to the match broadcast group.
func (g *Gateway) handleJoin(c *client, gameID string) {
	if gameID == "" {
		c.sendEvent(match.Event{Type: "error", Data: errorPayload{Message: "Game ID is required"}})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	sess, err := g.registry.GetOrCreate(ctx, gameID)
	cancel()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.sendEvent(match.Event{Type: "error", Data: errorPayload{Message: "Game not found"}})
		} else {
			log.Error().Err(err).Str("gameId", gameID).Msg("get or create session")
			c.sendEvent(match.Event{Type: "error", Data: errorPayload{Message: "Server error while joining game"}})
		}
		return
	}

	snap, err := sess.Join(c.identity.ID)
	if err != nil {
		c.sendEvent(match.Event{Type: "error", Data: errorPayload{Message: "Not authorized to join this game"}})
		return
	}

	c.trackGame(gameID)
	g.hub.Subscribe(c, "game:"+gameID)
	log.Info().Str("gameId", gameID).Str("userId", c.identity.ID).Msg("player joined game")

	// Everyone in the broadcast group sees the refreshed roster.
	g.hub.Publish("game:"+gameID, match.Event{Type: "game:state", Data: snap})
}

func (g *Gateway) handleReady(c *client, gameID string) {
	sess, ok := g.registry.Get(gameID)
	if !ok {
		c.sendEvent(match.Event{Type: "error", Data: errorPayload{Message: "Game not found"}})
		return
	}

	switch err := sess.Ready(c.identity.ID); {
	case err == nil:
	case errors.Is(err, match.ErrNotAParticipant):
		c.sendEvent(match.Event{Type: "error", Data: errorPayload{Message: "Not part of this game"}})
	case errors.Is(err, match.ErrAlreadyPlaying):
		c.sendEvent(match.Event{Type: "error", Data: errorPayload{Message: "Game already started"}})
	case errors.Is(err, match.ErrMatchFinished):
		c.sendEvent(match.Event{Type: "error", Data: errorPayload{Message: "Game already finished"}})
	}
}

// handlePaddleMove forwards input. Inputs racing a lifecycle transition
// are dropped silently (at 60+ messages a second an error per frame
// would flood the client); authorization failures do get a reply.
func (g *Gateway) handlePaddleMove(c *client, gameID string, direction int) {
	sess, ok := g.registry.Get(gameID)
	if !ok {
		return
	}
	if err := sess.ApplyInput(c.identity.ID, direction); errors.Is(err, match.ErrNotAParticipant) {
		c.sendEvent(match.Event{Type: "error", Data: errorPayload{Message: "Not part of this game"}})
	}
}

// handleSpectate subscribes a connection read-only. Spectators are
// admitted unconditionally; if the match is live they get an immediate
// snapshot, otherwise they simply wait for it to go live or expire.
func (g *Gateway) handleSpectate(c *client, gameID string) {
	if gameID == "" {
		c.sendEvent(match.Event{Type: "error", Data: errorPayload{Message: "Game ID is required"}})
		return
	}
	g.hub.Subscribe(c, "game:"+gameID)
	log.Info().Str("gameId", gameID).Str("userId", c.identity.ID).Msg("spectating game")

	if sess, ok := g.registry.Get(gameID); ok {
		c.sendEvent(match.Event{Type: "game:state", Data: sess.Snapshot()})
	}
}

// dropClient runs the implicit disconnect: forfeit every playing match
// this identity occupies a slot in, then unsubscribe everywhere.
func (g *Gateway) dropClient(c *client) {
	for _, gameID := range c.trackedGames() {
		if sess, ok := g.registry.Get(gameID); ok {
			sess.Disconnect(c.identity.ID)
		}
	}
	g.hub.UnsubscribeAll(c)
	c.close()
	log.Info().Str("userId", c.identity.ID).Msg("client disconnected")
}
