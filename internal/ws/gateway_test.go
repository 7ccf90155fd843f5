// internal/ws/gateway_test.go
//
// End-to-end websocket tests: real connections against a httptest
// server, driving the join / ready / forfeit flow the way a browser
// client would.

package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pongarena/server/internal/auth"
	"github.com/pongarena/server/internal/match"
	"github.com/pongarena/server/internal/store"
)

const testSecret = "test-secret"

type testServer struct {
	srv      *httptest.Server
	mem      *store.Memory
	hub      *Hub
	registry *match.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mem := store.NewMemory()
	mem.AddMatch("g1", "alice", "bob")

	hub := NewHub()
	registry := match.NewRegistry(mem, hub)
	gw := NewGateway(registry, hub, auth.NewVerifier(testSecret), "")

	srv := httptest.NewServer(http.HandlerFunc(gw.ServeWS))
	t.Cleanup(func() {
		registry.Close()
		srv.Close()
	})
	return &testServer{srv: srv, mem: mem, hub: hub, registry: registry}
}

func signToken(t *testing.T, id, username string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":       id,
		"username": username,
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// dial opens a websocket connection authenticated as the given user.
func (ts *testServer) dial(t *testing.T, id, username string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "?token=" + signToken(t, id, username)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil discards frames until one of the wanted type arrives.
// Live matches interleave game:state broadcasts at tick rate, so tests
// can never assume the next frame is the one they care about.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) wireEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var ev wireEvent
		err := conn.ReadJSON(&ev)
		require.NoError(t, err, "waiting for %q", eventType)
		if ev.Type == eventType {
			return ev
		}
	}
}

func TestServeWS_RejectsMissingToken(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWS_RejectsBadToken(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "?token=not-a-jwt")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJoin_UnknownGame(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "alice", "Alice")

	send(t, conn, map[string]any{"type": "game:join", "gameId": "nope"})

	ev := readUntil(t, conn, "error")
	assert.Contains(t, string(ev.Data), "Game not found")
}

func TestJoin_NonParticipantRejected(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "carol", "Carol")

	send(t, conn, map[string]any{"type": "game:join", "gameId": "g1"})

	ev := readUntil(t, conn, "error")
	assert.Contains(t, string(ev.Data), "Not authorized")
}

func TestJoin_BroadcastsSnapshot(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "alice", "Alice")

	send(t, conn, map[string]any{"type": "game:join", "gameId": "g1"})

	ev := readUntil(t, conn, "game:state")
	var snap match.Snapshot
	require.NoError(t, json.Unmarshal(ev.Data, &snap))
	assert.Equal(t, "g1", snap.GameID)
	assert.Equal(t, match.StatusWaiting, snap.Status)
	assert.Equal(t, "alice", snap.Left.ID)
	assert.Equal(t, "bob", snap.Right.ID)
}

func TestMalformedMessage_ErrorReply(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "alice", "Alice")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	ev := readUntil(t, conn, "error")
	assert.Contains(t, string(ev.Data), "Invalid message")
}

func TestUnknownType_ErrorReply(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "alice", "Alice")

	send(t, conn, map[string]any{"type": "game:launch_missiles"})

	ev := readUntil(t, conn, "error")
	assert.Contains(t, string(ev.Data), "Unknown message type")
}

func TestReadyFlow_StartsMatch(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, "alice", "Alice")
	bob := ts.dial(t, "bob", "Bob")

	send(t, alice, map[string]any{"type": "game:join", "gameId": "g1"})
	readUntil(t, alice, "game:state")
	send(t, bob, map[string]any{"type": "game:join", "gameId": "g1"})
	readUntil(t, bob, "game:state")

	send(t, alice, map[string]any{"type": "game:ready", "gameId": "g1"})
	send(t, bob, map[string]any{"type": "game:ready", "gameId": "g1"})

	readUntil(t, alice, "game:start")
	readUntil(t, bob, "game:start")

	// The tick loop is live: both subscribers receive state frames.
	ev := readUntil(t, alice, "game:state")
	var snap match.Snapshot
	require.NoError(t, json.Unmarshal(ev.Data, &snap))
	assert.Equal(t, match.StatusPlaying, snap.Status)
}

func TestDisconnect_ForfeitsLiveMatch(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, "alice", "Alice")
	bob := ts.dial(t, "bob", "Bob")

	send(t, alice, map[string]any{"type": "game:join", "gameId": "g1"})
	readUntil(t, alice, "game:state")
	send(t, bob, map[string]any{"type": "game:join", "gameId": "g1"})
	readUntil(t, bob, "game:state")
	send(t, alice, map[string]any{"type": "game:ready", "gameId": "g1"})
	send(t, bob, map[string]any{"type": "game:ready", "gameId": "g1"})
	readUntil(t, alice, "game:start")

	require.NoError(t, bob.Close())

	ev := readUntil(t, alice, "game:end")
	var report match.EndReport
	require.NoError(t, json.Unmarshal(ev.Data, &report))
	assert.Equal(t, "alice", report.WinnerID)
	assert.Equal(t, "disconnect", report.Reason)

	assert.Eventually(t, func() bool {
		res, ok := ts.mem.ResultFor("g1")
		return ok && res.WinnerID == "alice"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSpectate_LiveMatchGetsSnapshot(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, "alice", "Alice")

	send(t, alice, map[string]any{"type": "game:join", "gameId": "g1"})
	readUntil(t, alice, "game:state")

	carol := ts.dial(t, "carol", "Carol")
	send(t, carol, map[string]any{"type": "game:spectate", "gameId": "g1"})

	ev := readUntil(t, carol, "game:state")
	var snap match.Snapshot
	require.NoError(t, json.Unmarshal(ev.Data, &snap))
	assert.Equal(t, "g1", snap.GameID)
}

// Every connection is subscribed to its user topic at upgrade time;
// that is the channel CRUD notifications arrive on.
func TestUserTopic_DirectNotification(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, "alice", "Alice")
	bob := ts.dial(t, "bob", "Bob")

	send(t, alice, map[string]any{"type": "game:join", "gameId": "g1"})
	readUntil(t, alice, "game:state")

	// The upgrade handshake returns before the server registers the
	// subscription, so publish until the frame lands.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ts.hub.Publish("user:bob", match.Event{Type: "game:created", Data: map[string]string{"id": "g2"}})
			}
		}
	}()

	ev := readUntil(t, bob, "game:created")
	assert.Contains(t, string(ev.Data), "g2")
}

func TestPaddleMove_NonParticipantGetsError(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, "alice", "Alice")
	send(t, alice, map[string]any{"type": "game:join", "gameId": "g1"})
	readUntil(t, alice, "game:state")

	carol := ts.dial(t, "carol", "Carol")
	send(t, carol, map[string]any{"type": "game:paddle_move", "gameId": "g1", "direction": -1})

	ev := readUntil(t, carol, "error")
	assert.Contains(t, string(ev.Data), "Not part of this game")
}
