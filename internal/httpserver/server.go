// internal/httpserver/server.go
//
// HTTP wiring for the Pong backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs).
//   - Public endpoints: "/", "/health".
//   - Game endpoints (require auth): POST /games, GET /games, GET /games/{id}.
//   - Tournament endpoints (require auth): CRUD, join, start.
//   - The websocket upgrade route, mounted outside the JSON/timeout
//     middleware so the upgraded connection is not bound by them.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled (so cookies work).
//   - The server never mints tokens; it only verifies them. Accounts
//     live in the external identity service.

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/pongarena/server/internal/auth"
	"github.com/pongarena/server/internal/match"
	"github.com/pongarena/server/internal/store"
)

// Server bundles router, DB handle, identity verifier, and the realtime
// notifier used to push CRUD events at connected clients.
type Server struct {
	r        *chi.Mux
	db       *store.DB
	verifier *auth.Verifier
	notify   match.Publisher
	http     *http.Server
}

// New constructs a Server, installs middleware, and registers routes.
// wsHandler serves GET /ws and owns its own auth check (websocket
// clients pass the token as a query parameter). notify may be nil.
func New(db *store.DB, verifier *auth.Verifier, wsHandler http.HandlerFunc, notify match.Publisher) *Server {
	s := &Server{r: chi.NewRouter(), db: db, verifier: verifier, notify: notify}

	// --- base middleware ---
	s.r.Use(chimw.RequestID) // add X-Request-ID
	s.r.Use(chimw.RealIP)    // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(chimw.Recoverer) // recover from panics

	// Websocket upgrade. Kept off the JSON/timeout group: a hijacked
	// connection outlives any handler timeout.
	s.r.Get("/ws", wsHandler)

	s.r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(10 * time.Second)) // bound handler time
		r.Use(jsonContentType)                 // default JSON responses
		r.Use(corsFromEnv)                     // credentials-friendly CORS

		// --- diagnostics ---
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"service":"pong-server","endpoints":["/health","/ws","POST /games","GET /games","/tournaments"]}`))
		})
		r.Get("/health", s.handleHealth)

		// Game CRUD — the collaborator that mints the matchIds the
		// realtime gateway later resolves.
		r.Route("/games", func(r chi.Router) {
			r.Use(s.requireAuth())
			r.Post("/", s.handleCreateGame)
			r.Get("/", s.handleListGames)
			r.Get("/{id}", s.handleGetGame)
		})

		r.Route("/tournaments", func(r chi.Router) {
			r.Use(s.requireAuth())
			r.Post("/", s.handleCreateTournament)
			r.Get("/", s.handleListTournaments)
			r.Get("/{id}", s.handleGetTournament)
			r.Post("/{id}/join", s.handleJoinTournament)
			r.Post("/{id}/start", s.handleStartTournament)
		})

		// JSON 404 for easier debugging
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"not_found","path":"`+r.URL.Path+`"}`, http.StatusNotFound)
		})
	})

	return s
}

// Start begins serving HTTP on addr.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.r}
	return s.http.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// corsFromEnv enables credentialed CORS for a single origin.
// Uses CLIENT_ORIGIN env var; defaults to http://localhost:5173.
func corsFromEnv(next http.Handler) http.Handler {
	origin := os.Getenv("CLIENT_ORIGIN")
	if origin == "" {
		origin = "http://localhost:5173"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ctxIdentityKey is the context key type for the verified identity.
type ctxIdentityKey struct{}

// requireAuth enforces a valid JWT and injects the identity into
// request context.
func (s *Server) requireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.TokenFromRequest(r)
			if token == "" {
				http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
				return
			}
			identity, err := s.verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"Invalid token"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxIdentityKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// identityFrom returns the verified identity of the request. Routes
// behind requireAuth always carry one.
func identityFrom(r *http.Request) auth.Identity {
	id, _ := r.Context().Value(ctxIdentityKey{}).(auth.Identity)
	return id
}

// ----------------------------- diagnostics ---------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.SQL().PingContext(r.Context()); err != nil {
		log.Error().Err(err).Msg("health ping")
		http.Error(w, `{"ok":false}`, http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

// ------------------------------- games -------------------------------------

type createGameReq struct {
	Player2ID string `json:"player2Id"`
}

// handleCreateGame mints a pending game between the caller and the
// named opponent. The row is what authorizes both of them on the
// realtime side later; both players get a game:created push on their
// user topics.
func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Player2ID == "" {
		http.Error(w, `{"error":"player2Id is required"}`, http.StatusBadRequest)
		return
	}

	me := identityFrom(r)
	g, err := s.db.CreateGame(r.Context(), me.ID, req.Player2ID)
	switch {
	case errors.Is(err, store.ErrSelfPlay):
		http.Error(w, `{"error":"Cannot play against yourself"}`, http.StatusBadRequest)
		return
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, `{"error":"Opponent not found"}`, http.StatusNotFound)
		return
	case err != nil:
		log.Error().Err(err).Msg("create game")
		http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
		return
	}

	if s.notify != nil {
		ev := match.Event{Type: "game:created", Data: g}
		s.notify.Publish("user:"+g.Player1ID, ev)
		s.notify.Publish("user:"+g.Player2ID, ev)
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(g)
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.db.ListOpenGames(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("list games")
		http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(games)
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.db.GetGame(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("get game")
		http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(g)
}

// ----------------------------- tournaments ---------------------------------

type createTournamentReq struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateTournament(w http.ResponseWriter, r *http.Request) {
	var req createTournamentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, `{"error":"name is required"}`, http.StatusBadRequest)
		return
	}

	me := identityFrom(r)
	t, err := s.db.CreateTournament(r.Context(), req.Name, me.ID)
	if err != nil {
		log.Error().Err(err).Msg("create tournament")
		http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(t)
}

func (s *Server) handleListTournaments(w http.ResponseWriter, r *http.Request) {
	out, err := s.db.ListTournaments(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("list tournaments")
		http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(out)
}

// handleGetTournament returns the tournament with its entrants and the
// full bracket in one payload.
func (s *Server) handleGetTournament(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := s.db.GetTournament(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("get tournament")
		http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
		return
	}

	participants, err := s.db.ListParticipants(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Msg("list participants")
		http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
		return
	}
	bracket, err := s.db.ListBracket(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Msg("list bracket")
		http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"tournament":   t,
		"participants": participants,
		"bracket":      bracket,
	})
}

func (s *Server) handleJoinTournament(w http.ResponseWriter, r *http.Request) {
	me := identityFrom(r)
	err := s.db.JoinTournament(r.Context(), chi.URLParam(r, "id"), me.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
		return
	case errors.Is(err, store.ErrAlreadyJoined):
		http.Error(w, `{"error":"Already joined"}`, http.StatusConflict)
		return
	case errors.Is(err, store.ErrNotJoinable):
		http.Error(w, `{"error":"Tournament is not accepting entrants"}`, http.StatusConflict)
		return
	case err != nil:
		log.Error().Err(err).Msg("join tournament")
		http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// handleStartTournament seeds round 1. Only the creator may start.
func (s *Server) handleStartTournament(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	me := identityFrom(r)

	t, err := s.db.GetTournament(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("get tournament")
		http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
		return
	}
	if t.CreatedBy != me.ID {
		http.Error(w, `{"error":"Only the creator can start the tournament"}`, http.StatusForbidden)
		return
	}

	matches, err := s.db.StartTournament(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotJoinable):
		http.Error(w, `{"error":"Tournament already started"}`, http.StatusConflict)
		return
	case err != nil:
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(matches)
}
