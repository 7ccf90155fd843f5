// main.go
//
// Process entrypoint for the Pong backend: config from env (.env in
// development), SQLite open + migrations, then the hub, the session
// registry, the websocket gateway, and the HTTP server, shut down
// gracefully on SIGINT/SIGTERM.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pongarena/server/internal/auth"
	"github.com/pongarena/server/internal/httpserver"
	"github.com/pongarena/server/internal/match"
	"github.com/pongarena/server/internal/store"
	"github.com/pongarena/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()
	if lvl, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	db, err := store.Open(getEnv("DATABASE_PATH", "./data/pong.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	if err := store.Migrate(db, getEnv("MIGRATIONS_DIR", "sql")); err != nil {
		log.Fatal().Err(err).Msg("apply migrations")
	}

	st := store.New(db)
	verifier := auth.NewVerifier(getEnv("JWT_SECRET", "dev_secret_change_me"))

	hub := ws.NewHub()
	registry := match.NewRegistry(st, hub)
	gateway := ws.NewGateway(registry, hub, verifier, os.Getenv("CLIENT_ORIGIN"))

	srv := httpserver.New(st, verifier, gateway.ServeWS, hub)

	port := getEnv("PORT", "5175")
	log.Info().Str("port", port).Msg("starting pong-server")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(":" + port) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server exited")
		}
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		registry.Close()
		_ = srv.Shutdown(ctx)
		cancel()
	}
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
