// internal/store/sqlite.go
//
// SQLite-backed persistence for games and match results.
// Responsibilities:
//   - Opening the database with safe defaults (WAL, busy timeout, FKs).
//   - Applying migrations from a sql/ directory (idempotent, recorded
//     in _migrations).
//   - Game CRUD used by the HTTP layer.
//   - The Matches surface used by live sessions, with an idempotent
//     terminal write that also drives tournament advancement.

package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// DB wraps the sql handle with the query surface of this package.
type DB struct {
	sql *sql.DB
}

// New wraps an already-opened database handle.
func New(db *sql.DB) *DB { return &DB{sql: db} }

// SQL exposes the raw handle (health checks, tests).
func (d *DB) SQL() *sql.DB { return d.sql }

// Open opens (and creates if missing) a SQLite database file with busy
// timeout, WAL journaling, and foreign keys enforced.
func Open(dsn string) (*sql.DB, error) {
	// Ensure directory exists for ./data/app.db, etc.
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", dsn+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;`); err != nil {
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	return db, nil
}

// Migrate applies *.sql files from root in lexical order, tracking
// applied files in a _migrations table so re-runs are no-ops.
func Migrate(db *sql.DB, root string) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS _migrations (name TEXT PRIMARY KEY);`); err != nil {
		return fmt.Errorf("create _migrations: %w", err)
	}

	var files []string
	if err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".sql") {
			files = append(files, path)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("walk sql dir: %w", err)
	}
	sort.Strings(files)

	for _, f := range files {
		name := filepath.Base(f)
		var done int
		err := db.QueryRow(`SELECT 1 FROM _migrations WHERE name=?`, name).Scan(&done)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("query _migrations: %w", err)
		}

		sqlBytes, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}

		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(sqlBytes)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", f, err)
		}
		if _, err := tx.Exec(`INSERT INTO _migrations(name) VALUES (?)`, name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", f, err)
		}
		log.Info().Str("migration", name).Msg("applied")
	}
	return nil
}

/* ------------------------------ games ---------------------------------- */

const gameColumns = `g.id, g.player1_id, g.player2_id,
	u1.username, u2.username,
	g.player1_score, g.player2_score, g.status, COALESCE(g.winner_id, ''),
	g.created_at, g.updated_at`

const gameJoin = `FROM games g
	JOIN users u1 ON g.player1_id = u1.id
	JOIN users u2 ON g.player2_id = u2.id`

// CreateGame mints a new pending game between two existing users.
func (d *DB) CreateGame(ctx context.Context, player1ID, player2ID string) (*Game, error) {
	if player1ID == player2ID {
		return nil, ErrSelfPlay
	}
	ok, err := d.UserExists(ctx, player2ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	id := genID()
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := d.sql.ExecContext(ctx, `
		INSERT INTO games (id, player1_id, player2_id, status, created_at, updated_at)
		VALUES (?,?,?,?,?,?)`,
		id, player1ID, player2ID, StatusPending, now, now); err != nil {
		return nil, fmt.Errorf("insert game: %w", err)
	}
	return d.GetGame(ctx, id)
}

// GetGame loads one game with player names joined in.
func (d *DB) GetGame(ctx context.Context, id string) (*Game, error) {
	row := d.sql.QueryRowContext(ctx, `SELECT `+gameColumns+` `+gameJoin+` WHERE g.id = ?`, id)
	return scanGame(row)
}

// ListOpenGames returns games that have not reached a terminal state,
// newest first.
func (d *DB) ListOpenGames(ctx context.Context) ([]*Game, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT `+gameColumns+` `+gameJoin+`
		WHERE g.status IN (?,?,?)
		ORDER BY g.created_at DESC`,
		StatusPending, StatusWaiting, StatusPlaying)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Game{}
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UserExists reports whether a user row exists.
func (d *DB) UserExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := d.sql.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id=?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

/* --------------------------- Matches surface --------------------------- */

// MatchParticipants returns the two slot identities for a game.
func (d *DB) MatchParticipants(ctx context.Context, gameID string) (string, string, error) {
	var left, right string
	err := d.sql.QueryRowContext(ctx,
		`SELECT player1_id, player2_id FROM games WHERE id=?`, gameID).Scan(&left, &right)
	if err == sql.ErrNoRows {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", err
	}
	return left, right, nil
}

// MarkLive mirrors a non-terminal status onto the game row. A finished
// row is never overwritten.
func (d *DB) MarkLive(ctx context.Context, gameID, status string) error {
	_, err := d.sql.ExecContext(ctx, `
		UPDATE games SET status=?, updated_at=?
		WHERE id=? AND status != ?`,
		status, time.Now().UTC().Format(time.RFC3339), gameID, StatusFinished)
	return err
}

// RecordResult commits the terminal score and winner. The status guard
// makes the write idempotent on gameID: a second call for an
// already-finished game is a successful no-op. The first successful
// write also drives tournament advancement, the single call site for
// that rule.
func (d *DB) RecordResult(ctx context.Context, gameID string, leftScore, rightScore int, winnerID string) error {
	res, err := d.sql.ExecContext(ctx, `
		UPDATE games SET status=?, player1_score=?, player2_score=?, winner_id=?, updated_at=?
		WHERE id=? AND status != ?`,
		StatusFinished, leftScore, rightScore, winnerID,
		time.Now().UTC().Format(time.RFC3339), gameID, StatusFinished)
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Duplicate terminal write; the stored record already exists.
		return nil
	}

	if err := d.advanceTournament(ctx, gameID); err != nil {
		// Advancement failure must not surface as a result-write failure;
		// the bracket can be repaired when the next game in the round ends.
		log.Warn().Err(err).Str("gameId", gameID).Msg("tournament advancement")
	}
	return nil
}

/* ------------------------------ helpers -------------------------------- */

// scannable is satisfied by *sql.Row and *sql.Rows.
type scannable interface{ Scan(dest ...any) error }

func scanGame(row scannable) (*Game, error) {
	var g Game
	var created, updated string
	err := row.Scan(&g.ID, &g.Player1ID, &g.Player2ID,
		&g.Player1Name, &g.Player2Name,
		&g.Player1Score, &g.Player2Score, &g.Status, &g.WinnerID,
		&created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.CreatedAt = mustParse(created)
	g.UpdatedAt = mustParse(updated)
	return &g, nil
}

// mustParse parses RFC3339 timestamps; on error returns zero time.
func mustParse(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// genID returns a compact 16-hex-char identifier.
// Collisions are extremely unlikely given crypto/rand entropy.
func genID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
