// internal/store/tournament.go
//
// Single-elimination tournament persistence.
// The bracket lives in tournament_matches (round, match_order) with one
// game row per match. Round advancement has exactly one rule and one
// call site: RecordResult calls advanceTournament after the first
// terminal write of a game, and the next round is created only once
// every game of the current round is finished.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Tournament statuses.
const (
	TournamentPending  = "pending"
	TournamentActive   = "active"
	TournamentFinished = "finished"
)

// CreateTournament inserts a pending tournament with the creator as its
// first participant.
func (d *DB) CreateTournament(ctx context.Context, name, createdBy string) (*Tournament, error) {
	id := genID()
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tournaments (id, name, status, created_by, created_at)
		VALUES (?,?,?,?,?)`, id, name, TournamentPending, createdBy, now); err != nil {
		return nil, fmt.Errorf("insert tournament: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tournament_participants (tournament_id, user_id, joined_at)
		VALUES (?,?,?)`, id, createdBy, now); err != nil {
		return nil, fmt.Errorf("insert creator participant: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d.GetTournament(ctx, id)
}

// GetTournament loads one tournament row.
func (d *DB) GetTournament(ctx context.Context, id string) (*Tournament, error) {
	var t Tournament
	var created string
	err := d.sql.QueryRowContext(ctx, `
		SELECT id, name, status, created_by, COALESCE(winner_id,''), created_at
		FROM tournaments WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &t.Status, &t.CreatedBy, &t.WinnerID, &created)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.CreatedAt = mustParse(created)
	return &t, nil
}

// ListTournaments returns all tournaments, newest first.
func (d *DB) ListTournaments(ctx context.Context) ([]*Tournament, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT id, name, status, created_by, COALESCE(winner_id,''), created_at
		FROM tournaments ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Tournament{}
	for rows.Next() {
		var t Tournament
		var created string
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &t.CreatedBy, &t.WinnerID, &created); err != nil {
			return nil, err
		}
		t.CreatedAt = mustParse(created)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// ListParticipants returns a tournament's entrants in join order.
func (d *DB) ListParticipants(ctx context.Context, tournamentID string) ([]*Participant, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT tp.user_id, u.username, tp.joined_at
		FROM tournament_participants tp
		JOIN users u ON tp.user_id = u.id
		WHERE tp.tournament_id = ?
		ORDER BY tp.joined_at ASC, tp.id ASC`, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Participant{}
	for rows.Next() {
		var p Participant
		var joined string
		if err := rows.Scan(&p.UserID, &p.Username, &joined); err != nil {
			return nil, err
		}
		p.JoinedAt = mustParse(joined)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ListBracket returns all bracket matches ordered by round then slot.
func (d *DB) ListBracket(ctx context.Context, tournamentID string) ([]*BracketMatch, error) {
	return d.bracketMatches(ctx, tournamentID, -1)
}

// JoinTournament adds a user to a pending tournament.
func (d *DB) JoinTournament(ctx context.Context, tournamentID, userID string) error {
	t, err := d.GetTournament(ctx, tournamentID)
	if err != nil {
		return err
	}
	if t.Status != TournamentPending {
		return ErrNotJoinable
	}

	var one int
	err = d.sql.QueryRowContext(ctx, `
		SELECT 1 FROM tournament_participants WHERE tournament_id=? AND user_id=?`,
		tournamentID, userID).Scan(&one)
	if err == nil {
		return ErrAlreadyJoined
	}
	if err != sql.ErrNoRows {
		return err
	}

	_, err = d.sql.ExecContext(ctx, `
		INSERT INTO tournament_participants (tournament_id, user_id, joined_at)
		VALUES (?,?,?)`, tournamentID, userID, time.Now().UTC().Format(time.RFC3339))
	return err
}

// StartTournament seeds round 1 by pairing participants in join order
// and flips the tournament to active. The participant count must be a
// power of two: the bracket format has no byes, so any other count
// would silently drop a winner between rounds.
func (d *DB) StartTournament(ctx context.Context, tournamentID string) ([]*BracketMatch, error) {
	t, err := d.GetTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if t.Status != TournamentPending {
		return nil, ErrNotJoinable
	}

	participants, err := d.ListParticipants(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if len(participants) < 2 || !isPowerOfTwo(len(participants)) {
		return nil, fmt.Errorf("tournament needs a power-of-two participant count, have %d", len(participants))
	}

	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for i := 0; i+1 < len(participants); i += 2 {
		gameID := genID()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO games (id, player1_id, player2_id, status, created_at, updated_at)
			VALUES (?,?,?,?,?,?)`,
			gameID, participants[i].UserID, participants[i+1].UserID, StatusPending, now, now); err != nil {
			return nil, fmt.Errorf("seed game: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tournament_matches (tournament_id, game_id, round, match_order, created_at)
			VALUES (?,?,?,?,?)`,
			tournamentID, gameID, 1, i/2+1, now); err != nil {
			return nil, fmt.Errorf("seed bracket: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE tournaments SET status=? WHERE id=?`, TournamentActive, tournamentID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	matches, err := d.bracketMatches(ctx, tournamentID, 1)
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// TournamentForGame resolves the bracket placement of a game, or
// ErrNotFound when the game is not part of any tournament.
func (d *DB) TournamentForGame(ctx context.Context, gameID string) (tournamentID string, round int, err error) {
	err = d.sql.QueryRowContext(ctx, `
		SELECT tournament_id, round FROM tournament_matches WHERE game_id=?`, gameID).
		Scan(&tournamentID, &round)
	if err == sql.ErrNoRows {
		return "", 0, ErrNotFound
	}
	return tournamentID, round, err
}

// advanceTournament runs the canonical advancement rule for the game's
// round. It is a no-op for non-tournament games and for rounds that are
// not fully finished.
func (d *DB) advanceTournament(ctx context.Context, gameID string) error {
	tournamentID, round, err := d.TournamentForGame(ctx, gameID)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	matches, err := d.bracketMatches(ctx, tournamentID, round)
	if err != nil {
		return err
	}
	winners, done := roundWinners(deref(matches))
	if !done {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339)

	if len(winners) == 1 {
		_, err := d.sql.ExecContext(ctx, `
			UPDATE tournaments SET status=?, winner_id=? WHERE id=?`,
			TournamentFinished, winners[0], tournamentID)
		return err
	}

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i := 0; i+1 < len(winners); i += 2 {
		nextGameID := genID()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO games (id, player1_id, player2_id, status, created_at, updated_at)
			VALUES (?,?,?,?,?,?)`,
			nextGameID, winners[i], winners[i+1], StatusPending, now, now); err != nil {
			return fmt.Errorf("next-round game: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tournament_matches (tournament_id, game_id, round, match_order, created_at)
			VALUES (?,?,?,?,?)`,
			tournamentID, nextGameID, round+1, i/2+1, now); err != nil {
			return fmt.Errorf("next-round bracket: %w", err)
		}
	}
	return tx.Commit()
}

// bracketMatches loads bracket matches for one round, or all rounds
// when round < 0.
func (d *DB) bracketMatches(ctx context.Context, tournamentID string, round int) ([]*BracketMatch, error) {
	q := `
		SELECT tm.game_id, tm.round, tm.match_order,
			g.player1_id, g.player2_id, u1.username, u2.username,
			g.player1_score, g.player2_score, g.status, COALESCE(g.winner_id, '')
		FROM tournament_matches tm
		JOIN games g ON tm.game_id = g.id
		JOIN users u1 ON g.player1_id = u1.id
		JOIN users u2 ON g.player2_id = u2.id
		WHERE tm.tournament_id = ?`
	args := []any{tournamentID}
	if round >= 0 {
		q += ` AND tm.round = ?`
		args = append(args, round)
	}
	q += ` ORDER BY tm.round, tm.match_order`

	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*BracketMatch{}
	for rows.Next() {
		var m BracketMatch
		if err := rows.Scan(&m.GameID, &m.Round, &m.MatchOrder,
			&m.Player1ID, &m.Player2ID, &m.Player1Name, &m.Player2Name,
			&m.Player1Score, &m.Player2Score, &m.Status, &m.WinnerID); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// roundWinners returns each finished match's winner in bracket order.
// done is false while any match of the round is still unfinished.
// The stored winner_id is authoritative (it carries forfeits, where the
// score alone can be a tie); the higher score is only a fallback for
// rows finished before winner_id existed.
func roundWinners(matches []BracketMatch) (winners []string, done bool) {
	if len(matches) == 0 {
		return nil, false
	}
	for _, m := range matches {
		if m.Status != StatusFinished {
			return nil, false
		}
		switch {
		case m.WinnerID != "":
			winners = append(winners, m.WinnerID)
		case m.Player1Score >= m.Player2Score:
			winners = append(winners, m.Player1ID)
		default:
			winners = append(winners, m.Player2ID)
		}
	}
	return winners, true
}

func isPowerOfTwo(n int) bool { return n > 0 && n&(n-1) == 0 }

func deref(in []*BracketMatch) []BracketMatch {
	out := make([]BracketMatch, len(in))
	for i, m := range in {
		out[i] = *m
	}
	return out
}
