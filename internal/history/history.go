// Package history records finished matches to a SQLite database. The
// store is strictly append-and-report: live games are never restored from
// it, it only feeds the admin API and post-hoc inspection.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/ivans-csu/super-cow-powers/internal/events"
	"github.com/ivans-csu/super-cow-powers/internal/util"
)

const schema = `
CREATE TABLE IF NOT EXISTS matches (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	game_id     INTEGER NOT NULL,
	host_id     INTEGER NOT NULL,
	guest_id    INTEGER NOT NULL,
	black_score INTEGER NOT NULL,
	white_score INTEGER NOT NULL,
	result      TEXT NOT NULL,
	finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_matches_finished_at ON matches(finished_at);
`

// Match is one recorded finished game. The result is from black's (the
// guest's) perspective: "black", "white", or "tie".
type Match struct {
	ID         int64     `json:"id"`
	GameID     uint32    `json:"game_id"`
	HostID     int64     `json:"host_id"`
	GuestID    int64     `json:"guest_id"`
	BlackScore int       `json:"black_score"`
	WhiteScore int       `json:"white_score"`
	Result     string    `json:"result"`
	FinishedAt time.Time `json:"finished_at"`
}

// Store wraps the SQLite database holding match records.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore opens or creates the history database at the given path and
// applies the schema.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %s: %w", path, err)
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := util.ComponentLogger("history")
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		logger.Warn().Err(err).Msg("failed to enable WAL mode")
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("history database opened")
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Attach subscribes the store to game-over events so every finished match
// is recorded as it ends.
func (s *Store) Attach(bus *events.Bus) {
	bus.Subscribe(events.EventGameOver, "history.gameOver", func(e events.Event) {
		p, ok := e.Payload.(events.GameOverPayload)
		if !ok {
			return
		}
		if err := s.Record(Match{
			GameID:     p.GameID,
			HostID:     p.HostID,
			GuestID:    p.GuestID,
			BlackScore: p.Black,
			WhiteScore: p.White,
			FinishedAt: time.Now().UTC(),
		}); err != nil {
			s.logger.Warn().Err(err).Uint32("game", p.GameID).Msg("failed to record match")
		}
	})
}

// Record appends one finished match. The result column is derived from
// the scores if unset.
func (s *Store) Record(m Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.Result == "" {
		m.Result = resultOf(m.BlackScore, m.WhiteScore)
	}
	if m.FinishedAt.IsZero() {
		m.FinishedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT INTO matches (game_id, host_id, guest_id, black_score, white_score, result, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.GameID, m.HostID, m.GuestID, m.BlackScore, m.WhiteScore, m.Result,
		m.FinishedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert match record: %w", err)
	}
	return nil
}

// Recent returns up to limit matches, most recently finished first.
func (s *Store) Recent(limit int) ([]Match, error) {
	rows, err := s.db.Query(
		`SELECT id, game_id, host_id, guest_id, black_score, white_score, result, finished_at
		 FROM matches ORDER BY finished_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query match history: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		var finished string
		if err := rows.Scan(&m.ID, &m.GameID, &m.HostID, &m.GuestID,
			&m.BlackScore, &m.WhiteScore, &m.Result, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan match record: %w", err)
		}
		m.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Count returns the total number of recorded matches.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM matches`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count match records: %w", err)
	}
	return n, nil
}

func resultOf(black, white int) string {
	switch {
	case black > white:
		return "black"
	case white > black:
		return "white"
	default:
		return "tie"
	}
}
