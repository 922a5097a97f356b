// Package history provides durable storage for completed-session summaries
// using SQLite, so past sessions survive restarts and can be reviewed later.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/apmlive/apmlive-go-rewrite/internal/stats"
)

// Record is one completed session.
type Record struct {
	ID               string
	StartedAt        time.Time
	EndedAt          time.Time
	SessionSeconds   float64
	TotalActions     uint64
	AverageAPM       float64
	CurrentAPM       float64
	ActionsPerSecond float64
}

// FromStatistics builds a record from a session's final statistics.
func FromStatistics(id string, startedAt, endedAt time.Time, s stats.Statistics) Record {
	return Record{
		ID:               id,
		StartedAt:        startedAt,
		EndedAt:          endedAt,
		SessionSeconds:   s.SessionSeconds,
		TotalActions:     s.TotalActions,
		AverageAPM:       s.AverageAPM,
		CurrentAPM:       s.CurrentAPM,
		ActionsPerSecond: s.ActionsPerSecond,
	}
}

// Store persists session summaries.
type Store struct {
	db *sql.DB
}

// Open creates or opens the session database at the given path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	// WAL mode for concurrent readers; SQLite works best with a single writer.
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Session history store opened")
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL,
			session_seconds REAL NOT NULL,
			total_actions INTEGER NOT NULL,
			average_apm REAL NOT NULL,
			current_apm REAL NOT NULL,
			actions_per_second REAL NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_ended
		ON sessions(ended_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save inserts or replaces one session summary.
func (s *Store) Save(rec Record) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sessions
		(id, started_at, ended_at, session_seconds, total_actions, average_apm, current_apm, actions_per_second)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.StartedAt.Unix(),
		rec.EndedAt.Unix(),
		rec.SessionSeconds,
		rec.TotalActions,
		rec.AverageAPM,
		rec.CurrentAPM,
		rec.ActionsPerSecond,
	)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns up to limit sessions, most recently ended first.
func (s *Store) Recent(limit int) ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, ended_at, session_seconds, total_actions, average_apm, current_apm, actions_per_second
		FROM sessions ORDER BY ended_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var started, ended int64
		if err := rows.Scan(&rec.ID, &started, &ended, &rec.SessionSeconds,
			&rec.TotalActions, &rec.AverageAPM, &rec.CurrentAPM, &rec.ActionsPerSecond); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		rec.StartedAt = time.Unix(started, 0)
		rec.EndedAt = time.Unix(ended, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune removes sessions that ended before the cutoff. Returns rows removed.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE ended_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
