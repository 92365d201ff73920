package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/auralith/muselive/pkg/provider/live"
	_ "modernc.org/sqlite"
)

// Fragment is one persisted transcript row.
type Fragment struct {
	ID        int64
	SessionID string
	Speaker   live.Speaker
	Text      string
	CreatedAt time.Time
}

// Store persists transcripts to a SQLite database.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// OpenStore opens (creating if necessary) the transcript database at path.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("transcript: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript: open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("transcript: ping sqlite: %w", err)
	}

	s := &Store{db: db, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("transcript: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    voice TEXT,
    started_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS fragments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    speaker TEXT NOT NULL,
    text TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_fragments_session_created ON fragments(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// BeginSession records a session row. Upserts so reconnects with the same ID
// are harmless.
func (s *Store) BeginSession(ctx context.Context, sessionID, voice string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, voice, started_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET voice=excluded.voice`,
		sessionID, voice, s.clock().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("transcript: begin session: %w", err)
	}
	return nil
}

// AppendFragment writes one transcript fragment for a session.
func (s *Store) AppendFragment(ctx context.Context, sessionID string, speaker live.Speaker, text string) error {
	if text == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fragments(session_id, speaker, text, created_at) VALUES(?, ?, ?, ?)`,
		sessionID, string(speaker), text, s.clock().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("transcript: append fragment: %w", err)
	}
	return nil
}

// SessionFragments retrieves up to limit fragments for a session in arrival
// order. A non-positive limit defaults to 500.
func (s *Store) SessionFragments(ctx context.Context, sessionID string, limit int) ([]Fragment, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, speaker, text, created_at
		 FROM fragments WHERE session_id = ? ORDER BY id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("transcript: query fragments: %w", err)
	}
	defer rows.Close()

	var fragments []Fragment
	for rows.Next() {
		var f Fragment
		var speaker, created string
		if err := rows.Scan(&f.ID, &f.SessionID, &speaker, &f.Text, &created); err != nil {
			return nil, fmt.Errorf("transcript: scan fragment: %w", err)
		}
		f.Speaker = live.Speaker(speaker)
		ts, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("transcript: parse created_at %q: %w", created, err)
		}
		f.CreatedAt = ts
		fragments = append(fragments, f)
	}
	return fragments, rows.Err()
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
