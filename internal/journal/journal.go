// Package journal records captured events into a SQLite database so a
// session can be replayed later.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dooshek/keymon/internal/capture"
	"github.com/dooshek/keymon/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    started_ns  INTEGER NOT NULL,
    ended_ns    INTEGER,
    backend     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  INTEGER NOT NULL REFERENCES sessions(id),
    ts_ns       INTEGER NOT NULL,
    kind        INTEGER NOT NULL,
    code        INTEGER NOT NULL,
    name        TEXT NOT NULL,
    delta       INTEGER NOT NULL,
    axis        INTEGER NOT NULL,
    x           INTEGER NOT NULL,
    y           INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, id);
`

const flushEvery = time.Second

// ErrNoSession means the requested session id does not exist.
var ErrNoSession = errors.New("journal session not found")

// Session describes one recorded run.
type Session struct {
	ID      int64
	Started time.Time
	Ended   time.Time // zero while recording or after a crash
	Backend string
	Events  int
}

// Journal is an open database. Recording starts with Begin.
type Journal struct {
	db *sql.DB

	mu      sync.Mutex
	session int64
	pending []capture.RawEvent
}

// Open opens or creates the database at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Begin starts a new session and returns its id.
func (j *Journal) Begin(backend string) (int64, error) {
	res, err := j.db.Exec(`INSERT INTO sessions (started_ns, backend) VALUES (?, ?)`,
		time.Now().UnixNano(), backend)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	j.mu.Lock()
	j.session = id
	j.mu.Unlock()
	logger.Debugf("Journal session %d started", id)
	return id, nil
}

// Observe buffers one event of the current session. It is called from the
// poll loop and never touches the database.
func (j *Journal) Observe(ev capture.RawEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.session == 0 {
		return
	}
	j.pending = append(j.pending, ev)
}

// Run flushes buffered events periodically until ctx is done.
func (j *Journal) Run(ctx context.Context) {
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Flush(); err != nil {
				logger.Error("Failed to flush journal", err)
			}
		}
	}
}

// Flush writes buffered events in one transaction.
func (j *Journal) Flush() error {
	j.mu.Lock()
	batch := j.pending
	j.pending = nil
	session := j.session
	j.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO events (session_id, ts_ns, kind, code, name, delta, axis, x, y)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, ev := range batch {
		_, err := stmt.Exec(session, unixNano(ev.Time), int(ev.Kind), ev.Code, ev.Name,
			ev.Delta, int(ev.Axis), ev.X, ev.Y)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// End flushes and marks the current session finished.
func (j *Journal) End() error {
	if err := j.Flush(); err != nil {
		return err
	}
	j.mu.Lock()
	session := j.session
	j.session = 0
	j.mu.Unlock()
	if session == 0 {
		return nil
	}
	_, err := j.db.Exec(`UPDATE sessions SET ended_ns = ? WHERE id = ?`, time.Now().UnixNano(), session)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Close ends any open session and closes the database.
func (j *Journal) Close() error {
	err := j.End()
	if cerr := j.db.Close(); err == nil {
		err = cerr
	}
	return err
}

// Sessions lists recorded sessions, newest first.
func (j *Journal) Sessions() ([]Session, error) {
	rows, err := j.db.Query(`
		SELECT s.id, s.started_ns, s.ended_ns, s.backend, COUNT(e.id)
		FROM sessions s LEFT JOIN events e ON e.session_id = s.id
		GROUP BY s.id ORDER BY s.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(&s.ID, &started, &ended, &s.Backend, &s.Events); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.Started = time.Unix(0, started)
		if ended.Valid {
			s.Ended = time.Unix(0, ended.Int64)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Latest returns the id of the newest session.
func (j *Journal) Latest() (int64, error) {
	var id int64
	err := j.db.QueryRow(`SELECT id FROM sessions ORDER BY id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNoSession
	}
	if err != nil {
		return 0, fmt.Errorf("query latest session: %w", err)
	}
	return id, nil
}

// Events returns the events of a session in capture order.
func (j *Journal) Events(session int64) ([]capture.RawEvent, error) {
	var exists int
	err := j.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, session).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %d", ErrNoSession, session)
	}

	rows, err := j.db.Query(`
		SELECT ts_ns, kind, code, name, delta, axis, x, y
		FROM events WHERE session_id = ? ORDER BY id`, session)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []capture.RawEvent
	for rows.Next() {
		var ev capture.RawEvent
		var ts int64
		var kind, axis int
		if err := rows.Scan(&ts, &kind, &ev.Code, &ev.Name, &ev.Delta, &axis, &ev.X, &ev.Y); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ts != 0 {
			ev.Time = time.Unix(0, ts)
		}
		ev.Kind = capture.Kind(kind)
		ev.Axis = capture.Axis(axis)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
