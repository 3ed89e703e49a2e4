package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"keymapd/internal/engine"
)

// Schema for the keymapd persistence store.
const schema = `
CREATE TABLE IF NOT EXISTS overrides (
    fingerprint TEXT NOT NULL,
    layer       INTEGER NOT NULL,
    pos_row     INTEGER NOT NULL,
    pos_col     INTEGER NOT NULL,
    action      TEXT NOT NULL,
    updated_ns  INTEGER NOT NULL,
    PRIMARY KEY (fingerprint, layer, pos_row, pos_col)
);

CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    keymap_name TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    tick_hz     INTEGER NOT NULL,
    started_ns  INTEGER NOT NULL,
    ended_ns    INTEGER
);

CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_ns);
CREATE INDEX IF NOT EXISTS idx_sessions_fingerprint ON sessions(fingerprint);

CREATE TABLE IF NOT EXISTS key_stats (
    session_id  TEXT NOT NULL REFERENCES sessions(id),
    pos_row     INTEGER NOT NULL,
    pos_col     INTEGER NOT NULL,
    presses     INTEGER NOT NULL DEFAULT 0,
    taps        INTEGER NOT NULL DEFAULT 0,
    holds       INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (session_id, pos_row, pos_col)
);
`

// DefaultBusyTimeoutMs is applied when Open is given a non-positive timeout.
const DefaultBusyTimeoutMs = 5000

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at the given path and applies the
// schema. The busy timeout covers the daemon and keymapctl touching the
// database at the same time.
func Open(path string, busyTimeoutMs int) (*Store, error) {
	if busyTimeoutMs <= 0 {
		busyTimeoutMs = DefaultBusyTimeoutMs
	}

	// Stats describe typing behavior, so the directory is private.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, busyTimeoutMs)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveOverride records a rebinding, replacing any previous action at the
// same position.
func (s *Store) SaveOverride(o *Override) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO overrides (fingerprint, layer, pos_row, pos_col, action, updated_ns)
		VALUES (?, ?, ?, ?, ?, ?)`,
		o.Fingerprint, o.Layer, o.Row, o.Col, o.Action, o.UpdatedNs,
	)
	if err != nil {
		return fmt.Errorf("save override: %w", err)
	}
	return nil
}

// Overrides returns all overrides recorded for a keymap fingerprint, in
// layer then position order. A fingerprint with no overrides returns an
// empty slice.
func (s *Store) Overrides(fingerprint string) ([]Override, error) {
	rows, err := s.db.Query(`
		SELECT fingerprint, layer, pos_row, pos_col, action, updated_ns
		FROM overrides WHERE fingerprint = ?
		ORDER BY layer, pos_row, pos_col`,
		fingerprint,
	)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	defer rows.Close()

	return scanOverrides(rows)
}

// DeleteOverride removes the override at one position. Removing a position
// that has no override is not an error.
func (s *Store) DeleteOverride(fingerprint string, layer int, row, col uint8) error {
	_, err := s.db.Exec(`
		DELETE FROM overrides
		WHERE fingerprint = ? AND layer = ? AND pos_row = ? AND pos_col = ?`,
		fingerprint, layer, row, col,
	)
	if err != nil {
		return fmt.Errorf("delete override: %w", err)
	}
	return nil
}

// ClearOverrides removes every override for a fingerprint and reports how
// many were removed.
func (s *Store) ClearOverrides(fingerprint string) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM overrides WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return 0, fmt.Errorf("clear overrides: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count cleared overrides: %w", err)
	}
	return n, nil
}

// PruneOverrides removes overrides for every fingerprint except the one
// currently loaded. The daemon runs this at boot so overrides stranded by
// keymap edits do not pile up.
func (s *Store) PruneOverrides(keep string) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM overrides WHERE fingerprint != ?`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune overrides: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count pruned overrides: %w", err)
	}
	return n, nil
}

// BeginSession inserts a new session row with a generated ID and returns it.
func (s *Store) BeginSession(keymapName, fingerprint string, tickHz int, startedNs int64) (*Session, error) {
	sess := &Session{
		ID:          uuid.NewString(),
		KeymapName:  keymapName,
		Fingerprint: fingerprint,
		TickHz:      tickHz,
		StartedNs:   startedNs,
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, keymap_name, fingerprint, tick_hz, started_ns, ended_ns)
		VALUES (?, ?, ?, ?, ?, NULL)`,
		sess.ID, sess.KeymapName, sess.Fingerprint, sess.TickHz, sess.StartedNs,
	)
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	return sess, nil
}

// EndSession stamps the session's end time.
func (s *Store) EndSession(id string, endedNs int64) error {
	_, err := s.db.Exec(`UPDATE sessions SET ended_ns = ? WHERE id = ?`, endedNs, id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// GetSession returns one session, or nil if it does not exist.
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, keymap_name, fingerprint, tick_hz, started_ns, ended_ns
		FROM sessions WHERE id = ?`,
		id,
	)

	var sess Session
	err := row.Scan(&sess.ID, &sess.KeymapName, &sess.Fingerprint, &sess.TickHz, &sess.StartedNs, &sess.EndedNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// RecentSessions returns the most recently started sessions, newest first.
func (s *Store) RecentSessions(limit int) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT id, keymap_name, fingerprint, tick_hz, started_ns, ended_ns
		FROM sessions ORDER BY started_ns DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// AddKeyStats folds a drained batch of per-key counters into a session.
// The same position may be flushed many times over a session; counts
// accumulate.
func (s *Store) AddKeyStats(sessionID string, stats []engine.KeyStat) error {
	if len(stats) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO key_stats (session_id, pos_row, pos_col, presses, taps, holds)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, pos_row, pos_col) DO UPDATE SET
			presses = presses + excluded.presses,
			taps    = taps + excluded.taps,
			holds   = holds + excluded.holds`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, st := range stats {
		if _, err := stmt.Exec(sessionID, st.Row, st.Col, st.Presses, st.Taps, st.Holds); err != nil {
			return fmt.Errorf("insert key stats: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit key stats: %w", err)
	}
	return nil
}

// SessionStats returns the per-key counts of one session in position order.
func (s *Store) SessionStats(sessionID string) ([]KeyCount, error) {
	rows, err := s.db.Query(`
		SELECT pos_row, pos_col, presses, taps, holds
		FROM key_stats WHERE session_id = ?
		ORDER BY pos_row, pos_col`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query session stats: %w", err)
	}
	defer rows.Close()

	return scanKeyCounts(rows)
}

// TopKeys returns the busiest positions across every session of a keymap,
// most pressed first.
func (s *Store) TopKeys(fingerprint string, limit int) ([]KeyCount, error) {
	rows, err := s.db.Query(`
		SELECT k.pos_row, k.pos_col, SUM(k.presses), SUM(k.taps), SUM(k.holds)
		FROM key_stats k
		JOIN sessions s ON s.id = k.session_id
		WHERE s.fingerprint = ?
		GROUP BY k.pos_row, k.pos_col
		ORDER BY SUM(k.presses) DESC, k.pos_row, k.pos_col
		LIMIT ?`,
		fingerprint, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query top keys: %w", err)
	}
	defer rows.Close()

	return scanKeyCounts(rows)
}

// Summary aggregates all recorded activity for a keymap fingerprint.
func (s *Store) Summary(fingerprint string) (*StatsSummary, error) {
	row := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(MIN(started_ns), 0),
		       COALESCE(MAX(started_ns), 0)
		FROM sessions WHERE fingerprint = ?`,
		fingerprint,
	)

	var sum StatsSummary
	if err := row.Scan(&sum.Sessions, &sum.FirstNs, &sum.LastNs); err != nil {
		return nil, fmt.Errorf("summarize sessions: %w", err)
	}

	row = s.db.QueryRow(`
		SELECT COALESCE(SUM(k.presses), 0),
		       COALESCE(SUM(k.taps), 0),
		       COALESCE(SUM(k.holds), 0)
		FROM key_stats k
		JOIN sessions s ON s.id = k.session_id
		WHERE s.fingerprint = ?`,
		fingerprint,
	)
	if err := row.Scan(&sum.Presses, &sum.Taps, &sum.Holds); err != nil {
		return nil, fmt.Errorf("summarize key stats: %w", err)
	}

	return &sum, nil
}

func scanOverrides(rows *sql.Rows) ([]Override, error) {
	var overrides []Override
	for rows.Next() {
		var o Override
		if err := rows.Scan(&o.Fingerprint, &o.Layer, &o.Row, &o.Col, &o.Action, &o.UpdatedNs); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.KeymapName, &sess.Fingerprint, &sess.TickHz, &sess.StartedNs, &sess.EndedNs); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func scanKeyCounts(rows *sql.Rows) ([]KeyCount, error) {
	var counts []KeyCount
	for rows.Next() {
		var c KeyCount
		if err := rows.Scan(&c.Row, &c.Col, &c.Presses, &c.Taps, &c.Holds); err != nil {
			return nil, fmt.Errorf("scan key count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
