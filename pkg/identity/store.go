// Package identity persists the mapping between external platform
// identities and ironclaw sessions, so the same person keeps the same
// conversation across process restarts. It also remembers the last chat
// each session was seen in, which is how recovered outbound events find
// their way home.
package identity

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS identities (
	platform   TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	session_id TEXT NOT NULL,
	chat_id    TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (platform, user_id)
);
CREATE INDEX IF NOT EXISTS idx_identities_session ON identities(session_id);
`

// Map is the persisted identity→session store. Written only by the
// channel manager; read by the agent worker and the delivery worker.
type Map struct {
	db *sql.DB
}

// Open creates or opens the identity database at path, in WAL mode so a
// mid-write crash never corrupts the map.
func Open(path string) (*Map, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open identity db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init identity schema: %w", err)
	}
	return &Map{db: db}, nil
}

// Close releases the database handle.
func (m *Map) Close() error { return m.db.Close() }

// Resolve returns the session bound to (platform, userID), if any.
func (m *Map) Resolve(platform, userID string) (string, bool, error) {
	var sessionID string
	err := m.db.QueryRow(
		`SELECT session_id FROM identities WHERE platform = ? AND user_id = ?`,
		platform, userID,
	).Scan(&sessionID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve identity: %w", err)
	}
	return sessionID, true, nil
}

// Bind records (platform, userID) → sessionID and the chat the user last
// wrote from. Upserts so repeat contact just refreshes the route.
func (m *Map) Bind(platform, userID, sessionID, chatID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := m.db.Exec(`
		INSERT INTO identities (platform, user_id, session_id, chat_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(platform, user_id) DO UPDATE SET
			session_id = excluded.session_id,
			chat_id    = excluded.chat_id,
			updated_at = excluded.updated_at`,
		platform, userID, sessionID, chatID, now, now,
	)
	if err != nil {
		return fmt.Errorf("bind identity: %w", err)
	}
	return nil
}

// Route finds the platform and chat to deliver a session's replies to.
// When several identities share a session the most recently active wins.
func (m *Map) Route(sessionID string) (platform, chatID string, ok bool, err error) {
	row := m.db.QueryRow(
		`SELECT platform, chat_id FROM identities
		 WHERE session_id = ? AND chat_id != ''
		 ORDER BY updated_at DESC LIMIT 1`,
		sessionID,
	)
	if scanErr := row.Scan(&platform, &chatID); scanErr == sql.ErrNoRows {
		return "", "", false, nil
	} else if scanErr != nil {
		return "", "", false, fmt.Errorf("route session: %w", scanErr)
	}
	return platform, chatID, true, nil
}

// Count reports the number of known identities, for status output.
func (m *Map) Count() (int, error) {
	var n int
	if err := m.db.QueryRow(`SELECT COUNT(*) FROM identities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return n, nil
}
