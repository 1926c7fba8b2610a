// Package sink persists the session transcript: every chat message the engine
// saw and every chatter selection it made.
package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/you/chat-conference/internal/core"
)

const schema = `CREATE TABLE IF NOT EXISTS messages (
  session_id TEXT NOT NULL,
  id TEXT NOT NULL,
  ts TEXT NOT NULL,
  username TEXT NOT NULL,
  platform TEXT NOT NULL,
  text TEXT NOT NULL,
  raw_json TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (platform, id)
);
CREATE TABLE IF NOT EXISTS selections (
  session_id TEXT NOT NULL,
  ts TEXT NOT NULL,
  slot INTEGER NOT NULL,
  username TEXT NOT NULL,
  platform TEXT NOT NULL,
  kind TEXT NOT NULL
);`

const defaultListLimit = 100

// Transcript is a SQLite-backed log. Each process run gets its own session id
// so overlapping streams can be told apart afterwards.
type Transcript struct {
	db      *sql.DB
	session string
}

func OpenTranscript(path string) (*Transcript, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	ApplySQLitePragmas(context.Background(), db)
	return &Transcript{db: db, session: uuid.NewString()}, nil
}

func (t *Transcript) Close() error { return t.db.Close() }

func (t *Transcript) Ping() error { return t.db.Ping() }

// Session returns this run's transcript session id.
func (t *Transcript) Session() string { return t.session }

func (t *Transcript) String() string {
	return fmt.Sprintf("Transcript{session=%s}", t.session)
}

// WriteMessage records one chat message. Duplicate delivery of the same
// platform message id is a no-op.
func (t *Transcript) WriteMessage(msg core.ChatMessage) error {
	const q = `INSERT INTO messages (session_id, id, ts, username, platform, text, raw_json)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(platform, id) DO NOTHING;`
	ts := msg.Ts.UTC().Format(time.RFC3339Nano)
	_, err := t.db.Exec(q, t.session, msg.ID, ts, msg.Username, msg.Platform, msg.Text, msg.RawJSON)
	return errors.Wrap(err, "insert message")
}

// WriteSelection records that a chatter was seated in a slot. kind
// distinguishes random picks from operator sets.
func (t *Transcript) WriteSelection(slot int, username string, platform core.Platform, kind string) error {
	const q = `INSERT INTO selections (session_id, ts, slot, username, platform, kind)
VALUES (?, ?, ?, ?, ?, ?);`
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := t.db.Exec(q, t.session, ts, slot, username, string(platform), kind)
	return errors.Wrap(err, "insert selection")
}

// ListRecent returns the newest messages of the current session, newest first.
func (t *Transcript) ListRecent(ctx context.Context, limit int) ([]core.ChatMessage, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	const q = `SELECT id, ts, username, platform, text, raw_json FROM messages
WHERE session_id = ? ORDER BY ts DESC LIMIT ?;`
	rows, err := t.db.QueryContext(ctx, q, t.session, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	defer rows.Close()

	var out []core.ChatMessage
	for rows.Next() {
		var (
			msg core.ChatMessage
			ts  string
		)
		if err := rows.Scan(&msg.ID, &ts, &msg.Username, &msg.Platform, &msg.Text, &msg.RawJSON); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			msg.Ts = parsed
		}
		out = append(out, msg)
	}
	return out, errors.Wrap(rows.Err(), "iterate messages")
}
