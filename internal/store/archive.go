// Package store archives flushed messages to sqlite. Writes happen off
// the request path, via the task tracker; a write failure loses one
// archive row, never a message.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/inlet/internal/bus"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	sender_id       TEXT NOT NULL,
	combined_text   TEXT NOT NULL,
	event_count     INTEGER NOT NULL,
	overflow_count  INTEGER NOT NULL,
	outcome         TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id, created_at);
`

// Archive persists routed messages.
type Archive struct {
	db *sql.DB
}

// ArchivedMessage is one stored row.
type ArchivedMessage struct {
	ID             int64
	ConversationID string
	SenderID       string
	CombinedText   string
	EventCount     int
	OverflowCount  int
	Outcome        string
	CreatedAt      time.Time
}

// Open creates or opens the archive database at path.
func Open(path string) (*Archive, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init archive schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// SaveMessage stores one routed message with its outcome.
func (a *Archive) SaveMessage(ctx context.Context, msg *bus.CombinedMessage, outcome bus.RoutingOutcome) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, combined_text, event_count, overflow_count, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ConversationID,
		msg.SenderID,
		msg.CombinedText(),
		len(msg.Events),
		msg.OverflowCount,
		string(outcome.Kind),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("archive message: %w", err)
	}
	return nil
}

// Recent returns up to limit archived messages for a conversation, newest
// first.
func (a *Archive) Recent(ctx context.Context, convID string, limit int) ([]ArchivedMessage, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, combined_text, event_count, overflow_count, outcome, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		convID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var out []ArchivedMessage
	for rows.Next() {
		var m ArchivedMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.CombinedText,
			&m.EventCount, &m.OverflowCount, &m.Outcome, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}
