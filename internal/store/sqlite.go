package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers anyway; one connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        from_id TEXT NOT NULL,
        to_id TEXT NOT NULL,
        thread_id TEXT NOT NULL,
        type TEXT NOT NULL CHECK (type IN ('text', 'ai_response', 'smart_reply', 'file')),
        content TEXT NOT NULL DEFAULT '',
        attachments_json TEXT NOT NULL DEFAULT '[]',
        created_at DATETIME NOT NULL,
        read BOOLEAN NOT NULL DEFAULT FALSE
    );

    CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages (thread_id, created_at);
    CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages (from_id, to_id, created_at);
    `
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	attachments, err := marshalAttachments(msg)
	if err != nil {
		return err
	}
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO messages (id, from_id, to_id, thread_id, type, content, attachments_json, created_at, read) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		msg.ID, msg.From, msg.To, msg.ThreadID, string(msg.Type), msg.Content, attachments, msg.CreatedAt, msg.Read)
	if err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLastNMessagesByThreadID(ctx context.Context, threadID string, n int) ([]Message, error) {
	query := `
        SELECT id, from_id, to_id, thread_id, type, content, attachments_json, created_at, read
        FROM messages
        WHERE thread_id = ?
        ORDER BY created_at DESC, rowid DESC
        LIMIT ?
    `

	rows, err := s.db.QueryContext(ctx, query, threadID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (s *SQLiteStore) GetConversation(ctx context.Context, a, b string, limit, offset int) ([]Message, int, error) {
	const where = "(from_id = ? AND to_id = ?) OR (from_id = ? AND to_id = ?)"

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE "+where, a, b, b, a).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, from_id, to_id, thread_id, type, content, attachments_json, created_at, read
        FROM messages
        WHERE `+where+`
        ORDER BY created_at DESC, rowid DESC
        LIMIT ? OFFSET ?`, a, b, b, a, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query conversation: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

func marshalAttachments(msg *Message) (string, error) {
	if msg.Attachments == nil {
		msg.Attachments = []Attachment{}
	}
	b, err := json.Marshal(msg.Attachments)
	if err != nil {
		return "", fmt.Errorf("failed to marshal attachments: %w", err)
	}
	return string(b), nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	messages := []Message{}
	for rows.Next() {
		var msg Message
		var msgType string
		var attachments []byte
		if err := rows.Scan(&msg.ID, &msg.From, &msg.To, &msg.ThreadID, &msgType, &msg.Content, &attachments, &msg.CreatedAt, &msg.Read); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Type = MessageType(msgType)
		msg.Attachments = []Attachment{}
		if len(attachments) > 0 {
			if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attachments of message %s: %w", msg.ID, err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return messages, nil
}
