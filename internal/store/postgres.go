package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

//go:embed migrations.sql
var migrations embed.FS

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects with a lib/pq connection string or postgres:// URL and applies migrations.sql.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err = s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *Message) error {
	attachments, err := marshalAttachments(msg)
	if err != nil {
		return err
	}
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO messages (id, from_id, to_id, thread_id, type, content, attachments, created_at, read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = s.db.ExecContext(ctx, query,
		msg.ID, msg.From, msg.To, msg.ThreadID, string(msg.Type), msg.Content, attachments, msg.CreatedAt, msg.Read)
	if err != nil {
		return fmt.Errorf("error creating message: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLastNMessagesByThreadID(ctx context.Context, threadID string, n int) ([]Message, error) {
	query := `
		SELECT id, from_id, to_id, thread_id, type, content, attachments, created_at, read
		FROM messages
		WHERE thread_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, threadID, n)
	if err != nil {
		return nil, fmt.Errorf("error querying thread messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (s *PostgresStore) GetConversation(ctx context.Context, a, b string, limit, offset int) ([]Message, int, error) {
	const where = "(from_id = $1 AND to_id = $2) OR (from_id = $2 AND to_id = $1)"

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE "+where, a, b).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error counting conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_id, to_id, thread_id, type, content, attachments, created_at, read
		FROM messages
		WHERE `+where+`
		ORDER BY created_at DESC, seq DESC
		LIMIT $3 OFFSET $4`, a, b, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("error querying conversation: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
