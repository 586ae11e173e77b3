package store

import (
	"context"
	"fmt"
)

// MessageStore is the persistence the gateway depends on. Messages are created and read, never mutated.
type MessageStore interface {
	// CreateMessage assigns ID and CreatedAt, then stores the message.
	CreateMessage(ctx context.Context, msg *Message) error
	// GetLastNMessagesByThreadID returns at most n messages of the thread, newest first.
	GetLastNMessagesByThreadID(ctx context.Context, threadID string, n int) ([]Message, error)
	// GetConversation returns one page of messages exchanged between a and b, newest first, and the total count.
	GetConversation(ctx context.Context, a, b string, limit, offset int) ([]Message, int, error)
	Close() error
}

// Open returns the backend for driver ("sqlite", "postgres" or "memory").
func Open(driver, url string) (MessageStore, error) {
	switch driver {
	case "sqlite":
		return NewSQLiteStore(url)
	case "postgres":
		return NewPostgresStore(url)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
