package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps messages in insertion order. Used for tests and DATABASE_DRIVER=memory.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) CreateMessage(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()
	if msg.Attachments == nil {
		msg.Attachments = []Attachment{}
	}

	stored := *msg
	stored.Attachments = append([]Attachment{}, msg.Attachments...)
	s.messages = append(s.messages, stored)
	return nil
}

func (s *MemoryStore) GetLastNMessagesByThreadID(ctx context.Context, threadID string, n int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []Message{}
	for i := len(s.messages) - 1; i >= 0 && len(result) < n; i-- {
		if s.messages[i].ThreadID == threadID {
			result = append(result, s.messages[i])
		}
	}
	return result, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, a, b string, limit, offset int) ([]Message, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Message
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if (m.From == a && m.To == b) || (m.From == b && m.To == a) {
			matched = append(matched, m)
		}
	}

	total := len(matched)
	if offset >= total {
		return []Message{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// All returns every stored message in insertion order.
func (s *MemoryStore) All() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message{}, s.messages...)
}

func (s *MemoryStore) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
