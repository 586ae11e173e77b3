package core

import (
	"context"
	"errors"
	"sync"

	"gwi.com/classroom-messaging/internal/store"
)

type fakeBackend struct {
	mu     sync.Mutex
	text   string
	err    error
	reqs   []*GenerationRequest
	models []string
	ctxErr []error
}

func (b *fakeBackend) GenerateText(ctx context.Context, model string, req *GenerationRequest) (*GenerationResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reqs = append(b.reqs, req)
	b.models = append(b.models, model)
	b.ctxErr = append(b.ctxErr, ctx.Err())
	if b.err != nil {
		return nil, b.err
	}
	text := b.text
	if text == "" {
		text = "generated reply"
	}
	return &GenerationResult{
		Text:  text,
		Usage: Usage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16},
	}, nil
}

func (b *fakeBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.reqs)
}

func (b *fakeBackend) lastRequest() *GenerationRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.reqs) == 0 {
		return nil
	}
	return b.reqs[len(b.reqs)-1]
}

type fakeImageBackend struct {
	fakeBackend
	prompts []string
}

func (b *fakeImageBackend) GenerateImage(_ context.Context, model, prompt string) (*GenerationResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts = append(b.prompts, prompt)
	b.models = append(b.models, model)
	if b.err != nil {
		return nil, b.err
	}
	return &GenerationResult{Text: "https://images.example/1.png"}, nil
}

type fakeModerator struct {
	mu     sync.Mutex
	result *ModerationResult
	err    error
	inputs []string
}

func (m *fakeModerator) Enabled() bool { return true }

func (m *fakeModerator) Moderate(_ context.Context, text string) (*ModerationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, text)
	if m.err != nil {
		return nil, m.err
	}
	if m.result == nil {
		return &ModerationResult{}, nil
	}
	return m.result, nil
}

var errStoreDown = errors.New("store is down")

// flakyStore fails every CreateMessage after the first okCreates, and every read when readErr is set.
type flakyStore struct {
	*store.MemoryStore
	mu        sync.Mutex
	okCreates int
	creates   int
	readErr   error
}

func (s *flakyStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	s.mu.Lock()
	s.creates++
	fail := s.creates > s.okCreates
	s.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return s.MemoryStore.CreateMessage(ctx, msg)
}

func (s *flakyStore) GetLastNMessagesByThreadID(ctx context.Context, threadID string, n int) ([]store.Message, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.MemoryStore.GetLastNMessagesByThreadID(ctx, threadID, n)
}

func (s *flakyStore) GetConversation(ctx context.Context, a, b string, limit, offset int) ([]store.Message, int, error) {
	if s.readErr != nil {
		return nil, 0, s.readErr
	}
	return s.MemoryStore.GetConversation(ctx, a, b, limit, offset)
}

// leakyStore returns canned rows regardless of the thread asked for.
type leakyStore struct {
	store.MessageStore
	rows []store.Message
}

func (s *leakyStore) GetLastNMessagesByThreadID(_ context.Context, _ string, n int) ([]store.Message, error) {
	if n < len(s.rows) {
		return s.rows[:n], nil
	}
	return s.rows, nil
}
