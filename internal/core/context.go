package core

import (
	"context"
	"fmt"

	"gwi.com/classroom-messaging/internal/store"
)

const DefaultHistoryLimit = 5

// ContextAssembler builds generation requests from the recent history of a thread.
type ContextAssembler struct {
	store        store.MessageStore
	historyLimit int
	maxTokens    int
	temperature  float64
}

func NewContextAssembler(s store.MessageStore, historyLimit, maxTokens int, temperature float64) *ContextAssembler {
	if historyLimit < 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &ContextAssembler{
		store:        s,
		historyLimit: historyLimit,
		maxTokens:    maxTokens,
		temperature:  temperature,
	}
}

// BuildContext returns the persona's system prompt, up to historyLimit prior turns of the thread in
// chronological order, and newUserText as the final user turn. Messages listed in exclude (usually the
// message that triggered the call, already persisted) are not part of the history.
func (a *ContextAssembler) BuildContext(ctx context.Context, threadID string, persona Persona, newUserText, callerID string, exclude ...string) (*GenerationRequest, error) {
	req := &GenerationRequest{
		SystemMessage: persona.SystemPrompt(),
		History:       []Turn{},
		UserPrompt:    newUserText,
		ModelVariant:  persona.PreferredVariant(),
		MaxTokens:     a.maxTokens,
		Temperature:   a.temperature,
		CallerID:      callerID,
	}
	if a.historyLimit == 0 {
		return req, nil
	}

	// newest first
	msgs, err := a.store.GetLastNMessagesByThreadID(ctx, threadID, a.historyLimit+len(exclude))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load history for thread %s: %w", ErrPersistenceFailure, threadID, err)
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	var kept []store.Message
	for _, m := range msgs {
		if m.ThreadID != threadID {
			continue
		}
		if _, ok := skip[m.ID]; ok {
			continue
		}
		if len(kept) == a.historyLimit {
			break
		}
		kept = append(kept, m)
	}

	for i := len(kept) - 1; i >= 0; i-- {
		m := kept[i]
		if m.Content == "" {
			continue
		}
		role := RoleUser
		if m.IsAssistant() {
			role = RoleAssistant
		}
		req.History = append(req.History, Turn{Role: role, Content: m.Content})
	}
	return req, nil
}
