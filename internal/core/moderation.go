package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	openai "github.com/sashabaranov/go-openai"
)

type ModerationResult struct {
	Flagged    bool     `json:"flagged"`
	Categories []string `json:"categories,omitempty"`
}

// Moderator classifies user text before it is stored.
type Moderator interface {
	Moderate(ctx context.Context, text string) (*ModerationResult, error)
	Enabled() bool
}

// DisabledModerator passes everything.
type DisabledModerator struct{}

func (DisabledModerator) Moderate(context.Context, string) (*ModerationResult, error) {
	return &ModerationResult{}, nil
}

func (DisabledModerator) Enabled() bool { return false }

// OpenAIModerator calls the primary provider's moderation endpoint.
type OpenAIModerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIModerator uses the endpoint's default model when model is empty.
func NewOpenAIModerator(client *openai.Client, model string) *OpenAIModerator {
	return &OpenAIModerator{client: client, model: model}
}

func (m *OpenAIModerator) Enabled() bool { return true }

func (m *OpenAIModerator) Moderate(ctx context.Context, text string) (*ModerationResult, error) {
	resp, err := m.client.Moderations(ctx, openai.ModerationRequest{
		Input: text,
		Model: m.model,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: moderation: %w", ErrProviderCallFailure, err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("%w: moderation returned no results", ErrProviderCallFailure)
	}

	res := resp.Results[0]
	out := &ModerationResult{Flagged: res.Flagged}
	if res.Flagged {
		categories, err := flaggedCategories(res.Categories)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProviderCallFailure, err)
		}
		out.Categories = categories
	}
	return out, nil
}

// flaggedCategories reports the set categories by their API names ("hate", "self-harm", ...).
func flaggedCategories(c openai.ResultCategories) ([]string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var flags map[string]bool
	if err := json.Unmarshal(data, &flags); err != nil {
		return nil, errors.New("unexpected moderation category format")
	}

	var names []string
	for name, set := range flags {
		if set {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
