package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAITestClient(t *testing.T, handler http.HandlerFunc) *openai.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return openai.NewClientWithConfig(cfg)
}

func writeJSON(t *testing.T, w http.ResponseWriter, body string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	_, err := w.Write([]byte(body))
	require.NoError(t, err)
}

func TestOpenAIGenerateText(t *testing.T) {
	var got openai.ChatCompletionRequest
	client := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(t, w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini-2024-07-18",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": " Chlorophyll absorbs light. "}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 42, "completion_tokens": 6, "total_tokens": 48}
		}`)
	})

	b := NewOpenAIBackend(client)
	res, err := b.GenerateText(context.Background(), "gpt-4o-mini", &GenerationRequest{
		SystemMessage: "be brief",
		History: []Turn{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
		},
		UserPrompt:  "what absorbs light?",
		MaxTokens:   500,
		Temperature: 0.5,
		CallerID:    "U1",
	})
	require.NoError(t, err)

	assert.Equal(t, "Chlorophyll absorbs light.", res.Text)
	assert.Equal(t, ProviderPrimary, res.Provider)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", res.Model)
	assert.Equal(t, Usage{PromptTokens: 42, CompletionTokens: 6, TotalTokens: 48}, res.Usage)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, 500, got.MaxTokens)
	assert.Equal(t, float32(0.5), got.Temperature)
	assert.Equal(t, "U1", got.User)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, got.Messages[1].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, got.Messages[2].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, got.Messages[3].Role)
	assert.Equal(t, "what absorbs light?", got.Messages[3].Content)
}

func TestOpenAIGenerateTextNoChoices(t *testing.T) {
	client := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, `{"id": "chatcmpl-2", "object": "chat.completion", "choices": []}`)
	})

	_, err := NewOpenAIBackend(client).GenerateText(context.Background(), "gpt-4o", &GenerationRequest{UserPrompt: "hi"})
	assert.Error(t, err)
}

func TestOpenAIGenerateTextUpstreamError(t *testing.T) {
	client := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "quota exceeded", "type": "rate_limit_error"}}`))
	})

	_, err := NewOpenAIBackend(client).GenerateText(context.Background(), "gpt-4o", &GenerationRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestOpenAIGenerateImage(t *testing.T) {
	var got openai.ImageRequest
	client := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/images/generations", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(t, w, `{"created": 1700000000, "data": [{"url": "https://images.example/cell.png"}]}`)
	})

	res, err := NewOpenAIBackend(client).GenerateImage(context.Background(), "dall-e-3", "a plant cell")
	require.NoError(t, err)
	assert.Equal(t, "https://images.example/cell.png", res.Text)
	assert.Equal(t, "dall-e-3", res.Model)
	assert.Equal(t, "a plant cell", got.Prompt)
	assert.Equal(t, "dall-e-3", got.Model)
	assert.Equal(t, 1, got.N)
}

func TestOpenAIModerator(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		flagged    bool
		categories []string
	}{
		{
			name:    "clean",
			body:    `{"id": "modr-1", "model": "text-moderation-007", "results": [{"flagged": false, "categories": {"hate": false}}]}`,
			flagged: false,
		},
		{
			name: "flagged",
			body: `{"id": "modr-2", "model": "text-moderation-007", "results": [{"flagged": true,
				"categories": {"violence": true, "harassment": true, "hate": false}}]}`,
			flagged:    true,
			categories: []string{"harassment", "violence"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/v1/moderations", r.URL.Path)
				writeJSON(t, w, tt.body)
			})

			m := NewOpenAIModerator(client, "")
			assert.True(t, m.Enabled())

			res, err := m.Moderate(context.Background(), "some text")
			require.NoError(t, err)
			assert.Equal(t, tt.flagged, res.Flagged)
			assert.Equal(t, tt.categories, res.Categories)
		})
	}
}

func TestOpenAIModeratorFailure(t *testing.T) {
	client := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := NewOpenAIModerator(client, "").Moderate(context.Background(), "text")
	assert.ErrorIs(t, err, ErrProviderCallFailure)
}

func TestDisabledModerator(t *testing.T) {
	var m Moderator = DisabledModerator{}
	assert.False(t, m.Enabled())
	res, err := m.Moderate(context.Background(), "anything")
	require.NoError(t, err)
	assert.False(t, res.Flagged)
}
