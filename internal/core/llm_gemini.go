package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const (
	geminiRoleUser  = "user"
	geminiRoleModel = "model"
)

// GeminiBackend serves the google provider through a chat session per request.
type GeminiBackend struct {
	client *genai.Client
	logger *zap.Logger
}

func NewGeminiBackend(ctx context.Context, apiKey string, logger *zap.Logger) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiBackend{client: client, logger: logger}, nil
}

func (b *GeminiBackend) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

func (b *GeminiBackend) GenerateText(ctx context.Context, model string, req *GenerationRequest) (*GenerationResult, error) {
	m := b.client.GenerativeModel(model)
	if req.SystemMessage != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.SystemMessage)},
		}
	}

	temp := float32(req.Temperature)
	m.GenerationConfig = genai.GenerationConfig{Temperature: &temp}
	if req.MaxTokens > 0 {
		maxTokens := int32(req.MaxTokens)
		m.GenerationConfig.MaxOutputTokens = &maxTokens
	}

	contents := geminiContents(req.History, req.UserPrompt)
	last := contents[len(contents)-1]

	session := m.StartChat()
	session.History = contents[:len(contents)-1]

	resp, err := session.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("gemini returned no candidates")
	}

	text := partsText(resp.Candidates[0].Content.Parts, b.logger)
	if text == "" {
		return nil, errors.New("gemini returned an empty or non-text response")
	}

	res := &GenerationResult{
		Text:     text,
		Provider: ProviderGoogle,
		Model:    model,
	}
	if u := resp.UsageMetadata; u != nil {
		res.Usage = Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return res, nil
}

// geminiContents converts a history plus the new prompt into chat contents that start with a user turn,
// alternate roles and end with the user turn to send.
func geminiContents(history []Turn, prompt string) []*genai.Content {
	var contents []*genai.Content
	appendTurn := func(role, text string) {
		if text == "" {
			return
		}
		if len(contents) == 0 && role == geminiRoleModel {
			return
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, genai.Text(text))
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(text)}})
	}

	for _, turn := range history {
		role := geminiRoleUser
		if turn.Role == RoleAssistant {
			role = geminiRoleModel
		}
		appendTurn(role, turn.Content)
	}
	appendTurn(geminiRoleUser, prompt)

	if len(contents) == 0 || contents[len(contents)-1].Role != geminiRoleUser {
		contents = append(contents, &genai.Content{Role: geminiRoleUser, Parts: []genai.Part{genai.Text(prompt)}})
	}
	return contents
}

func partsText(parts []genai.Part, logger *zap.Logger) string {
	var sb strings.Builder
	for _, part := range parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		} else if logger != nil {
			logger.Debug("Skipping non-text Gemini response part", zap.String("type", fmt.Sprintf("%T", part)))
		}
	}
	return strings.TrimSpace(sb.String())
}
