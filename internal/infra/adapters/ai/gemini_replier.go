package ai

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/ports/adapter"
)

var _ adapter.ReplyGenerator = (*GeminiReplier)(nil)

// GeminiReplier generates replies with the official Gemini SDK.
type GeminiReplier struct {
	client *genai.Client
	model  string
	maxOut int
}

func NewGeminiReplier(ctx context.Context, apiKey, baseURL, model string, maxOut int) (*GeminiReplier, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiReplier{client: c, model: model, maxOut: maxOut}, nil
}

func (g *GeminiReplier) Reply(ctx context.Context, text string) (string, error) {
	chat, err := g.client.Chats.Create(
		ctx,
		g.model,
		&genai.GenerateContentConfig{
			MaxOutputTokens:   int32(g.maxOut),
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
		},
		nil,
	)
	if err != nil {
		return "", err
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		return "", err
	}

	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if t := strings.TrimSpace(part.Text); t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("gemini: empty candidate")
}
