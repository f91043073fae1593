package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.ReplyGenerator = (*OpenAIReplier)(nil)

const systemPrompt = "Eres un acompañante de bienestar emocional. Responde con calidez y " +
	"empatía, en el idioma del usuario, en dos o tres frases. Nunca des diagnósticos " +
	"ni recomendaciones médicas; ante señales de crisis sugiere ayuda profesional."

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIReplier generates replies through any Chat Completions compatible
// endpoint.
type OpenAIReplier struct {
	apiKey string
	base   string // e.g., https://api.openai.com/v1
	model  string
	client *http.Client
}

func NewOpenAIReplier(apiKey, baseURL, model string) (*OpenAIReplier, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIReplier{
		apiKey: apiKey,
		base:   baseURL,
		model:  model,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (o *OpenAIReplier) Reply(ctx context.Context, text string) (string, error) {
	reqBody := struct {
		Model    string        `json:"model"`
		Messages []chatMessage `json:"messages"`
	}{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
	}

	b, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.base+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("openai http %d", resp.StatusCode)
	}

	var payload struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	for _, c := range payload.Choices {
		if c.Message.Content != "" {
			return c.Message.Content, nil
		}
	}
	return "", errors.New("no choice content")
}
