package router

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider generates through any OpenAI-compatible chat completion
// endpoint. Together, and other vendors exposing the same API, are reached
// by pointing baseURL at them.
type OpenAIProvider struct {
	name   string
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a provider. name identifies it in logs and
// results; baseURL is optional.
func NewOpenAIProvider(name, apiKey, baseURL, model string) (*OpenAIProvider, error) {
	if name == "" || model == "" {
		return nil, fmt.Errorf("provider name and model are required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("provider %s: api key is required", name)
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIProvider{
		name:   name,
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Name identifies the provider.
func (p *OpenAIProvider) Name() string { return p.name }

// Generate runs one chat completion.
func (p *OpenAIProvider) Generate(ctx context.Context, msgs []Message) (string, error) {
	chatMsgs := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		chatMsgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: chatMsgs,
	})
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s returned no choices", p.name)
	}

	return resp.Choices[0].Message.Content, nil
}
