package narrative

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const systemPrompt = "You are a transit traffic analyst. Answer in at most " +
	"two short sentences of plain prose, no lists or markdown."

// OpenAIGenerator produces narratives through the chat completion API.
type OpenAIGenerator struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAIGenerator(apiKey, model string, timeout time.Duration) *OpenAIGenerator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIGenerator{
		client:  openai.NewClient(apiKey),
		model:   model,
		timeout: timeout,
	}
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.4,
		MaxTokens:   120,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
