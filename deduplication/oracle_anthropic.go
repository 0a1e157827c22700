package deduplication

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is a small, cheap model; the reply is one word
const DefaultAnthropicModel = "claude-3-5-haiku-20241022"

// AnthropicOracle asks a Claude model through the Messages API
type AnthropicOracle struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicOracle creates an oracle from an API key
func NewAnthropicOracle(apiKey, model string) (*AnthropicOracle, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if model == "" {
		model = DefaultAnthropicModel
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicOracle{client: &client, model: model, maxTokens: 8}, nil
}

func (a *AnthropicOracle) Ask(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return text.String(), nil
}
