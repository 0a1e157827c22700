package deduplication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultOllamaLLMModel is the default arbitration model
const DefaultOllamaLLMModel = "qwen3:4b"

// OllamaOracle asks an Ollama model through POST /api/generate
type OllamaOracle struct {
	baseURL   string
	model     string
	system    string
	maxTokens int
	client    *http.Client
}

// NewOllamaOracle creates an oracle; the reply is capped to a few tokens
// since only a YES/NO prefix is read
func NewOllamaOracle(baseURL, model string, timeout time.Duration) *OllamaOracle {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaLLMModel
	}
	return &OllamaOracle{
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		maxTokens: 3,
		client:    &http.Client{Timeout: timeout},
	}
}

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Options map[string]interface{} `json:"options"`
	Stream  bool                   `json:"stream"`
}

func (o *OllamaOracle) Ask(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		System: o.system,
		Options: map[string]interface{}{
			"temperature": 0.0,
			"num_predict": o.maxTokens,
		},
		Stream: false,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama generate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode ollama generate: %w", err)
	}
	return strings.TrimSpace(parsed.Response), nil
}
