package deduplication

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultOllamaURL and DefaultOllamaEmbedModel match a stock local Ollama install
const (
	DefaultOllamaURL        = "http://localhost:11434"
	DefaultOllamaEmbedModel = "nomic-embed-text"
)

// ErrEmptyResponse is returned when a backend answers without usable data
var ErrEmptyResponse = errors.New("empty response")

var (
	ollamaEmbedPaths = []string{"/api/embeddings", "/api/v1/embeddings", "/embeddings", "/v1/embeddings"}
	ollamaEmbedKeys  = []string{"prompt", "input", "text"}
)

// OllamaEmbeddings implements EmbeddingsProvider against an Ollama server.
// Servers differ in endpoint path and payload key, so the first call probes
// the known combinations and the working one is remembered.
type OllamaEmbeddings struct {
	baseURL string
	model   string
	client  *http.Client

	mu       sync.Mutex
	resolved *ollamaRoute
}

type ollamaRoute struct {
	path string
	key  string
}

// NewOllamaEmbeddings creates an Ollama embeddings provider
func NewOllamaEmbeddings(baseURL, model string, timeout time.Duration) *OllamaEmbeddings {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaEmbedModel
	}
	return &OllamaEmbeddings{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (o *OllamaEmbeddings) ModelName() string { return o.model }

// EmbedTexts embeds each text with its own request; Ollama's legacy
// endpoint takes a single prompt.
func (o *OllamaEmbeddings) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := o.embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (o *OllamaEmbeddings) embed(ctx context.Context, text string) ([]float32, error) {
	o.mu.Lock()
	route := o.resolved
	o.mu.Unlock()

	if route != nil {
		vec, _, err := o.call(ctx, *route, text)
		return vec, err
	}

	var lastErr error
	for _, path := range ollamaEmbedPaths {
		for _, key := range ollamaEmbedKeys {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			r := ollamaRoute{path: path, key: key}
			vec, notFound, err := o.call(ctx, r, text)
			if err == nil {
				o.mu.Lock()
				o.resolved = &r
				o.mu.Unlock()
				return vec, nil
			}
			lastErr = err
			if notFound {
				// the path itself is missing; other keys will not help
				break
			}
		}
	}
	if lastErr == nil {
		lastErr = ErrEmptyResponse
	}
	return nil, fmt.Errorf("no usable ollama embeddings endpoint at %s: %w", o.baseURL, lastErr)
}

// call posts one embedding request. notFound reports a 404 on the path.
func (o *OllamaEmbeddings) call(ctx context.Context, r ollamaRoute, text string) (vec []float32, notFound bool, err error) {
	body, err := json.Marshal(map[string]string{"model": o.model, r.key: text})
	if err != nil {
		return nil, false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+r.path, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, true, fmt.Errorf("%s: not found", r.path)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, false, err
	}
	// Some servers put a usable body on non-2xx replies, so parse first
	vec, perr := parseEmbeddingResponse(raw)
	if perr == nil {
		return vec, false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("%s: status %d", r.path, resp.StatusCode)
	}
	return nil, false, fmt.Errorf("%s: %w", r.path, perr)
}

// parseEmbeddingResponse accepts {"embedding":[...]}, {"data":[{"embedding":[...]}]}
// or a JSON list encoded as a string in "response" or "text".
func parseEmbeddingResponse(raw []byte) ([]float32, error) {
	var parsed struct {
		Embedding []float64 `json:"embedding"`
		Data      []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
		Response string `json:"response"`
		Text     string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Embedding) > 0 {
		return float64sTo32(parsed.Embedding), nil
	}
	if len(parsed.Data) > 0 && len(parsed.Data[0].Embedding) > 0 {
		return float64sTo32(parsed.Data[0].Embedding), nil
	}
	for _, s := range []string{parsed.Response, parsed.Text} {
		if s == "" {
			continue
		}
		var list []float64
		if err := json.Unmarshal([]byte(s), &list); err == nil && len(list) > 0 {
			return float64sTo32(list), nil
		}
	}
	return nil, ErrEmptyResponse
}
