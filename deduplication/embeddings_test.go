package deduplication

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	calls atomic.Int32
	embed func(texts []string) ([][]float32, error)
}

func (s *scriptedProvider) ModelName() string { return "scripted" }

func (s *scriptedProvider) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	s.calls.Add(1)
	return s.embed(texts)
}

func TestGatewayKeepsOrderAndIsolatesFailures(t *testing.T) {
	provider := &scriptedProvider{embed: func(texts []string) ([][]float32, error) {
		if texts[0] == "bad" {
			return nil, errors.New("provider down")
		}
		if texts[0] == "short" {
			return [][]float32{{1}}, nil
		}
		return [][]float32{{float32(len(texts[0])), 0}}, nil
	}}
	g := NewGateway(provider, GatewayConfig{Dim: 2, Workers: 3, BatchSize: 1, Timeout: time.Second}, zerolog.Nop())

	out := g.EmbedBatch(context.Background(), []string{"a", "bad", "ccc", "short", "dddd"})
	require.Len(t, out, 5)
	assert.Equal(t, []float32{1, 0}, out[0])
	assert.Nil(t, out[1], "failed call leaves its slot empty")
	assert.Equal(t, []float32{3, 0}, out[2])
	assert.Nil(t, out[3], "wrong dimension is dropped")
	assert.Equal(t, []float32{4, 0}, out[4])
	assert.Equal(t, int32(5), provider.calls.Load())
}

func TestGatewayBatchesCalls(t *testing.T) {
	provider := &scriptedProvider{embed: func(texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1}
		}
		return out, nil
	}}
	g := NewGateway(provider, GatewayConfig{Dim: 1, Workers: 2, BatchSize: 4}, zerolog.Nop())

	out := g.EmbedBatch(context.Background(), make([]string, 10))
	for _, v := range out {
		assert.NotNil(t, v)
	}
	assert.Equal(t, int32(3), provider.calls.Load())
}

func TestGatewayCountMismatchFailsChunk(t *testing.T) {
	provider := &scriptedProvider{embed: func(texts []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	}}
	g := NewGateway(provider, GatewayConfig{Dim: 1, BatchSize: 2}, zerolog.Nop())
	out := g.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.Equal(t, [][]float32{nil, nil}, out)
}

func TestGatewayTimeout(t *testing.T) {
	slow := &blockingProvider{}
	g := NewGateway(slow, GatewayConfig{Dim: 1, Timeout: 50 * time.Millisecond}, zerolog.Nop())
	start := time.Now()
	out := g.EmbedBatch(context.Background(), []string{"x"})
	assert.Nil(t, out[0])
	assert.Less(t, time.Since(start), 2*time.Second)
}

type blockingProvider struct{}

func (blockingProvider) ModelName() string { return "blocking" }

func (blockingProvider) EmbedTexts(ctx context.Context, _ []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGatewayWithoutProvider(t *testing.T) {
	g := NewGateway(nil, GatewayConfig{Dim: 3}, zerolog.Nop())
	assert.Equal(t, "", g.ModelName())
	assert.Equal(t, [][]float32{nil, nil}, g.EmbedBatch(context.Background(), []string{"a", "b"}))
}

func TestOllamaEmbeddingsProbesRoutes(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if _, ok := body["input"]; !ok {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"missing input"}`))
			return
		}
		assert.Equal(t, "nomic-embed-text", body["model"])
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.5,0.25]}]}`))
	}))
	defer srv.Close()

	o := NewOllamaEmbeddings(srv.URL+"/", "", time.Second)
	vecs, err := o.EmbedTexts(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, 0.25}, {0.5, 0.25}}, vecs)

	// 3 missing paths, then prompt (400) and input (200); the second text reuses the route
	assert.Equal(t, int32(6), hits.Load())
}

func TestOllamaEmbeddingsNoUsableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewOllamaEmbeddings(srv.URL, "m", time.Second).EmbedTexts(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable ollama embeddings endpoint")
}

func TestParseEmbeddingResponse(t *testing.T) {
	cases := map[string]string{
		"embedding":       `{"embedding":[1,2]}`,
		"data":            `{"data":[{"embedding":[1,2]}]}`,
		"string response": `{"response":"[1, 2]"}`,
		"string text":     `{"text":"[1,2]"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			vec, err := parseEmbeddingResponse([]byte(raw))
			require.NoError(t, err)
			assert.Equal(t, []float32{1, 2}, vec)
		})
	}

	_, err := parseEmbeddingResponse([]byte(`{"response":"not a list"}`))
	assert.ErrorIs(t, err, ErrEmptyResponse)
	_, err = parseEmbeddingResponse([]byte(`<html>`))
	assert.Error(t, err)
}

func TestOpenAIEmbeddings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"a", "b"}, body.Input)
		assert.Equal(t, DefaultOpenAIModel, body.Model)
		// out of order on purpose
		_, _ = w.Write([]byte(`{"data":[{"embedding":[2],"index":1},{"embedding":[1],"index":0}]}`))
	}))
	defer srv.Close()

	o := NewOpenAIEmbeddings("sk-test", "", srv.URL, time.Second)
	vecs, err := o.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}}, vecs)
}

func TestOpenAIEmbeddingsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOpenAIEmbeddings("", "m", srv.URL, time.Second).EmbedTexts(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "status 429"))
}

func TestCohereEmbeddingsRequiresKey(t *testing.T) {
	_, err := NewCohereEmbeddings("", "", time.Second)
	assert.Error(t, err)
}
