package deduplication

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// EmbeddingsProvider abstracts a text->embedding generator.
// Implementations return one vector per input text, in input order.
type EmbeddingsProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
}

// GatewayConfig controls how the gateway fans out provider calls
type GatewayConfig struct {
	Dim       int
	Workers   int
	BatchSize int
	Timeout   time.Duration
	// RateLimit is provider calls per second; 0 disables limiting
	RateLimit float64
}

// Gateway turns provider calls into per-text optional vectors. A failed call
// leaves its slots nil instead of failing the batch.
type Gateway struct {
	provider EmbeddingsProvider
	cfg      GatewayConfig
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

// NewGateway wraps provider; a nil provider yields a gateway whose slots are always empty
func NewGateway(provider EmbeddingsProvider, cfg GatewayConfig, logger zerolog.Logger) *Gateway {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultEmbedWorkers
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultEmbedBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultEmbedTimeout
	}
	g := &Gateway{
		provider: provider,
		cfg:      cfg,
		logger:   logger.With().Str("component", "embeddings").Logger(),
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return g
}

// ModelName reports the provider model, or "" when there is no provider
func (g *Gateway) ModelName() string {
	if g.provider == nil {
		return ""
	}
	return g.provider.ModelName()
}

// EmbedBatch returns one slot per text in input order; a slot is nil when
// its call failed, timed out or returned a vector of the wrong dimension.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	if g.provider == nil || len(texts) == 0 {
		return out
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Workers)

	for start := 0; start < len(texts); start += g.cfg.BatchSize {
		end := start + g.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start := start
		chunk := texts[start:end]
		eg.Go(func() error {
			vecs, err := g.embedChunk(egCtx, chunk)
			if err != nil {
				g.logger.Warn().Err(err).Int("offset", start).Int("size", len(chunk)).Msg("embedding call failed")
				return nil
			}
			for i, v := range vecs {
				if g.cfg.Dim > 0 && len(v) != g.cfg.Dim {
					g.logger.Warn().Int("got", len(v)).Int("want", g.cfg.Dim).Msg("embedding dimension mismatch")
					continue
				}
				out[start+i] = v
			}
			return nil
		})
	}
	// Workers never return errors; failures stay local to their slots
	_ = eg.Wait()
	return out
}

func (g *Gateway) embedChunk(ctx context.Context, chunk []string) ([][]float32, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	vecs, err := g.provider.EmbedTexts(callCtx, chunk)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(chunk) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vecs), len(chunk))
	}
	return vecs, nil
}

func float64sTo32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// http1Client forces HTTP/1.1; some providers reset HTTP/2 streams on large bodies
func http1Client(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ForceAttemptHTTP2 = false
	transport.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
	return &http.Client{Transport: transport, Timeout: timeout}
}
