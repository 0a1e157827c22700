package deduplication

import (
	"fmt"
	"time"
)

// Default tunables for the deduplication engine
const (
	DefaultSimThreshold   = 0.84
	DefaultBorderlineLow  = 0.78
	DefaultBorderlineHigh = 0.84
	DefaultTopK           = 10
	DefaultFallbackWindow = 3
	DefaultEmbedDim       = 768

	// MaxEmbedChars caps the embedding payload (title + blank line + description)
	MaxEmbedChars = 2000
	// SummaryChars caps each description quoted in an arbitration prompt
	SummaryChars = 300
	// SignaturePrefixBits is how many leading signature bits name a bucket
	SignaturePrefixBits = 16

	DefaultEmbedWorkers       = 8
	DefaultEmbedBatchSize     = 1
	DefaultEmbedTimeout       = 60 * time.Second
	DefaultArbitrationTimeout = 180 * time.Second

	DefaultIndexPath = "data/ai_news.index"
	DefaultIDMapPath = "data/ai_news.idmap.json"
)

// Config holds the tunables of a Deduplicator
type Config struct {
	// SimThreshold is the inclusive cosine similarity at which a neighbor is a duplicate
	SimThreshold float32
	// BorderlineLow and BorderlineHigh bound the arbitration band [low, high)
	BorderlineLow  float32
	BorderlineHigh float32
	// TopK is the number of neighbors requested from the index
	TopK int
	// FallbackWindow is how many recent admissions are arbitrated against
	// when an article has no embedding
	FallbackWindow int

	EmbedDim       int
	EmbedWorkers   int
	EmbedBatchSize int
	EmbedTimeout   time.Duration
	// EmbedRateLimit is calls per second to the embedding provider; 0 disables limiting
	EmbedRateLimit float64

	ArbitrationTimeout time.Duration

	// SignatureEnabled switches the bit-signature stage on
	SignatureEnabled bool
	// ExactCapacity and SignatureCapacity bound the in-memory filters; 0 is unbounded
	ExactCapacity     int
	SignatureCapacity int
	// WarmFilters seeds the exact and signature filters from loaded entries
	WarmFilters bool

	HNSW HNSWConfig

	IndexPath string
	IDMapPath string
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		SimThreshold:       DefaultSimThreshold,
		BorderlineLow:      DefaultBorderlineLow,
		BorderlineHigh:     DefaultBorderlineHigh,
		TopK:               DefaultTopK,
		FallbackWindow:     DefaultFallbackWindow,
		EmbedDim:           DefaultEmbedDim,
		EmbedWorkers:       DefaultEmbedWorkers,
		EmbedBatchSize:     DefaultEmbedBatchSize,
		EmbedTimeout:       DefaultEmbedTimeout,
		ArbitrationTimeout: DefaultArbitrationTimeout,
		SignatureEnabled:   true,
		HNSW:               DefaultHNSWConfig(DefaultEmbedDim),
		IndexPath:          DefaultIndexPath,
		IDMapPath:          DefaultIDMapPath,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.SimThreshold < -1 || c.SimThreshold > 1 {
		return fmt.Errorf("sim_threshold must be between -1.0 and 1.0 (got %.2f)", c.SimThreshold)
	}
	if c.BorderlineLow < -1 || c.BorderlineLow > 1 {
		return fmt.Errorf("borderline_low must be between -1.0 and 1.0 (got %.2f)", c.BorderlineLow)
	}
	if c.BorderlineHigh < -1 || c.BorderlineHigh > 1 {
		return fmt.Errorf("borderline_high must be between -1.0 and 1.0 (got %.2f)", c.BorderlineHigh)
	}
	if c.BorderlineLow > c.BorderlineHigh {
		return fmt.Errorf("borderline_low (%.2f) cannot exceed borderline_high (%.2f)", c.BorderlineLow, c.BorderlineHigh)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("topk must be positive (got %d)", c.TopK)
	}
	if c.FallbackWindow < 0 {
		return fmt.Errorf("fallback_window cannot be negative (got %d)", c.FallbackWindow)
	}
	if c.EmbedDim <= 0 {
		return fmt.Errorf("embed_dim must be positive (got %d)", c.EmbedDim)
	}
	if c.EmbedWorkers <= 0 {
		return fmt.Errorf("embed_workers must be positive (got %d)", c.EmbedWorkers)
	}
	if c.EmbedBatchSize <= 0 {
		return fmt.Errorf("embed_batch_size must be positive (got %d)", c.EmbedBatchSize)
	}
	if c.EmbedTimeout <= 0 {
		return fmt.Errorf("embed_timeout must be positive (got %v)", c.EmbedTimeout)
	}
	if c.EmbedRateLimit < 0 {
		return fmt.Errorf("embed_rate_limit cannot be negative (got %.2f)", c.EmbedRateLimit)
	}
	if c.ArbitrationTimeout <= 0 {
		return fmt.Errorf("arbitration_timeout must be positive (got %v)", c.ArbitrationTimeout)
	}
	if c.ExactCapacity < 0 || c.SignatureCapacity < 0 {
		return fmt.Errorf("filter capacities cannot be negative (got %d, %d)", c.ExactCapacity, c.SignatureCapacity)
	}
	if c.HNSW.Dim != c.EmbedDim {
		return fmt.Errorf("hnsw dim (%d) must match embed_dim (%d)", c.HNSW.Dim, c.EmbedDim)
	}
	return c.HNSW.Validate()
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf(
		"Config{Sim: %.2f, Band: [%.2f, %.2f), TopK: %d, Dim: %d, Workers: %d, Signature: %t, Index: %s}",
		c.SimThreshold, c.BorderlineLow, c.BorderlineHigh, c.TopK, c.EmbedDim, c.EmbedWorkers,
		c.SignatureEnabled, c.IndexPath,
	)
}
