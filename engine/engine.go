// Package engine assembles a Deduplicator and its collaborators from config.
package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"newsdedup/common"
	"newsdedup/config"
	"newsdedup/decisionlog"
	"newsdedup/deduplication"
)

// Engine bundles the running deduplicator with the optional services it
// was wired to
type Engine struct {
	Dedup     *deduplication.Deduplicator
	Decisions *decisionlog.SQLiteRecorder
	Mirror    *common.S3Mirror
	logger    zerolog.Logger
}

// New builds every component named by cfg. Optional services that fail to
// start (Redis) degrade to their in-memory counterpart with a warning.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{logger: logger.With().Str("component", "engine").Logger()}

	provider, err := NewEmbeddingsProvider(cfg)
	if err != nil {
		return nil, err
	}
	oracle, err := NewOracle(cfg)
	if err != nil {
		return nil, err
	}

	opts := deduplication.Options{
		Config:   cfg.DedupConfig(),
		Provider: provider,
		Oracle:   oracle,
		Logger:   logger,
	}

	if cfg.ExactBackend == config.ExactBackendRedis {
		exact, err := deduplication.NewRedisExactFilter(cfg.RedisExactConfig(), logger)
		if err != nil {
			e.logger.Warn().Err(err).Msg("redis exact filter unavailable; using in-memory filter")
		} else {
			opts.Exact = exact
		}
	}

	if cfg.MirrorEnabled() {
		mirror, err := NewMirror(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		e.Mirror = mirror
		opts.Mirror = mirror
	}

	if cfg.DecisionDB != "" {
		rec, err := decisionlog.Open(cfg.DecisionDB, logger)
		if err != nil {
			return nil, fmt.Errorf("decision log: %w", err)
		}
		e.Decisions = rec
		opts.Recorder = rec
	}

	dedup, err := deduplication.NewDeduplicator(ctx, opts)
	if err != nil {
		e.closeServices()
		return nil, err
	}
	e.Dedup = dedup

	e.logger.Info().
		Str("embed_provider", cfg.EmbedProvider).
		Str("oracle", cfg.OracleProvider).
		Str("exact_backend", cfg.ExactBackend).
		Bool("mirror", e.Mirror != nil).
		Bool("decision_log", e.Decisions != nil).
		Msg("engine ready")
	return e, nil
}

// NewEmbeddingsProvider returns the configured provider, or nil for "none"
func NewEmbeddingsProvider(cfg *config.Config) (deduplication.EmbeddingsProvider, error) {
	switch cfg.EmbedProvider {
	case config.EmbedProviderOllama:
		return deduplication.NewOllamaEmbeddings(cfg.OllamaBaseURL, cfg.EmbedModel, cfg.EmbedTimeout), nil
	case config.EmbedProviderOpenAI:
		return deduplication.NewOpenAIEmbeddings(cfg.OpenAIAPIKey, cfg.EmbedModel, cfg.OpenAIBaseURL, cfg.EmbedTimeout), nil
	case config.EmbedProviderCohere:
		return deduplication.NewCohereEmbeddings(cfg.CohereAPIKey, cfg.EmbedModel, cfg.EmbedTimeout)
	case config.EmbedProviderNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbedProvider)
	}
}

// NewOracle returns the configured arbitration oracle, or nil for "none"
func NewOracle(cfg *config.Config) (deduplication.Oracle, error) {
	switch cfg.OracleProvider {
	case config.OracleOllama:
		return deduplication.NewOllamaOracle(cfg.OllamaBaseURL, cfg.LLMModel, cfg.ArbitrationTimeout), nil
	case config.OracleAnthropic:
		return deduplication.NewAnthropicOracle(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	case config.OracleNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown oracle %q", cfg.OracleProvider)
	}
}

// NewMirror connects the S3 snapshot mirror
func NewMirror(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*common.S3Mirror, error) {
	s3, err := common.NewS3(ctx, common.S3Config{
		Region:       cfg.S3Region,
		Profile:      cfg.S3Profile,
		UsePathStyle: cfg.S3UsePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 mirror: %w", err)
	}
	return common.NewS3Mirror(s3, cfg.S3Bucket, cfg.S3Prefix, logger), nil
}

// Close saves state and releases every service
func (e *Engine) Close() error {
	var err error
	if e.Dedup != nil {
		err = e.Dedup.Close()
	}
	e.closeServices()
	return err
}

func (e *Engine) closeServices() {
	if e.Decisions != nil {
		if err := e.Decisions.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("failed to close decision log")
		}
	}
}
