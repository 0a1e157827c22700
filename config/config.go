package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"newsdedup/deduplication"
)

// Config is the process configuration, read from the environment
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Port        int    `envconfig:"PORT" default:"8080"`

	OllamaBaseURL  string        `envconfig:"OLLAMA_BASE_URL" default:"http://localhost:11434"`
	EmbedProvider  string        `envconfig:"EMBED_PROVIDER" default:"ollama"`
	EmbedModel     string        `envconfig:"EMBED_MODEL" default:""`
	EmbedDim       int           `envconfig:"EMBED_DIM" default:"768"`
	EmbedWorkers   int           `envconfig:"EMBED_WORKERS" default:"8"`
	EmbedBatchSize int           `envconfig:"EMBED_BATCH_SIZE" default:"1"`
	EmbedTimeout   time.Duration `envconfig:"EMBED_TIMEOUT" default:"60s"`
	EmbedRateLimit float64       `envconfig:"EMBED_RATE_LIMIT" default:"0"`
	OpenAIAPIKey   string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string        `envconfig:"OPENAI_BASE_URL"`
	CohereAPIKey   string        `envconfig:"COHERE_API_KEY"`

	OracleProvider     string        `envconfig:"ORACLE_PROVIDER" default:"ollama"`
	LLMModel           string        `envconfig:"LLM_MODEL" default:"qwen3:4b"`
	AnthropicAPIKey    string        `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicModel     string        `envconfig:"ANTHROPIC_MODEL"`
	ArbitrationTimeout time.Duration `envconfig:"ARBITRATION_TIMEOUT" default:"180s"`

	IndexPath string `envconfig:"INDEX_PATH" default:"data/ai_news.index"`
	IDMapPath string `envconfig:"IDMAP_PATH" default:"data/ai_news.idmap.json"`

	SimThreshold   float32 `envconfig:"DEDUP_SIM_THRESHOLD" default:"0.84"`
	BorderlineLow  float32 `envconfig:"DEDUP_BORDERLINE_LOW" default:"0.78"`
	BorderlineHigh float32 `envconfig:"DEDUP_BORDERLINE_HIGH" default:"0.84"`
	TopK           int     `envconfig:"DEDUP_TOPK" default:"10"`

	SimhashEnabled  bool          `envconfig:"SIMHASH_ENABLED" default:"true"`
	SimhashCapacity int           `envconfig:"SIMHASH_CAPACITY" default:"0"`
	ExactBackend    string        `envconfig:"EXACT_BACKEND" default:"memory"`
	ExactCapacity   int           `envconfig:"EXACT_CAPACITY" default:"0"`
	WarmFilters     bool          `envconfig:"WARM_FILTERS" default:"false"`
	RedisAddr       string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword   string        `envconfig:"REDIS_PASS"`
	RedisDB         int           `envconfig:"REDIS_DB" default:"0"`
	ExactKey        string        `envconfig:"EXACT_KEY" default:"newsdedup:exact"`
	ExactTTL        time.Duration `envconfig:"EXACT_TTL" default:"168h"`

	DecisionDB string `envconfig:"DECISION_DB"`

	S3Bucket       string `envconfig:"S3_BUCKET"`
	S3Region       string `envconfig:"S3_REGION"`
	S3Profile      string `envconfig:"S3_PROFILE"`
	S3Prefix       string `envconfig:"S3_PREFIX" default:"newsdedup"`
	S3UsePathStyle bool   `envconfig:"S3_USE_PATH_STYLE" default:"false"`

	KafkaBrokers     []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaInputTopic  string   `envconfig:"KAFKA_INPUT_TOPIC" default:"articles.raw"`
	KafkaOutputTopic string   `envconfig:"KAFKA_OUTPUT_TOPIC" default:"articles.novel"`
	KafkaGroupID     string   `envconfig:"KAFKA_GROUP_ID" default:"newsdedup"`
}

// legacyNames maps older variable names onto current ones
var legacyNames = map[string]string{
	"FAISS_INDEX_PATH": "INDEX_PATH",
	"FAISS_IDMAP_PATH": "IDMAP_PATH",
}

// Load reads .env (if present), the YAML file named by NEWSDEDUP_CONFIG (if
// set), then the process environment. Variables already set in the
// environment win over both files.
func Load() (*Config, error) {
	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", DotEnvFile, err)
	}
	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		if err := applyYAML(path); err != nil {
			return nil, err
		}
	}
	for legacy, current := range legacyNames {
		if v, ok := os.LookupEnv(legacy); ok {
			if _, set := os.LookupEnv(current); !set {
				_ = os.Setenv(current, v)
			}
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// applyYAML exports every key of a flat YAML mapping as an environment
// variable unless it is already set. Keys are upper-cased, so both
// "EMBED_DIM: 768" and "embed_dim: 768" work.
func applyYAML(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	for key, v := range values {
		name := strings.ToUpper(strings.TrimSpace(key))
		if _, set := os.LookupEnv(name); set {
			continue
		}
		var value string
		switch t := v.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, len(t))
			for i, p := range t {
				parts[i] = fmt.Sprint(p)
			}
			value = strings.Join(parts, ",")
		default:
			value = fmt.Sprint(t)
		}
		if err := os.Setenv(name, value); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks if the configuration has valid values
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535 (got %d)", c.Port)
	}
	switch c.EmbedProvider {
	case EmbedProviderOllama, EmbedProviderOpenAI, EmbedProviderNone:
	case EmbedProviderCohere:
		if strings.TrimSpace(c.CohereAPIKey) == "" {
			return fmt.Errorf("COHERE_API_KEY is required when EMBED_PROVIDER=cohere")
		}
	default:
		return fmt.Errorf("EMBED_PROVIDER must be one of ollama, openai, cohere, none (got %q)", c.EmbedProvider)
	}
	switch c.OracleProvider {
	case OracleOllama, OracleNone:
	case OracleAnthropic:
		if strings.TrimSpace(c.AnthropicAPIKey) == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when ORACLE_PROVIDER=anthropic")
		}
	default:
		return fmt.Errorf("ORACLE_PROVIDER must be one of ollama, anthropic, none (got %q)", c.OracleProvider)
	}
	switch c.ExactBackend {
	case ExactBackendMemory, ExactBackendRedis:
	default:
		return fmt.Errorf("EXACT_BACKEND must be memory or redis (got %q)", c.ExactBackend)
	}
	if c.ExactTTL < 0 {
		return fmt.Errorf("EXACT_TTL cannot be negative (got %v)", c.ExactTTL)
	}
	return c.DedupConfig().Validate()
}

// DedupConfig builds the engine configuration
func (c *Config) DedupConfig() deduplication.Config {
	d := deduplication.DefaultConfig()
	d.SimThreshold = c.SimThreshold
	d.BorderlineLow = c.BorderlineLow
	d.BorderlineHigh = c.BorderlineHigh
	d.TopK = c.TopK
	d.EmbedDim = c.EmbedDim
	d.EmbedWorkers = c.EmbedWorkers
	d.EmbedBatchSize = c.EmbedBatchSize
	d.EmbedTimeout = c.EmbedTimeout
	d.EmbedRateLimit = c.EmbedRateLimit
	d.ArbitrationTimeout = c.ArbitrationTimeout
	d.SignatureEnabled = c.SimhashEnabled
	d.SignatureCapacity = c.SimhashCapacity
	d.ExactCapacity = c.ExactCapacity
	d.WarmFilters = c.WarmFilters
	d.HNSW = deduplication.DefaultHNSWConfig(c.EmbedDim)
	d.IndexPath = c.IndexPath
	d.IDMapPath = c.IDMapPath
	return d
}

// RedisExactConfig builds the Redis exact filter settings
func (c *Config) RedisExactConfig() deduplication.RedisExactConfig {
	return deduplication.RedisExactConfig{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
		Key:      c.ExactKey,
		TTL:      c.ExactTTL,
	}
}

// MirrorEnabled reports whether state snapshots go to S3
func (c *Config) MirrorEnabled() bool {
	return strings.TrimSpace(c.S3Bucket) != ""
}

// Addr is the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
