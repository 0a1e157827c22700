package config

import "time"

// Embedding providers
const (
	EmbedProviderOllama = "ollama"
	EmbedProviderOpenAI = "openai"
	EmbedProviderCohere = "cohere"
	EmbedProviderNone   = "none"
)

// Arbitration oracles
const (
	OracleOllama    = "ollama"
	OracleAnthropic = "anthropic"
	OracleNone      = "none"
)

// Exact filter backends
const (
	ExactBackendMemory = "memory"
	ExactBackendRedis  = "redis"
)

// Environment
const (
	// EnvLocal selects human-readable console logs
	EnvLocal = "local"

	// ConfigFileEnv names an optional YAML file of settings
	ConfigFileEnv = "NEWSDEDUP_CONFIG"

	// DotEnvFile is loaded when present
	DotEnvFile = ".env"
)

// HTTP server
const (
	ReadHeaderTimeout = 10 * time.Second
	ShutdownTimeout   = 15 * time.Second

	// MaxBatchArticles bounds a single API request
	MaxBatchArticles = 5000
)

// Kafka defaults
const (
	DefaultInputTopic  = "articles.raw"
	DefaultOutputTopic = "articles.novel"
	DefaultGroupID     = "newsdedup"

	// PublishAttempts and PublishBackoff bound the retries for one publish;
	// the backoff doubles after each failure
	PublishAttempts = 5
	PublishBackoff  = 500 * time.Millisecond
)

// Dashboard
const (
	// StatsPollInterval is how often the dashboard refreshes
	StatsPollInterval = 500 * time.Millisecond

	// ClientTimeout bounds dashboard and CLI API calls
	ClientTimeout = 5 * time.Second
)
