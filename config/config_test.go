package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, EmbedProviderOllama, cfg.EmbedProvider)
	assert.Equal(t, 768, cfg.EmbedDim)
	assert.Equal(t, 60*time.Second, cfg.EmbedTimeout)
	assert.Equal(t, 180*time.Second, cfg.ArbitrationTimeout)
	assert.Equal(t, float32(0.84), cfg.SimThreshold)
	assert.Equal(t, float32(0.78), cfg.BorderlineLow)
	assert.True(t, cfg.SimhashEnabled)
	assert.Equal(t, ExactBackendMemory, cfg.ExactBackend)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.MirrorEnabled())
	assert.Equal(t, ":8080", cfg.Addr())

	d := cfg.DedupConfig()
	assert.NoError(t, d.Validate())
	assert.Equal(t, "data/ai_news.index", d.IndexPath)
	assert.Equal(t, 768, d.HNSW.Dim)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("EMBED_DIM", "384")
	t.Setenv("DEDUP_SIM_THRESHOLD", "0.9")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("EXACT_TTL", "24h")
	t.Setenv("S3_BUCKET", "snapshots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 384, cfg.DedupConfig().HNSW.Dim)
	assert.Equal(t, float32(0.9), cfg.DedupConfig().SimThreshold)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 24*time.Hour, cfg.RedisExactConfig().TTL)
	assert.True(t, cfg.MirrorEnabled())
}

func TestLegacyIndexPathNames(t *testing.T) {
	t.Setenv("FAISS_INDEX_PATH", "/tmp/legacy.index")
	// registered so t.Setenv restores the unset state afterwards
	t.Setenv("INDEX_PATH", "")
	require.NoError(t, os.Unsetenv("INDEX_PATH"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/legacy.index", cfg.IndexPath)
}

func TestYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "newsdedup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
embed_provider: none
EMBED_DIM: 128
kafka_brokers: [a:1, b:2]
dedup_topk: 5
`), 0o644))
	t.Setenv(ConfigFileEnv, path)
	t.Setenv("DEDUP_TOPK", "7")
	for _, name := range []string{"EMBED_PROVIDER", "EMBED_DIM", "KAFKA_BROKERS"} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EmbedProviderNone, cfg.EmbedProvider)
	assert.Equal(t, 128, cfg.EmbedDim)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.KafkaBrokers)
	assert.Equal(t, 7, cfg.TopK, "environment wins over the file")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad provider", map[string]string{"EMBED_PROVIDER": "word2vec"}, "EMBED_PROVIDER"},
		{"cohere without key", map[string]string{"EMBED_PROVIDER": "cohere"}, "COHERE_API_KEY"},
		{"anthropic without key", map[string]string{"ORACLE_PROVIDER": "anthropic"}, "ANTHROPIC_API_KEY"},
		{"bad backend", map[string]string{"EXACT_BACKEND": "memcached"}, "EXACT_BACKEND"},
		{"bad port", map[string]string{"PORT": "70000"}, "PORT"},
		{"inverted band", map[string]string{"DEDUP_BORDERLINE_LOW": "0.9"}, "borderline_low"},
		{"threshold out of range", map[string]string{"DEDUP_SIM_THRESHOLD": "1.5"}, "sim_threshold"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Setenv("COHERE_API_KEY", "")
			t.Setenv("ANTHROPIC_API_KEY", "")
			t.Setenv(ConfigFileEnv, "")
			for k, v := range c.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.want)
		})
	}
}
