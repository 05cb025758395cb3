package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"kolinsights/pkg/llm"
	"kolinsights/pkg/redis"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/insights")
	t.Setenv("LLM_API_KEY", "sk-test")
	for _, key := range []string{
		"PORT", "LLM_PROVIDER", "LLM_MODEL", "LLM_API_URL", "EMBEDDING_PROVIDER", "EMBEDDING_MODEL",
		"EMBEDDING_API_KEY", "EMBEDDING_DIMENSIONS", "MAX_ROUNDS", "TOOL_TIMEOUT",
		"REQUEST_TIMEOUT", "REDIS_ADDRS", "REDIS_MODE", "KAFKA_BROKERS", "MCP_ENABLED",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()
	assert.Equal(t, "18080", cfg.Port)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, DefaultLLMModel, cfg.LLM.Model)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.LLM.APIURL)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, "mxbai-embed-large", cfg.Embedding.Model)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
	assert.Equal(t, 6, cfg.MaxRounds)
	assert.Equal(t, 4, cfg.ToolConcurrency)
	assert.Equal(t, 20*time.Second, cfg.ToolTimeout)
	assert.Equal(t, 90*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 24*time.Hour, cfg.EmbedCacheTTL)
	assert.Equal(t, "insights.usage", cfg.UsageTopic)
	assert.False(t, cfg.MCPEnabled)
	assert.False(t, cfg.RedisEnabled())
	assert.False(t, cfg.KafkaEnabled())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/insights")
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("LLM_PROVIDER", "ollama")
	t.Setenv("LLM_API_URL", "")
	t.Setenv("EMBEDDING_DIMENSIONS", "1024")
	t.Setenv("TOOL_TIMEOUT", "5s")
	t.Setenv("REDIS_ADDRS", "r1:6379, r2:6379")
	t.Setenv("REDIS_MODE", "cluster")
	t.Setenv("KAFKA_BROKERS", "k1:9092")
	t.Setenv("MCP_ENABLED", "true")
	t.Setenv("LLM_MODEL", "openai/gpt-4o-mini")
	t.Setenv("EMBEDDING_PROVIDER", "openai")
	t.Setenv("EMBEDDING_MODEL", "text-embedding-3-small")

	cfg := LoadConfig()
	assert.Equal(t, "", cfg.LLM.APIURL)
	assert.Equal(t, 1024, cfg.EmbeddingDimensions)
	assert.Equal(t, 5*time.Second, cfg.ToolTimeout)
	assert.Equal(t, []string{"r1:6379", "r2:6379"}, cfg.Redis.Addrs)
	assert.Equal(t, redis.ModeCluster, cfg.Redis.Mode)
	assert.True(t, cfg.RedisEnabled())
	assert.True(t, cfg.KafkaEnabled())
	assert.True(t, cfg.MCPEnabled)
	assert.Equal(t, "openai/gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, "openai/gpt-4o-mini", cfg.Required()["LLM_MODEL"])
	assert.Equal(t, "postgres://db/insights", cfg.Required()["DATABASE_URL"])
}

func TestLoadConfigModelIsNeverEmpty(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/insights")
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("LLM_MODEL", "   ")

	cfg := LoadConfig()
	assert.Equal(t, DefaultLLMModel, cfg.LLM.Model)
	_, err := llm.NewProvider(cfg.LLM)
	assert.NoError(t, err)
}
