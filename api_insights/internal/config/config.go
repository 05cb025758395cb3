package config

import (
	"time"

	"kolinsights/pkg/config"
	"kolinsights/pkg/llm"
	"kolinsights/pkg/redis"
)

// Config stores environment configuration for the insights service.
type Config struct {
	Port        string
	DatabaseURL string

	LLM                 llm.Config
	Embedding           llm.Config
	EmbeddingDimensions int

	MaxRounds       int
	ToolConcurrency int
	ToolTimeout     time.Duration
	RequestTimeout  time.Duration

	Redis         redis.Config
	EmbedCacheTTL time.Duration

	KafkaBrokers   []string
	KafkaClusterID string
	UsageTopic     string

	MCPEnabled bool
}

const (
	DefaultLLMModel       = "nex-agi/deepseek-v3.1-nex-n1:free"
	DefaultEmbedProvider  = "ollama"
	DefaultEmbeddingModel = "mxbai-embed-large"
)

// LoadConfig loads the insights configuration from environment variables.
// DATABASE_URL and LLM_API_KEY are required.
func LoadConfig() Config {
	llmCfg := llm.LoadConfig()
	llmCfg.APIKey = config.RequireEnv("LLM_API_KEY")
	if llmCfg.Model == "" {
		llmCfg.Model = DefaultLLMModel
	}
	if llmCfg.APIURL == "" && llmCfg.Provider == "openai" {
		llmCfg.APIURL = "https://openrouter.ai/api/v1"
	}

	embedCfg := llm.LoadEmbeddingConfig(llm.Config{
		Provider: DefaultEmbedProvider,
		Model:    DefaultEmbeddingModel,
		APIKey:   llmCfg.APIKey,
	})

	return Config{
		Port:        config.GetEnv("PORT", "18080"),
		DatabaseURL: config.RequireEnv("DATABASE_URL"),

		LLM:                 llmCfg,
		Embedding:           embedCfg,
		EmbeddingDimensions: config.GetEnvInt("EMBEDDING_DIMENSIONS", 0),

		MaxRounds:       config.GetEnvInt("MAX_ROUNDS", 6),
		ToolConcurrency: config.GetEnvInt("TOOL_CONCURRENCY", 4),
		ToolTimeout:     config.GetEnvDuration("TOOL_TIMEOUT", 20*time.Second),
		RequestTimeout:  config.GetEnvDuration("REQUEST_TIMEOUT", 90*time.Second),

		Redis:         loadRedis(),
		EmbedCacheTTL: config.GetEnvDuration("EMBED_CACHE_TTL", 24*time.Hour),

		KafkaBrokers:   config.GetEnvList("KAFKA_BROKERS"),
		KafkaClusterID: config.GetEnv("KAFKA_CLUSTER_ID", "local"),
		UsageTopic:     config.GetEnv("USAGE_KAFKA_TOPIC", "insights.usage"),

		MCPEnabled: config.GetEnvBool("MCP_ENABLED", false),
	}
}

func loadRedis() redis.Config {
	return redis.Config{
		Mode:       redis.ParseMode(config.GetEnv("REDIS_MODE", "single")),
		Addrs:      config.GetEnvList("REDIS_ADDRS"),
		MasterName: config.GetEnv("REDIS_MASTER_NAME", ""),
		Username:   config.GetEnv("REDIS_USERNAME", ""),
		Password:   config.GetEnv("REDIS_PASSWORD", ""),
		DB:         config.GetEnvInt("REDIS_DB", 0),
	}
}

// RedisEnabled reports whether an embedding cache backend was configured.
func (c Config) RedisEnabled() bool { return len(c.Redis.Addrs) > 0 }

// KafkaEnabled reports whether usage events should be published.
func (c Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// Required lists the configuration the health check reports on.
func (c Config) Required() map[string]string {
	return map[string]string{
		"DATABASE_URL":    c.DatabaseURL,
		"LLM_API_KEY":     c.LLM.APIKey,
		"LLM_MODEL":       c.LLM.Model,
		"EMBEDDING_MODEL": c.Embedding.Model,
	}
}
