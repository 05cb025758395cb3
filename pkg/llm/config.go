package llm

import (
	"fmt"
	"strconv"
	"strings"

	"kolinsights/pkg/config"
)

type Config struct {
	Provider    string
	Model       string
	APIKey      string
	APIURL      string
	MaxTokens   int
	Temperature *float64
}

// LoadConfig reads LLM_* variables. LLM_TEMPERATURE is optional; when unset
// the provider default applies.
func LoadConfig() Config {
	cfg := Config{
		Provider:  config.GetEnv("LLM_PROVIDER", "openai"),
		Model:     config.GetEnv("LLM_MODEL", ""),
		APIKey:    config.GetEnv("LLM_API_KEY", ""),
		APIURL:    config.GetEnv("LLM_API_URL", ""),
		MaxTokens: config.GetEnvInt("LLM_MAX_TOKENS", 0),
	}
	if raw := config.GetEnv("LLM_TEMPERATURE", ""); raw != "" {
		if t, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.Temperature = &t
		}
	}
	return cfg
}

// LoadEmbeddingConfig reads EMBEDDING_* variables. Unset variables take the
// matching field of defaults.
func LoadEmbeddingConfig(defaults Config) Config {
	return Config{
		Provider: config.GetEnv("EMBEDDING_PROVIDER", defaults.Provider),
		Model:    config.GetEnv("EMBEDDING_MODEL", defaults.Model),
		APIKey:   config.GetEnv("EMBEDDING_API_KEY", defaults.APIKey),
		APIURL:   config.GetEnv("EMBEDDING_API_URL", defaults.APIURL),
	}
}

func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai", "openrouter":
		return NewOpenAIProvider(cfg), nil
	case "ollama":
		return NewOllamaProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
