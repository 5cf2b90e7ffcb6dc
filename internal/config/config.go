package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	LLM     LLMConfig
	Memory  MemoryConfig
	Storage StorageConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type LLMConfig struct {
	BaseURL string
	Model   string
	// APIKeys is a comma-separated credential list; the invoker rotates
	// through it on rate limits.
	APIKeys string
	Timeout string
}

type MemoryConfig struct {
	ShortTermLimit    int
	ExtractionTimeout string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8000,
		},
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o",
			Timeout: "60s",
		},
		Memory: MemoryConfig{
			ShortTermLimit:    30,
			ExtractionTimeout: "20s",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a .env file in the working directory (if one
// exists), the JSON file backend at $XDG_CONFIG_HOME/memchat/config.json, and
// environment variables. Environment variables (MEMCHAT_*) override backend
// values; secrets are env-only.
func Load() (Config, error) {
	godotenv.Load() // missing .env is fine
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.LLM.APIKeys == "" {
		return Config{}, fmt.Errorf("missing required config: model API keys. " +
			"Set a comma-separated list via environment variable MEMCHAT_LLM_API_KEYS")
	}
	if _, err := time.ParseDuration(cfg.LLM.Timeout); err != nil {
		return Config{}, fmt.Errorf("invalid llm.timeout %q: %w", cfg.LLM.Timeout, err)
	}
	if _, err := time.ParseDuration(cfg.Memory.ExtractionTimeout); err != nil {
		return Config{}, fmt.Errorf("invalid memory.extraction_timeout %q: %w", cfg.Memory.ExtractionTimeout, err)
	}

	return cfg, nil
}

// Keys splits the configured credential list into individual API keys,
// preserving order. Empty segments are dropped.
func (c LLMConfig) Keys() []string {
	parts := strings.Split(c.APIKeys, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if k := strings.TrimSpace(p); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
