package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
	ProviderGemini     = "gemini"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	LLM         LLMConfig
	Ollama      OllamaConfig
	API         APIConfig
	Log         LogConfig
	Leaderboard LeaderboardConfig
	CLI         CLIConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LLMConfig struct {
	Provider     string
	BaseURL      string
	Model        string
	GradingModel string
	// Timeout bounds each completion call, as a Go duration string.
	Timeout string
	APIKey  string
}

type OllamaConfig struct {
	BaseURL string
}

type APIConfig struct {
	Token string
}

type LogConfig struct {
	Level string
}

type LeaderboardConfig struct {
	Limit int
}

type CLIConfig struct {
	UserID string
}

const defaultTimeout = 60 * time.Second

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		LLM: LLMConfig{
			Provider: ProviderOllama,
			Model:    "llama3.2",
			Timeout:  defaultTimeout.String(),
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		Log: LogConfig{
			Level: "info",
		},
		Leaderboard: LeaderboardConfig{
			Limit: 50,
		},
	}
}

// RequestTimeout parses LLM.Timeout, falling back to the default for empty
// or invalid values.
func (c LLMConfig) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return defaultTimeout
	}
	return d
}

// GradingModelOrDefault returns the grading model, or the chat model when no
// separate grading model is configured.
func (c LLMConfig) GradingModelOrDefault() string {
	if c.GradingModel != "" {
		return c.GradingModel
	}
	return c.Model
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/salesdojo/config.json, the secrets file and environment
// variables. Environment variables (SALESDOJO_*) override file values.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), fileSecrets{path: secretsFilePath()})
}

// secretReader abstracts the secrets store for testing.
type secretReader interface {
	Get(key string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretReader) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applySecrets(&cfg, secrets)
	applyEnvOverrides(&cfg)
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.LLM.Provider {
	case ProviderOllama:
	case ProviderOpenRouter, ProviderGemini:
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("missing required config: API key for provider %q. "+
				"Set it via environment variable SALESDOJO_LLM_API_KEY or %s", cfg.LLM.Provider, secretsFilePath())
		}
	default:
		return fmt.Errorf("invalid llm.provider %q (want %s, %s or %s)",
			cfg.LLM.Provider, ProviderOllama, ProviderOpenRouter, ProviderGemini)
	}
	if cfg.LLM.Model == "" {
		return fmt.Errorf("missing required config: llm.model")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	return nil
}
