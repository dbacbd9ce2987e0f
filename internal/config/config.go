package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Providers ProvidersConfig
	Models    ModelsConfig
	Retrieval RetrievalConfig
	Dispatch  DispatchConfig
	Org       OrgConfig
}

type ServerConfig struct {
	Port       int
	MCPEnabled bool
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// ProvidersConfig holds model provider endpoints. API keys are secrets and
// only ever come from the environment.
type ProvidersConfig struct {
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	AnthropicAPIKey   string
	AnthropicBaseURL  string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OllamaBaseURL     string
}

// ModelsConfig is the catalog the model selector picks from.
type ModelsConfig struct {
	Fast           string
	Quality        string
	Fallback       string
	LargeContext   string
	Classification string
	Summarization  string
	Response       string
	Generic        string
}

type RetrievalConfig struct {
	Backend    string // "keyword" or "vector"
	MinScore   float64
	EmbedModel string
}

type DispatchConfig struct {
	Concurrency  int
	PollInterval string
	MaxAttempts  int
}

type OrgConfig struct {
	SeedFile string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:       4000,
			MCPEnabled: true,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Providers: ProvidersConfig{
			OpenAIBaseURL:     "https://api.openai.com/v1",
			AnthropicBaseURL:  "https://api.anthropic.com",
			OpenRouterBaseURL: "https://openrouter.ai/api/v1",
		},
		Models: ModelsConfig{
			Fast:           "gpt-4o",
			Quality:        "claude-3-5-sonnet-20241022",
			Fallback:       "gpt-4-turbo",
			LargeContext:   "claude-3-opus-20240229",
			Classification: "gpt-4o-mini",
			Summarization:  "claude-3-haiku-20240307",
			Response:       "claude-3-5-haiku-20241022",
			Generic:        "gpt-3.5-turbo",
		},
		Retrieval: RetrievalConfig{
			Backend:    "keyword",
			MinScore:   0.6,
			EmbedModel: "nomic-embed-text",
		},
		Dispatch: DispatchConfig{
			Concurrency:  4,
			PollInterval: "1s",
			MaxAttempts:  3,
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/civicdesk/config.json, then a .env file in the working
// directory, then CIVICDESK_* environment variables, which win.
//
// At least one model provider must be configured.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	p := c.Providers
	if p.OpenAIAPIKey == "" && p.AnthropicAPIKey == "" && p.OpenRouterAPIKey == "" && p.OllamaBaseURL == "" {
		return fmt.Errorf("missing required config: no model provider configured. " +
			"Set at least one of CIVICDESK_OPENAI_API_KEY, CIVICDESK_ANTHROPIC_API_KEY, " +
			"CIVICDESK_OPENROUTER_API_KEY or CIVICDESK_OLLAMA_BASE_URL")
	}
	switch c.Retrieval.Backend {
	case "keyword", "vector":
	default:
		return fmt.Errorf("invalid retrieval.backend %q: want keyword or vector", c.Retrieval.Backend)
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		return fmt.Errorf("invalid retrieval.min_score %v: want a value in [0,1]", c.Retrieval.MinScore)
	}
	if c.Dispatch.Concurrency < 1 {
		return fmt.Errorf("invalid dispatch.concurrency %d: must be at least 1", c.Dispatch.Concurrency)
	}
	return nil
}
