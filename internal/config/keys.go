package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

func str(key, env string, field func(cfg *Config) *string) keySpec {
	return keySpec{
		key: key, typ: kString, env: env,
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(string) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

func secret(key, env string, field func(cfg *Config) *string) keySpec {
	s := str(key, env, field)
	s.secret = true
	return s
}

func integer(key, env string, field func(cfg *Config) *int) keySpec {
	return keySpec{
		key: key, typ: kInt, env: env,
		apply:   func(cfg *Config, v any) { *field(cfg) = v.(int) },
		extract: func(cfg Config) any { return *field(&cfg) },
	}
}

var specs = []keySpec{
	integer("server.port", "CIVICDESK_SERVER_PORT", func(c *Config) *int { return &c.Server.Port }),
	{
		key: "server.mcp_enabled", typ: kBool, env: "CIVICDESK_SERVER_MCP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPEnabled },
	},
	str("storage.data_dir", "CIVICDESK_STORAGE_DATA_DIR", func(c *Config) *string { return &c.Storage.DataDir }),
	str("log.level", "CIVICDESK_LOG_LEVEL", func(c *Config) *string { return &c.Log.Level }),

	secret("providers.openai_api_key", "CIVICDESK_OPENAI_API_KEY", func(c *Config) *string { return &c.Providers.OpenAIAPIKey }),
	str("providers.openai_base_url", "CIVICDESK_OPENAI_BASE_URL", func(c *Config) *string { return &c.Providers.OpenAIBaseURL }),
	secret("providers.anthropic_api_key", "CIVICDESK_ANTHROPIC_API_KEY", func(c *Config) *string { return &c.Providers.AnthropicAPIKey }),
	str("providers.anthropic_base_url", "CIVICDESK_ANTHROPIC_BASE_URL", func(c *Config) *string { return &c.Providers.AnthropicBaseURL }),
	secret("providers.openrouter_api_key", "CIVICDESK_OPENROUTER_API_KEY", func(c *Config) *string { return &c.Providers.OpenRouterAPIKey }),
	str("providers.openrouter_base_url", "CIVICDESK_OPENROUTER_BASE_URL", func(c *Config) *string { return &c.Providers.OpenRouterBaseURL }),
	str("providers.ollama_base_url", "CIVICDESK_OLLAMA_BASE_URL", func(c *Config) *string { return &c.Providers.OllamaBaseURL }),

	str("models.fast", "CIVICDESK_MODELS_FAST", func(c *Config) *string { return &c.Models.Fast }),
	str("models.quality", "CIVICDESK_MODELS_QUALITY", func(c *Config) *string { return &c.Models.Quality }),
	str("models.fallback", "CIVICDESK_MODELS_FALLBACK", func(c *Config) *string { return &c.Models.Fallback }),
	str("models.large_context", "CIVICDESK_MODELS_LARGE_CONTEXT", func(c *Config) *string { return &c.Models.LargeContext }),
	str("models.classification", "CIVICDESK_MODELS_CLASSIFICATION", func(c *Config) *string { return &c.Models.Classification }),
	str("models.summarization", "CIVICDESK_MODELS_SUMMARIZATION", func(c *Config) *string { return &c.Models.Summarization }),
	str("models.response", "CIVICDESK_MODELS_RESPONSE", func(c *Config) *string { return &c.Models.Response }),
	str("models.generic", "CIVICDESK_MODELS_GENERIC", func(c *Config) *string { return &c.Models.Generic }),

	str("retrieval.backend", "CIVICDESK_RETRIEVAL_BACKEND", func(c *Config) *string { return &c.Retrieval.Backend }),
	{
		key: "retrieval.min_score", typ: kFloat, env: "CIVICDESK_RETRIEVAL_MIN_SCORE",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.MinScore = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.MinScore },
	},
	str("retrieval.embed_model", "CIVICDESK_RETRIEVAL_EMBED_MODEL", func(c *Config) *string { return &c.Retrieval.EmbedModel }),

	integer("dispatch.concurrency", "CIVICDESK_DISPATCH_CONCURRENCY", func(c *Config) *int { return &c.Dispatch.Concurrency }),
	str("dispatch.poll_interval", "CIVICDESK_DISPATCH_POLL_INTERVAL", func(c *Config) *string { return &c.Dispatch.PollInterval }),
	integer("dispatch.max_attempts", "CIVICDESK_DISPATCH_MAX_ATTEMPTS", func(c *Config) *int { return &c.Dispatch.MaxAttempts }),

	str("org.seed_file", "CIVICDESK_ORG_SEED_FILE", func(c *Config) *string { return &c.Org.SeedFile }),
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool, kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				applyRaw(cfg, s, v, "config key "+s.key)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		applyRaw(cfg, s, raw, "env var "+s.env)
	}
}

// applyRaw parses raw according to the key type. Unparseable values are
// logged and the previous value is kept.
func applyRaw(cfg *Config, s keySpec, raw, origin string) {
	var (
		v   any
		err error
	)
	switch s.typ {
	case kString:
		v = raw
	case kInt:
		v, err = strconv.Atoi(raw)
	case kBool:
		v, err = strconv.ParseBool(raw)
	case kFloat:
		v, err = strconv.ParseFloat(raw, 64)
	}
	if err != nil {
		slog.Warn("could not parse config value, keeping default", "source", origin, "value", raw, "error", err)
		return
	}
	s.apply(cfg, v)
}
