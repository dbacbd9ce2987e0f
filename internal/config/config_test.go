package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// mapBackend is an in-memory ConfigBackend.
type mapBackend struct {
	strs map[string]string
	ints map[string]int
}

func newMapBackend() *mapBackend {
	return &mapBackend{strs: map[string]string{}, ints: map[string]int{}}
}

func (m *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strs[key]
	return v, ok, nil
}

func (m *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *mapBackend) SetString(key, val string) error { m.strs[key] = val; return nil }
func (m *mapBackend) SetInt(key string, val int) error { m.ints[key] = val; return nil }
func (m *mapBackend) Delete(key string) error {
	delete(m.strs, key)
	delete(m.ints, key)
	return nil
}

// clearProviderEnv blanks provider env vars so the host environment cannot leak in.
func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"CIVICDESK_OPENAI_API_KEY", "CIVICDESK_ANTHROPIC_API_KEY",
		"CIVICDESK_OPENROUTER_API_KEY", "CIVICDESK_OLLAMA_BASE_URL",
	} {
		t.Setenv(env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("CIVICDESK_OPENAI_API_KEY", "sk-test")

	cfg, err := loadWith(newMapBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if !cfg.Server.MCPEnabled {
		t.Error("Server.MCPEnabled = false, want true")
	}
	if cfg.Retrieval.Backend != "keyword" {
		t.Errorf("Retrieval.Backend = %q, want keyword", cfg.Retrieval.Backend)
	}
	if cfg.Retrieval.MinScore != 0.6 {
		t.Errorf("Retrieval.MinScore = %v, want 0.6", cfg.Retrieval.MinScore)
	}
	if cfg.Dispatch.Concurrency != 4 {
		t.Errorf("Dispatch.Concurrency = %d, want 4", cfg.Dispatch.Concurrency)
	}

	economical := map[string]bool{}
	for _, m := range []string{cfg.Models.Classification, cfg.Models.Summarization, cfg.Models.Response, cfg.Models.Generic} {
		economical[m] = true
	}
	if len(economical) != 4 {
		t.Errorf("economical defaults must be distinct, got %+v", cfg.Models)
	}
}

func TestBackendValues(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("CIVICDESK_ANTHROPIC_API_KEY", "ak-test")

	b := newMapBackend()
	b.ints["server.port"] = 5000
	b.strs["server.mcp_enabled"] = "false"
	b.strs["models.fast"] = "gpt-4o-2024-08-06"
	b.strs["retrieval.min_score"] = "0.4"
	b.strs["org.seed_file"] = "/etc/civicdesk/org.yaml"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Server.MCPEnabled {
		t.Error("Server.MCPEnabled = true, want false")
	}
	if cfg.Models.Fast != "gpt-4o-2024-08-06" {
		t.Errorf("Models.Fast = %q", cfg.Models.Fast)
	}
	if cfg.Retrieval.MinScore != 0.4 {
		t.Errorf("Retrieval.MinScore = %v, want 0.4", cfg.Retrieval.MinScore)
	}
	if cfg.Org.SeedFile != "/etc/civicdesk/org.yaml" {
		t.Errorf("Org.SeedFile = %q", cfg.Org.SeedFile)
	}
}

func TestEnvOverride(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("CIVICDESK_OPENROUTER_API_KEY", "or-key")
	t.Setenv("CIVICDESK_SERVER_PORT", "6000")
	t.Setenv("CIVICDESK_DISPATCH_CONCURRENCY", "not-a-number")

	b := newMapBackend()
	b.ints["server.port"] = 5000

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Providers.OpenRouterAPIKey != "or-key" {
		t.Errorf("OpenRouterAPIKey = %q", cfg.Providers.OpenRouterAPIKey)
	}
	if cfg.Dispatch.Concurrency != 4 {
		t.Errorf("unparseable env should keep default, got %d", cfg.Dispatch.Concurrency)
	}
}

func TestSecretsIgnoredInBackend(t *testing.T) {
	clearProviderEnv(t)

	b := newMapBackend()
	b.strs["providers.openai_api_key"] = "from-file"

	_, err := loadWith(b)
	if err == nil {
		t.Fatal("expected error: API keys in the config file must not count")
	}
}

func TestMissingRequiredProvider(t *testing.T) {
	clearProviderEnv(t)

	_, err := loadWith(newMapBackend())
	if err == nil {
		t.Fatal("expected error for missing provider, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q, want it to contain %q", err, "missing required config")
	}
}

func TestOllamaAloneSatisfiesProviders(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("CIVICDESK_OLLAMA_BASE_URL", "http://localhost:11434")

	if _, err := loadWith(newMapBackend()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInvalidRetrievalBackend(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("CIVICDESK_OPENAI_API_KEY", "sk-test")
	t.Setenv("CIVICDESK_RETRIEVAL_BACKEND", "elastic")

	if _, err := loadWith(newMapBackend()); err == nil {
		t.Fatal("expected error for unknown retrieval backend")
	}
}

func TestSetKey(t *testing.T) {
	b := newMapBackend()

	if err := setKey(b, "server.port", "4100"); err != nil {
		t.Fatalf("setKey int: %v", err)
	}
	if b.ints["server.port"] != 4100 {
		t.Errorf("server.port = %d, want 4100", b.ints["server.port"])
	}
	if err := setKey(b, "retrieval.min_score", "0.7"); err != nil {
		t.Fatalf("setKey float: %v", err)
	}
	if err := setKey(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKey(b, "retrieval.min_score", "high"); err == nil {
		t.Error("expected error for non-float score")
	}
	if err := setKey(b, "providers.openai_api_key", "sk"); err == nil {
		t.Error("expected error when setting a secret")
	}
	if err := setKey(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Providers.OpenAIAPIKey = "sk-secret"

	for _, ki := range ShowAll(cfg) {
		if strings.Contains(ki.Key, "api_key") || ki.Value == "sk-secret" {
			t.Errorf("secret leaked in ShowAll: %+v", ki)
		}
	}
	if len(ShowAll(cfg)) != len(ValidKeys()) {
		t.Errorf("ShowAll and ValidKeys disagree: %d vs %d", len(ShowAll(cfg)), len(ValidKeys()))
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "civicdesk", "config.json")

	b := newFileBackend(path)
	if err := b.SetInt("server.port", 4200); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if err := b.SetString("log.level", "debug"); err != nil {
		t.Fatalf("SetString: %v", err)
	}

	reloaded := newFileBackend(path)
	port, ok, err := reloaded.GetInt("server.port")
	if err != nil || !ok || port != 4200 {
		t.Errorf("GetInt = %d, %v, %v", port, ok, err)
	}
	level, ok, err := reloaded.GetString("log.level")
	if err != nil || !ok || level != "debug" {
		t.Errorf("GetString = %q, %v, %v", level, ok, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestGetAPIToken_GeneratesOnce(t *testing.T) {
	t.Setenv("CIVICDESK_API_TOKEN", "")
	store := FileSecrets{Path: filepath.Join(t.TempDir(), "secrets.json")}

	first, err := GetAPIToken(store)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if first == "" {
		t.Fatal("expected generated token")
	}
	second, err := GetAPIToken(store)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if first != second {
		t.Errorf("token changed between calls: %q -> %q", first, second)
	}
}

func TestGetAPIToken_EnvWins(t *testing.T) {
	t.Setenv("CIVICDESK_API_TOKEN", "env-token")
	store := FileSecrets{Path: filepath.Join(t.TempDir(), "secrets.json")}

	tok, err := GetAPIToken(store)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if tok != "env-token" {
		t.Errorf("token = %q, want env-token", tok)
	}
}
