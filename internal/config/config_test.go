package config

import (
	"strings"
	"testing"
)

// mapBackend is an in-memory ConfigBackend for tests.
type mapBackend struct {
	data map[string]any
}

func newMapBackend() *mapBackend {
	return &mapBackend{data: make(map[string]any)}
}

func (b *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (b *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.data[key]
	if !ok {
		return 0, false, nil
	}
	return v.(int), true, nil
}

func (b *mapBackend) SetString(key, val string) error  { b.data[key] = val; return nil }
func (b *mapBackend) SetInt(key string, val int) error { b.data[key] = val; return nil }
func (b *mapBackend) Delete(key string) error          { delete(b.data, key); return nil }

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEMCHAT_LLM_API_KEYS", "test-key")

	cfg, err := loadWith(newMapBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.LLM.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("LLM.BaseURL = %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.Timeout != "60s" {
		t.Errorf("LLM.Timeout = %q", cfg.LLM.Timeout)
	}
	if cfg.Memory.ShortTermLimit != 30 {
		t.Errorf("Memory.ShortTermLimit = %d, want 30", cfg.Memory.ShortTermLimit)
	}
	if cfg.Memory.ExtractionTimeout != "20s" {
		t.Errorf("Memory.ExtractionTimeout = %q", cfg.Memory.ExtractionTimeout)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestBackendValuesApplied(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEMCHAT_LLM_API_KEYS", "test-key")

	b := newMapBackend()
	b.SetInt("server.port", 9000)
	b.SetString("llm.model", "gpt-4o-mini")
	b.SetInt("memory.short_term_limit", 10)
	b.SetString("storage.data_dir", "/tmp/memchat-test")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.Memory.ShortTermLimit != 10 {
		t.Errorf("Memory.ShortTermLimit = %d, want 10", cfg.Memory.ShortTermLimit)
	}
	if cfg.Storage.DataDir != "/tmp/memchat-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEMCHAT_LLM_API_KEYS", "test-key")
	t.Setenv("MEMCHAT_SERVER_PORT", "7777")

	b := newMapBackend()
	b.SetInt("server.port", 9000)

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want env value 7777", cfg.Server.Port)
	}
}

func TestMissingAPIKeys(t *testing.T) {
	clearEnv(t)

	_, err := loadWith(newMapBackend())
	if err == nil {
		t.Fatal("expected error for missing API keys, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q, want it to mention missing required config", err)
	}
}

func TestInvalidTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("MEMCHAT_LLM_API_KEYS", "test-key")
	t.Setenv("MEMCHAT_LLM_TIMEOUT", "sixty seconds")

	_, err := loadWith(newMapBackend())
	if err == nil {
		t.Fatal("expected error for invalid timeout, got nil")
	}
}

func TestKeysSplitting(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"single", "k1", []string{"k1"}},
		{"multiple", "k1,k2,k3", []string{"k1", "k2", "k3"}},
		{"whitespace", " k1 , k2 ", []string{"k1", "k2"}},
		{"empty segments", "k1,,k2,", []string{"k1", "k2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LLMConfig{APIKeys: tt.in}.Keys()
			if len(got) != len(tt.want) {
				t.Fatalf("Keys() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Keys()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSecretsNotInShowAll(t *testing.T) {
	cfg := defaults()
	cfg.LLM.APIKeys = "super-secret"
	cfg.Server.APIToken = "also-secret"

	for _, info := range ShowAll(cfg) {
		if info.Key == "llm.api_keys" || info.Key == "server.api_token" {
			t.Errorf("secret key %q exposed by ShowAll", info.Key)
		}
		if strings.Contains(info.Value, "secret") {
			t.Errorf("secret value leaked via %q", info.Key)
		}
	}
}
