package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("CREWDESK_CONFIG", "")
	t.Setenv("CREWDESK_PORT", "")
	t.Setenv("CREWDESK_DB_PATH", "")
	t.Setenv("CREWDESK_EMBEDDING_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("CREWDESK_BACKFILL_ENABLED", "")
	return tmpDir
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.Server.Host != DefaultHost {
		t.Errorf("host = %q, want %q", cfg.Server.Host, DefaultHost)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Retrieval.Limit != 3 {
		t.Errorf("retrieval limit = %d, want 3", cfg.Retrieval.Limit)
	}
	if cfg.LLM.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", cfg.LLM.Temperature)
	}
	if len(cfg.Languages) != 10 {
		t.Errorf("languages = %v, want 10 entries", cfg.Languages)
	}
	if cfg.Widget.InactivityDuration() != 5*time.Minute {
		t.Errorf("inactivity = %s, want 5m", cfg.Widget.InactivityDuration())
	}
	if cfg.Data.DBPath == "" || cfg.Data.BlobDir == "" {
		t.Error("data paths should not be empty")
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	isolate(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Helpdesk.ZohoDeskURL != DefaultZohoDeskURL {
		t.Errorf("zoho desk url = %q, want %q", cfg.Helpdesk.ZohoDeskURL, DefaultZohoDeskURL)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := isolate(t)

	cfgDir := filepath.Join(tmpDir, ".crewdesk")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	testCfg := map[string]any{
		"server": map[string]any{"port": 9100},
		"embedding": map[string]any{
			"provider": "ollama",
			"model":    "nomic-embed-text",
		},
		"retrieval": map[string]any{"limit": 5},
	}
	data, _ := json.MarshalIndent(testCfg, "", "  ")
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Embedding.Provider != "ollama" || cfg.Embedding.Model != "nomic-embed-text" {
		t.Errorf("embedding = %+v", cfg.Embedding)
	}
	if cfg.Retrieval.Limit != 5 {
		t.Errorf("limit = %d, want 5", cfg.Retrieval.Limit)
	}
	// untouched sections keep defaults
	if cfg.Helpdesk.ZendeskURLTemplate != DefaultZendeskURLTemplate {
		t.Errorf("zendesk template = %q", cfg.Helpdesk.ZendeskURLTemplate)
	}
}

func TestLoadConfig_ExplicitPath(t *testing.T) {
	tmpDir := isolate(t)
	path := filepath.Join(tmpDir, "custom.json")
	if err := os.WriteFile(path, []byte(`{"server":{"host":"127.0.0.1"}}`), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CREWDESK_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("host = %q, want 127.0.0.1", cfg.Server.Host)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	isolate(t)

	t.Setenv("CREWDESK_PORT", "9200")
	t.Setenv("CREWDESK_DB_PATH", "/tmp/x.db")
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("CREWDESK_BACKFILL_ENABLED", "false")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("port = %d, want 9200", cfg.Server.Port)
	}
	if cfg.Data.DBPath != "/tmp/x.db" {
		t.Errorf("dbPath = %q", cfg.Data.DBPath)
	}
	if cfg.Embedding.APIKey != "sk-openai" {
		t.Errorf("embedding key = %q, want sk-openai", cfg.Embedding.APIKey)
	}
	if cfg.Backfill.Enabled {
		t.Error("backfill should be disabled by env")
	}
}

func TestLoadConfig_EmbeddingKeyPrecedence(t *testing.T) {
	isolate(t)
	t.Setenv("CREWDESK_EMBEDDING_API_KEY", "sk-crewdesk")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Embedding.APIKey != "sk-crewdesk" {
		t.Errorf("embedding key = %q, want sk-crewdesk", cfg.Embedding.APIKey)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpDir := isolate(t)
	cfgDir := filepath.Join(tmpDir, ".crewdesk")
	_ = os.MkdirAll(cfgDir, 0755)
	_ = os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("{not json"), 0644)

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.Provider = "bedrock"
	cfg.Helpdesk.ZendeskURLTemplate = "https://zendesk.com"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"embedding.provider", "zendeskUrlTemplate"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestSaveConfig(t *testing.T) {
	isolate(t)

	cfg := DefaultConfig()
	cfg.Server.Port = 9300
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if loaded.Server.Port != 9300 {
		t.Errorf("port = %d, want 9300", loaded.Server.Port)
	}
}

func TestWidgetInactivityDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"90s", 90 * time.Second},
		{"", 5 * time.Minute},
		{"bogus", 5 * time.Minute},
		{"-1m", 5 * time.Minute},
	}
	for _, tt := range tests {
		got := WidgetConfig{InactivityTimeout: tt.in}.InactivityDuration()
		if got != tt.want {
			t.Errorf("InactivityDuration(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
