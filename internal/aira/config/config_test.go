package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.GenerationModel != "gpt-4.1-mini" {
		t.Errorf("GenerationModel = %q", cfg.GenerationModel)
	}
	if cfg.SummaryModel != "gpt-5-nano" || cfg.AnalysisModel != "gpt-5-nano" {
		t.Errorf("maintenance models = %q / %q", cfg.SummaryModel, cfg.AnalysisModel)
	}
	if cfg.ContextWindowSize != 10 || cfg.SummarizeAfterMessages != 25 || cfg.MaxRawMessagesKeep != 200 {
		t.Errorf("memory tuning = %d / %d / %d", cfg.ContextWindowSize, cfg.SummarizeAfterMessages, cfg.MaxRawMessagesKeep)
	}
	if cfg.RequestTimeout != 60*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.PersonaInstructions != DefaultPersona {
		t.Errorf("PersonaInstructions not defaulted")
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := writeFile(t, `
listen_addr: ":9999"
generation_model: local-model
context_window_size: 4
summarize_after_messages: 5
max_raw_messages_keep: 50
request_timeout: 5s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.GenerationModel != "local-model" {
		t.Errorf("GenerationModel = %q", cfg.GenerationModel)
	}
	if cfg.ContextWindowSize != 4 || cfg.SummarizeAfterMessages != 5 || cfg.MaxRawMessagesKeep != 50 {
		t.Errorf("memory tuning = %d / %d / %d", cfg.ContextWindowSize, cfg.SummarizeAfterMessages, cfg.MaxRawMessagesKeep)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	// Untouched keys keep their defaults.
	if cfg.SummaryModel != "gpt-5-nano" {
		t.Errorf("SummaryModel = %q, want default", cfg.SummaryModel)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, `generation_model: from-file`)
	t.Setenv("CHAT_MODEL", "from-env")
	t.Setenv("MEMORY_MODEL", "summariser-env")
	t.Setenv("AIRA_CONTEXT_WINDOW", "3")
	t.Setenv("AIRA_REQUEST_TIMEOUT", "90s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GenerationModel != "from-env" {
		t.Errorf("GenerationModel = %q, want env to win over file", cfg.GenerationModel)
	}
	if cfg.SummaryModel != "summariser-env" {
		t.Errorf("SummaryModel = %q", cfg.SummaryModel)
	}
	if cfg.ContextWindowSize != 3 {
		t.Errorf("ContextWindowSize = %d", cfg.ContextWindowSize)
	}
	if cfg.RequestTimeout != 90*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load of a missing file succeeded")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(c *Config) {}, false},
		{"zero window", func(c *Config) { c.ContextWindowSize = 0 }, true},
		{"negative threshold", func(c *Config) { c.SummarizeAfterMessages = -1 }, true},
		{"keep below threshold", func(c *Config) { c.MaxRawMessagesKeep = 10; c.SummarizeAfterMessages = 25 }, true},
		{"keep equals threshold", func(c *Config) { c.MaxRawMessagesKeep = 25; c.SummarizeAfterMessages = 25 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
