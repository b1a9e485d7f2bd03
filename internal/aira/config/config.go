// Package config loads the backend configuration: defaults, overlaid by an
// optional YAML file, overlaid by environment variables. Secrets (the API
// key) come from the environment only and never from the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ai-code-co/aira/common/environment"
)

// DefaultPersona is the static system instruction block used when no
// persona_instructions is configured.
const DefaultPersona = "You are AIRA, a warm, personal AI assistant.\n" +
	"- The 'Long-term memory summary' contains facts about the user (name, preferences, background).\n" +
	"- Gently use those facts to make answers feel personal (e.g., greeting by name, referencing hobbies), " +
	"but only if they are clearly relevant.\n" +
	"- Never claim to remember something that is not in the summary or current chat.\n" +
	"- If the user corrects something, treat the correction as the most up-to-date information.\n" +
	"- Keep your answers short and practical unless the user asks for depth."

// Config is the full backend configuration.
type Config struct {
	ListenAddr   string `yaml:"listen_addr"`
	DatabasePath string `yaml:"database_path"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// OpenAIBaseURL overrides the generation API endpoint (local models,
	// proxies). The API key is environment-only: OPENAI_API_KEY.
	OpenAIBaseURL string `yaml:"openai_base_url"`

	GenerationModel string `yaml:"generation_model"`
	SummaryModel    string `yaml:"summary_model"`
	AnalysisModel   string `yaml:"analysis_model"`

	PersonaInstructions string `yaml:"persona_instructions"`

	ContextWindowSize      int `yaml:"context_window_size"`
	SummarizeAfterMessages int `yaml:"summarize_after_messages"`
	MaxRawMessagesKeep     int `yaml:"max_raw_messages_keep"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:             ":8080",
		DatabasePath:           "./aira.db",
		LogLevel:               "info",
		LogFormat:              "text",
		GenerationModel:        "gpt-4.1-mini",
		SummaryModel:           "gpt-5-nano",
		AnalysisModel:          "gpt-5-nano",
		PersonaInstructions:    DefaultPersona,
		ContextWindowSize:      10,
		SummarizeAfterMessages: 25,
		MaxRawMessagesKeep:     200,
		RequestTimeout:         60 * time.Second,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (when
// path is non-empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the configuration. Variable
// names follow the original deployment's conventions (CHAT_MODEL,
// MEMORY_MODEL, ANALYSIS_MODEL) with AIRA_-prefixed names for the rest.
func (c *Config) applyEnv() {
	c.ListenAddr = environment.StringOr("AIRA_LISTEN_ADDR", c.ListenAddr)
	c.DatabasePath = environment.StringOr("DATABASE_PATH", c.DatabasePath)
	c.LogLevel = environment.StringOr("AIRA_LOG_LEVEL", c.LogLevel)
	c.LogFormat = environment.StringOr("AIRA_LOG_FORMAT", c.LogFormat)
	c.OpenAIBaseURL = environment.StringOr("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.GenerationModel = environment.StringOr("CHAT_MODEL", c.GenerationModel)
	c.SummaryModel = environment.StringOr("MEMORY_MODEL", c.SummaryModel)
	c.AnalysisModel = environment.StringOr("ANALYSIS_MODEL", c.AnalysisModel)
	c.PersonaInstructions = environment.StringOr("AIRA_PERSONA", c.PersonaInstructions)
	c.ContextWindowSize = environment.IntOr("AIRA_CONTEXT_WINDOW", c.ContextWindowSize)
	c.SummarizeAfterMessages = environment.IntOr("AIRA_SUMMARIZE_AFTER", c.SummarizeAfterMessages)
	c.MaxRawMessagesKeep = environment.IntOr("AIRA_MAX_RAW_MESSAGES", c.MaxRawMessagesKeep)
	c.RequestTimeout = environment.DurationOr("AIRA_REQUEST_TIMEOUT", c.RequestTimeout)
}

// validate rejects configurations that would silently misbehave.
func (c *Config) validate() error {
	if c.ContextWindowSize <= 0 {
		return fmt.Errorf("config: context_window_size must be positive, got %d", c.ContextWindowSize)
	}
	if c.SummarizeAfterMessages <= 0 {
		return fmt.Errorf("config: summarize_after_messages must be positive, got %d", c.SummarizeAfterMessages)
	}
	if c.MaxRawMessagesKeep < c.SummarizeAfterMessages {
		return fmt.Errorf("config: max_raw_messages_keep (%d) must not be below summarize_after_messages (%d)",
			c.MaxRawMessagesKeep, c.SummarizeAfterMessages)
	}
	return nil
}
