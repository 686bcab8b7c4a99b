package config

import (
	"path/filepath"
	"time"
)

// Config represents the main sessiond configuration
type Config struct {
	// Data directory for the embedded database
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// AI provider configuration
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Session behavior
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Workflow engine configuration
	Workflow WorkflowConfig `json:"workflow" mapstructure:"workflow"`

	// Retention configuration
	Retention RetentionConfig `json:"retention" mapstructure:"retention"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// GatewayConfig holds websocket gateway configuration
type GatewayConfig struct {
	Port            int           `json:"port" mapstructure:"port"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// AIConfig holds generation service configuration
type AIConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // openai, anthropic, compat
	Model       string  `json:"model" mapstructure:"model"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	BaseURL     string  `json:"base_url" mapstructure:"base_url"` // compat provider endpoint
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
}

// SessionConfig holds per-session behavior tunables
type SessionConfig struct {
	// HistoryWindow is the number of turns replayed on connect.
	HistoryWindow int `json:"history_window" mapstructure:"history_window"`
	// PromptWindow is the number of turns included in the generation prompt.
	PromptWindow int `json:"prompt_window" mapstructure:"prompt_window"`
	// SummaryWindow is the number of turns handed to the summarization workflow.
	SummaryWindow int `json:"summary_window" mapstructure:"summary_window"`
	// SummaryThreshold is the unsummarized turn count that triggers summarization.
	SummaryThreshold int `json:"summary_threshold" mapstructure:"summary_threshold"`
	// SummaryMaxWords bounds the generated profile summary length.
	SummaryMaxWords int `json:"summary_max_words" mapstructure:"summary_max_words"`
	// SystemPrompt is the fixed instruction prepended to every generation call.
	SystemPrompt string `json:"system_prompt" mapstructure:"system_prompt"`
}

// WorkflowConfig holds the embedded workflow engine configuration
type WorkflowConfig struct {
	MaxAttempts  int           `json:"max_attempts" mapstructure:"max_attempts"`
	RetryBackoff time.Duration `json:"retry_backoff" mapstructure:"retry_backoff"`
	// ReapAfter is how long finished runs are kept before the reaper deletes them.
	ReapAfter time.Duration `json:"reap_after" mapstructure:"reap_after"`
}

// RetentionConfig holds transcript retention configuration
type RetentionConfig struct {
	// MaxTurns caps the per-session transcript length; 0 disables the sweep.
	MaxTurns int `json:"max_turns" mapstructure:"max_turns"`
	// SweepSchedule is a cron expression for the retention sweep.
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DataDir: filepath.Join(".", "data"),
		Gateway: GatewayConfig{
			Port:            8090,
			ShutdownTimeout: 30 * time.Second,
		},
		AI: AIConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			MaxTokens:   1024,
			Temperature: 0.7,
		},
		Session: SessionConfig{
			HistoryWindow:    10,
			PromptWindow:     30,
			SummaryWindow:    30,
			SummaryThreshold: 8,
			SummaryMaxWords:  120,
			SystemPrompt:     "You are a helpful assistant. Answer concisely and remember what the user tells you.",
		},
		Workflow: WorkflowConfig{
			MaxAttempts:  5,
			RetryBackoff: 10 * time.Second,
			ReapAfter:    24 * time.Hour,
		},
		Retention: RetentionConfig{
			MaxTurns:      0,
			SweepSchedule: "0 3 * * *",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  false,
		},
	}
}

// DatabasePath returns the path of the embedded database file
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "sessiond.db")
}
