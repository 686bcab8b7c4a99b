package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateConfig validates the assembled configuration
func (v *Validator) ValidateConfig(cfg *Config) error {
	if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", cfg.Gateway.Port)
	}

	switch cfg.AI.Provider {
	case "openai", "anthropic":
		if err := v.ValidateAPIKey(cfg.AI.APIKey, cfg.AI.Provider); err != nil {
			return err
		}
	case "compat":
		if cfg.AI.BaseURL == "" {
			return fmt.Errorf("compat provider requires a base_url")
		}
	default:
		return fmt.Errorf("unsupported provider: %s", cfg.AI.Provider)
	}

	if cfg.AI.Model == "" {
		return fmt.Errorf("model name cannot be empty")
	}

	s := cfg.Session
	if s.PromptWindow < s.HistoryWindow {
		return fmt.Errorf("prompt_window (%d) must be >= history_window (%d)", s.PromptWindow, s.HistoryWindow)
	}
	if s.SummaryWindow < s.PromptWindow {
		return fmt.Errorf("summary_window (%d) must be >= prompt_window (%d)", s.SummaryWindow, s.PromptWindow)
	}
	if s.SummaryThreshold < 1 {
		return fmt.Errorf("summary_threshold must be positive")
	}

	if cfg.Workflow.MaxAttempts < 1 {
		return fmt.Errorf("workflow max_attempts must be positive")
	}

	return nil
}
