package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ConfigSchema is the JSON schema used to validate the raw config document.
const ConfigSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"data_dir": {"type": "string"},
		"gateway": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"port": {"type": "integer", "minimum": 1, "maximum": 65535},
				"shutdown_timeout": {"type": ["string", "integer"]}
			}
		},
		"ai": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"provider": {"type": "string", "enum": ["openai", "anthropic", "compat"]},
				"model": {"type": "string"},
				"api_key": {"type": "string"},
				"base_url": {"type": "string"},
				"max_tokens": {"type": "integer", "minimum": 1},
				"temperature": {"type": "number", "minimum": 0, "maximum": 2}
			}
		},
		"session": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"history_window": {"type": "integer", "minimum": 0},
				"prompt_window": {"type": "integer", "minimum": 1},
				"summary_window": {"type": "integer", "minimum": 1},
				"summary_threshold": {"type": "integer", "minimum": 1},
				"summary_max_words": {"type": "integer", "minimum": 1},
				"system_prompt": {"type": "string"}
			}
		},
		"workflow": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"max_attempts": {"type": "integer", "minimum": 1},
				"retry_backoff": {"type": ["string", "integer"]},
				"reap_after": {"type": ["string", "integer"]}
			}
		},
		"retention": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"max_turns": {"type": "integer", "minimum": 0},
				"sweep_schedule": {"type": "string"}
			}
		},
		"logging": {
			"type": "object",
			"additionalProperties": false,
			"properties": {
				"level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
				"file": {"type": "string"},
				"console": {"type": "boolean"},
				"pretty": {"type": "boolean"}
			}
		}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(ConfigSchema)

// ValidateDocument validates a raw JSON config document against ConfigSchema.
func ValidateDocument(data []byte) error {
	documentLoader := gojsonschema.NewBytesLoader(data)
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}

	return nil
}
