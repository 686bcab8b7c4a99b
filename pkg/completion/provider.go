// Package completion adapts external text-generation services behind a single
// provider interface, in streaming and non-streaming modes. Providers hold no
// state across calls.
package completion

import (
	"context"
	"fmt"
)

// Message is one role-tagged prompt turn.
type Message struct {
	Role    string `json:"role"` // user or assistant
	Content string `json:"content"`
}

// Request contains the parameters for a completion call.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  float64
}

// Response contains the full text of a non-streaming completion.
type Response struct {
	Content string
}

// Delta is one incremental fragment of a streamed response. The stream ends
// with exactly one terminal delta: Done set on success, Err set on failure.
// The channel is closed after the terminal delta.
type Delta struct {
	Content string
	Done    bool
	Err     error
}

// Provider is a completion service adapter.
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete makes a non-streaming completion call
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream makes a streaming completion call. Deltas arrive in generation
	// order; the returned channel always terminates.
	Stream(ctx context.Context, req Request) (<-chan Delta, error)
}

// Options selects and configures a provider.
type Options struct {
	Provider string // openai, anthropic, compat
	APIKey   string
	BaseURL  string // compat endpoint, e.g. http://localhost:11434/v1
}

// ProviderFactory creates completion providers
type ProviderFactory struct{}

// NewProvider creates a new completion provider from options
func (f *ProviderFactory) NewProvider(opts Options) (Provider, error) {
	switch opts.Provider {
	case "openai":
		return NewOpenAIProvider(opts.APIKey), nil
	case "anthropic":
		return NewAnthropicProvider(opts.APIKey), nil
	case "compat":
		return NewCompatProvider(opts.BaseURL, opts.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", opts.Provider)
	}
}
