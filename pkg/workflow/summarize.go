package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/solace-labs/sessiond/pkg/completion"
	"github.com/solace-labs/sessiond/pkg/transcript"
)

// Sessions is the workflow's only path into session state. Both calls route
// through the owning session actor, which serializes them with chat traffic.
type Sessions interface {
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]transcript.Turn, error)
	CommitProfileSummary(ctx context.Context, sessionID string, summary string) error
}

// SummarizeParams tune the summarization steps.
type SummarizeParams struct {
	// Model is the generation model used for the non-streaming summary call.
	Model string
	// Window is how many recent turns the fetch step reads.
	Window int
	// MaxWords bounds the requested summary length.
	MaxWords int
	// MaxTokens caps the summary generation call.
	MaxTokens int
}

// Summarizer holds the step implementations of the summarization workflow.
// Fetch is a pure read and commit is a total overwrite, so both are safe to
// re-run; only generate's output needs checkpointing.
type Summarizer struct {
	sessions Sessions
	provider completion.Provider
	params   func() SummarizeParams
}

// NewSummarizer creates the summarization step set.
func NewSummarizer(sessions Sessions, provider completion.Provider, params func() SummarizeParams) *Summarizer {
	return &Summarizer{
		sessions: sessions,
		provider: provider,
		params:   params,
	}
}

// Fetch reads the recent transcript window through the session actor.
func (s *Summarizer) Fetch(ctx context.Context, sessionID string) ([]transcript.Turn, error) {
	turns, err := s.sessions.RecentTurns(ctx, sessionID, s.params().Window)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transcript: %w", err)
	}
	return turns, nil
}

// Generate produces the profile summary from a transcript snapshot with a
// single non-streaming generation call.
func (s *Summarizer) Generate(ctx context.Context, turns []transcript.Turn) (string, error) {
	p := s.params()

	var b strings.Builder
	fmt.Fprintf(&b, "Extract the durable facts and preferences about the user from the conversation below. Respond with at most %d words, as a bullet list. Include only information worth remembering across conversations; omit pleasantries and one-off context.\n\n", p.MaxWords)
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}

	resp, err := s.provider.Complete(ctx, completion.Request{
		Model:     p.Model,
		Messages:  []completion.Message{{Role: "user", Content: b.String()}},
		MaxTokens: p.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// Commit overwrites the session's profile summary through the session actor.
// Idempotent: committing the same text twice leaves the same state.
func (s *Summarizer) Commit(ctx context.Context, sessionID, summary string) error {
	if err := s.sessions.CommitProfileSummary(ctx, sessionID, summary); err != nil {
		return fmt.Errorf("failed to commit summary: %w", err)
	}
	return nil
}
