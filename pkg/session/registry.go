package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/solace-labs/sessiond/internal/config"
	"github.com/solace-labs/sessiond/internal/observability"
	"github.com/solace-labs/sessiond/pkg/completion"
	"github.com/solace-labs/sessiond/pkg/profile"
	"github.com/solace-labs/sessiond/pkg/transcript"
)

// Registry owns the live actors. Actors are created lazily on first use and
// live until Shutdown; there is at most one actor per session id.
type Registry struct {
	transcripts *transcript.Store
	profiles    *profile.Store
	provider    completion.Provider
	scheduler   Scheduler
	logger      zerolog.Logger

	mu     sync.RWMutex
	actors map[string]*Actor
	cfg    config.SessionConfig
	ai     config.AIConfig
}

// NewRegistry creates an empty actor registry.
func NewRegistry(
	transcripts *transcript.Store,
	profiles *profile.Store,
	provider completion.Provider,
	scheduler Scheduler,
	cfg config.SessionConfig,
	ai config.AIConfig,
	logger zerolog.Logger,
) *Registry {
	return &Registry{
		transcripts: transcripts,
		profiles:    profiles,
		provider:    provider,
		scheduler:   scheduler,
		logger:      logger,
		actors:      make(map[string]*Actor),
		cfg:         cfg,
		ai:          ai,
	}
}

// UpdateConfig swaps the tunables used by all actors. Existing actors pick
// up the new values on their next message.
func (r *Registry) UpdateConfig(cfg config.SessionConfig, ai config.AIConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	r.ai = ai
}

func (r *Registry) tunables() Tunables {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Tunables{
		Model:            r.ai.Model,
		SystemPrompt:     r.cfg.SystemPrompt,
		HistoryWindow:    r.cfg.HistoryWindow,
		PromptWindow:     r.cfg.PromptWindow,
		SummaryThreshold: r.cfg.SummaryThreshold,
		MaxTokens:        r.ai.MaxTokens,
		Temperature:      r.ai.Temperature,
	}
}

// Get returns the actor for sessionID, creating and starting it if needed.
func (r *Registry) Get(sessionID string) (*Actor, error) {
	r.mu.RLock()
	actor, ok := r.actors[sessionID]
	r.mu.RUnlock()
	if ok {
		return actor, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if actor, ok := r.actors[sessionID]; ok {
		return actor, nil
	}

	actor, err := NewActor(sessionID, Deps{
		Transcripts: r.transcripts,
		Profiles:    r.profiles,
		Provider:    r.provider,
		Scheduler:   r.scheduler,
		Tunables:    r.tunables,
		Logger:      r.logger,
	})
	if err != nil {
		return nil, err
	}

	r.actors[sessionID] = actor
	observability.SetActiveSessions(len(r.actors))
	r.logger.Info().Str("session_id", sessionID).Msg("Session actor started")
	return actor, nil
}

// RecentTurns routes a workflow read through the session's actor.
func (r *Registry) RecentTurns(ctx context.Context, sessionID string, limit int) ([]transcript.Turn, error) {
	actor, err := r.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return actor.RecentTurns(ctx, limit)
}

// CommitProfileSummary routes a workflow commit through the session's actor.
func (r *Registry) CommitProfileSummary(ctx context.Context, sessionID string, summary string) error {
	actor, err := r.Get(sessionID)
	if err != nil {
		return err
	}
	return actor.CommitProfileSummary(ctx, summary)
}

// Shutdown stops every actor. Safe to call once during daemon teardown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, actor := range r.actors {
		actor.Stop()
		delete(r.actors, id)
	}
	observability.SetActiveSessions(0)
	r.logger.Info().Msg("All session actors stopped")
}
