package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/solace-labs/sessiond/internal/observability"
	"github.com/solace-labs/sessiond/internal/tracing"
	"github.com/solace-labs/sessiond/pkg/completion"
	"github.com/solace-labs/sessiond/pkg/profile"
	"github.com/solace-labs/sessiond/pkg/transcript"
)

// Sink receives outbound protocol frames for one client connection.
type Sink interface {
	SendHistory(turns []transcript.Turn) error
	SendConnected() error
	SendChunk(content string) error
	SendDone() error
	SendError(message string) error
}

// Scheduler triggers the summarization workflow. Fire-and-forget: the actor
// never depends on scheduling succeeding synchronously.
type Scheduler interface {
	Schedule(ctx context.Context, jobID, sessionID string) error
}

// Tunables holds the per-message behavior knobs. They are read on every
// message so a config reload takes effect without restarting actors.
type Tunables struct {
	Model            string
	SystemPrompt     string
	HistoryWindow    int
	PromptWindow     int
	SummaryThreshold int
	MaxTokens        int
	Temperature      float64
}

// Deps are the actor's injected collaborators.
type Deps struct {
	Transcripts *transcript.Store
	Profiles    *profile.Store
	Provider    completion.Provider
	Scheduler   Scheduler
	Tunables    func() Tunables
	Logger      zerolog.Logger
}

// Actor owns one session's state. All reads and writes for the session go
// through its mailbox; the mailbox goroutine is the session's only writer.
type Actor struct {
	sessionID string
	deps      Deps
	logger    zerolog.Logger

	mailbox chan func()
	stopCh  chan struct{}

	// mailbox-goroutine state; never touched from outside it
	hydrated bool
	pending  int
}

// NewActor creates and starts a session actor.
func NewActor(sessionID string, deps Deps) (*Actor, error) {
	if err := transcript.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	if deps.Transcripts == nil || deps.Profiles == nil {
		return nil, fmt.Errorf("transcript and profile stores are required")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("completion provider is required")
	}
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("workflow scheduler is required")
	}
	if deps.Tunables == nil {
		return nil, fmt.Errorf("tunables source is required")
	}

	a := &Actor{
		sessionID: sessionID,
		deps:      deps,
		logger:    deps.Logger.With().Str("session_id", sessionID).Logger(),
		mailbox:   make(chan func()),
		stopCh:    make(chan struct{}),
	}
	go a.run()
	return a, nil
}

// SessionID returns the actor's session identifier
func (a *Actor) SessionID() string {
	return a.sessionID
}

// Stop stops the mailbox goroutine. In-flight work finishes first.
func (a *Actor) Stop() {
	close(a.stopCh)
}

func (a *Actor) run() {
	for {
		select {
		case fn := <-a.mailbox:
			fn()
		case <-a.stopCh:
			return
		}
	}
}

// perform runs fn on the mailbox goroutine and waits for its result.
func (a *Actor) perform(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	select {
	case a.mailbox <- func() { done <- fn() }:
	case <-a.stopCh:
		return fmt.Errorf("session actor stopped")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// hydrate creates the session's records with defaults when absent and loads
// the pending-turn counter from the profile store. Idempotent; runs before
// any other operation after a cold start. Never assumes the counter is zero.
func (a *Actor) hydrate(ctx context.Context) error {
	if a.hydrated {
		return nil
	}

	if err := a.deps.Profiles.Ensure(ctx, a.sessionID); err != nil {
		return fmt.Errorf("failed to initialize session records: %w", err)
	}

	p, err := a.deps.Profiles.Read(ctx, a.sessionID)
	if err != nil {
		return fmt.Errorf("failed to hydrate pending count: %w", err)
	}

	a.pending = p.PendingTurns
	a.hydrated = true
	observability.SetPendingTurns(a.sessionID, a.pending)

	a.logger.Debug().Int("pending", a.pending).Msg("Session hydrated")
	return nil
}

// OnConnect replays the recent history to the sink, then signals readiness.
// History is always delivered before the ready signal; the client relies on
// that ordering.
func (a *Actor) OnConnect(ctx context.Context, sink Sink) error {
	return a.perform(ctx, func() error {
		ctx, span := tracing.StartSpan(
			ctx,
			"sessiond.session",
			"session.connect",
			attribute.String("session_id", a.sessionID),
		)
		defer span.End()

		if err := a.hydrate(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		window := a.deps.Tunables().HistoryWindow
		turns, err := a.deps.Transcripts.Recent(ctx, a.sessionID, window)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		if len(turns) > 0 {
			if err := sink.SendHistory(turns); err != nil {
				return fmt.Errorf("failed to send history: %w", err)
			}
		}
		return sink.SendConnected()
	})
}

// OnUserMessage runs one full request/response/append cycle. The cycle holds
// the mailbox until the assistant turn is appended, so no two generation
// calls ever interleave within a session.
func (a *Actor) OnUserMessage(ctx context.Context, text string, sink Sink) error {
	if strings.TrimSpace(text) == "" {
		// Protocol error, not fatal to the actor.
		return sink.SendError("empty message")
	}

	return a.perform(ctx, func() error {
		ctx, span := tracing.StartSpan(
			ctx,
			"sessiond.session",
			"session.user_message",
			attribute.String("session_id", a.sessionID),
		)
		defer span.End()
		logger := tracing.LoggerFromContext(ctx, a.logger)

		if err := a.hydrate(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		tun := a.deps.Tunables()

		// 1. The user turn is durable before anything else happens.
		if _, err := a.deps.Transcripts.Append(ctx, a.sessionID, transcript.RoleUser, text); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		// 2. Count it toward the next summarization.
		pending, err := a.deps.Profiles.IncrementPending(ctx, a.sessionID, 1)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		a.pending = pending
		observability.SetPendingTurns(a.sessionID, a.pending)

		// 3. Generate and stream the reply.
		reply, genErr := a.generate(ctx, tun, sink)
		if genErr != nil {
			// The user turn was real and stays counted; the actor keeps
			// serving future messages.
			logger.Warn().Err(genErr).Msg("Generation failed")
			span.RecordError(genErr)
			if err := sink.SendError("generation failed"); err != nil {
				logger.Debug().Err(err).Msg("Failed to deliver error frame")
			}
			return nil
		}

		// 4. Persist the assistant turn, then signal completion.
		if _, err := a.deps.Transcripts.Append(ctx, a.sessionID, transcript.RoleAssistant, reply); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if err := sink.SendDone(); err != nil {
			logger.Debug().Err(err).Msg("Failed to deliver done frame")
		}

		// 5. Hand off summarization when the threshold is crossed.
		if a.pending >= tun.SummaryThreshold {
			a.scheduleSummarization(ctx, logger)
		}

		return nil
	})
}

// generate builds the prompt, invokes the streaming provider, forwards deltas
// to the sink in arrival order, and returns the accumulated text.
func (a *Actor) generate(ctx context.Context, tun Tunables, sink Sink) (string, error) {
	prof, err := a.deps.Profiles.Read(ctx, a.sessionID)
	if err != nil {
		return "", err
	}

	turns, err := a.deps.Transcripts.Recent(ctx, a.sessionID, tun.PromptWindow)
	if err != nil {
		return "", err
	}

	systemPrompt := tun.SystemPrompt
	if prof.Summary != "" {
		systemPrompt += "\n\nWhat you know about the user:\n" + prof.Summary
	}

	messages := make([]completion.Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, completion.Message{
			Role:    string(t.Role),
			Content: t.Content,
		})
	}

	start := time.Now()
	deltas, err := a.deps.Provider.Stream(ctx, completion.Request{
		Model:        tun.Model,
		SystemPrompt: systemPrompt,
		Messages:     messages,
		MaxTokens:    tun.MaxTokens,
		Temperature:  tun.Temperature,
	})
	if err != nil {
		observability.RecordGeneration(a.deps.Provider.Name(), time.Since(start), false)
		return "", err
	}

	var reply strings.Builder
	for d := range deltas {
		if d.Err != nil {
			observability.RecordGeneration(a.deps.Provider.Name(), time.Since(start), false)
			return "", d.Err
		}
		if d.Done {
			break
		}
		reply.WriteString(d.Content)
		observability.RecordDeltaForwarded()
		if err := sink.SendChunk(d.Content); err != nil {
			// The client is gone; the response is still computed and
			// appended, just not delivered.
			a.logger.Debug().Err(err).Msg("Failed to deliver chunk")
		}
	}

	observability.RecordGeneration(a.deps.Provider.Name(), time.Since(start), true)
	return reply.String(), nil
}

// scheduleSummarization fires the workflow trigger. Failure is logged, never
// fatal: the next threshold-crossing message retries it.
func (a *Actor) scheduleSummarization(ctx context.Context, logger zerolog.Logger) {
	// The random suffix keeps invocations distinct even within the same
	// millisecond; the engine rejects duplicate job ids outright.
	jobID := fmt.Sprintf("summarize-%s-%s", a.sessionID, uuid.NewString())

	if err := a.deps.Scheduler.Schedule(ctx, jobID, a.sessionID); err != nil {
		observability.RecordScheduleFailure()
		logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to schedule summarization")
		return
	}

	logger.Info().
		Str("job_id", jobID).
		Int("pending", a.pending).
		Msg("Summarization scheduled")
}

// RecentTurns is the workflow's read callback. It funnels through the mailbox
// so it serializes with chat traffic on the same session.
func (a *Actor) RecentTurns(ctx context.Context, limit int) ([]transcript.Turn, error) {
	var turns []transcript.Turn
	err := a.perform(ctx, func() error {
		if err := a.hydrate(ctx); err != nil {
			return err
		}
		var err error
		turns, err = a.deps.Transcripts.Recent(ctx, a.sessionID, limit)
		return err
	})
	return turns, err
}

// CommitProfileSummary is the workflow's write callback. A total overwrite,
// safe to call more than once with the same summary.
func (a *Actor) CommitProfileSummary(ctx context.Context, text string) error {
	return a.perform(ctx, func() error {
		if err := a.hydrate(ctx); err != nil {
			return err
		}
		if err := a.deps.Profiles.Commit(ctx, a.sessionID, text, time.Now()); err != nil {
			return err
		}
		a.pending = 0
		observability.SetPendingTurns(a.sessionID, 0)
		return nil
	})
}

// Pending reports the unsummarized turn count, for status surfaces and tests.
func (a *Actor) Pending(ctx context.Context) (int, error) {
	var pending int
	err := a.perform(ctx, func() error {
		if err := a.hydrate(ctx); err != nil {
			return err
		}
		pending = a.pending
		return nil
	})
	return pending, err
}
