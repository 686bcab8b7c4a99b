// Package workflow is the embedded durable engine behind profile
// summarization. Runs are checkpointed in SQLite step by step, so a run
// interrupted by a crash resumes at its first uncompleted step instead of
// repeating finished ones.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/solace-labs/sessiond/internal/config"
	"github.com/solace-labs/sessiond/internal/observability"
	"github.com/solace-labs/sessiond/internal/tracing"
)

const queueDepth = 64

// Engine runs summarization workflows. Schedule is fire-and-forget; the
// caller never waits for execution.
type Engine struct {
	store      *Store
	summarizer *Summarizer
	cfg        config.WorkflowConfig
	logger     zerolog.Logger

	queue  chan string
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine creates the workflow engine. Call Start before scheduling.
func NewEngine(store *Store, summarizer *Summarizer, cfg config.WorkflowConfig, logger zerolog.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("workflow store is required")
	}
	if summarizer == nil {
		return nil, fmt.Errorf("summarizer is required")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:      store,
		summarizer: summarizer,
		cfg:        cfg,
		logger:     logger.With().Str("component", "workflow").Logger(),
		queue:      make(chan string, queueDepth),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches the worker and re-enqueues runs interrupted by a previous
// shutdown or crash.
func (e *Engine) Start() error {
	runs, err := e.store.Incomplete(e.ctx)
	if err != nil {
		return fmt.Errorf("failed to recover workflow runs: %w", err)
	}

	e.wg.Add(1)
	go e.worker()

	for _, r := range runs {
		select {
		case e.queue <- r.JobID:
			e.logger.Info().
				Str("job_id", r.JobID).
				Str("step", string(r.Step)).
				Msg("Recovered interrupted workflow run")
		default:
			e.logger.Warn().Str("job_id", r.JobID).Msg("Queue full, run left for next recovery")
		}
	}
	return nil
}

// Stop drains the engine. The in-flight run finishes; queued runs stay in
// the store and are recovered on next start.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
	e.logger.Info().Msg("Workflow engine stopped")
}

// Schedule records a durable run and hands it to the worker. A jobID that
// already exists is rejected, which collapses duplicate triggers.
func (e *Engine) Schedule(ctx context.Context, jobID, sessionID string) error {
	runID := uuid.New().String()
	if err := e.store.Create(ctx, jobID, runID, sessionID); err != nil {
		return err
	}

	select {
	case e.queue <- jobID:
		return nil
	default:
		// Stays durable; Requeue or next-start recovery picks it up.
		return fmt.Errorf("workflow queue full")
	}
}

// Reap deletes finished runs older than the configured retention.
func (e *Engine) Reap(ctx context.Context) (int, error) {
	return e.store.Reap(ctx, e.cfg.ReapAfter)
}

// Requeue re-enqueues incomplete runs that never reached the worker, such as
// runs rejected by Schedule when the queue was full. Re-offering a run that
// is already queued is harmless: the worker drops anything it finds terminal.
func (e *Engine) Requeue(ctx context.Context) (int, error) {
	runs, err := e.store.Incomplete(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list incomplete runs: %w", err)
	}

	requeued := 0
	for _, r := range runs {
		select {
		case e.queue <- r.JobID:
			requeued++
		default:
			return requeued, nil
		}
	}
	return requeued, nil
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case jobID := <-e.queue:
			e.runJob(jobID)
		case <-e.ctx.Done():
			return
		}
	}
}

// runJob drives one run to a terminal state, retrying failed steps with
// backoff up to the attempt cap.
func (e *Engine) runJob(jobID string) {
	run, err := e.store.Get(e.ctx, jobID)
	if err != nil {
		e.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to load workflow run")
		return
	}
	ctx := tracing.PropagateToJob(e.ctx, jobID, run.SessionID)
	logger := tracing.LoggerFromContext(ctx, e.logger)

	start := time.Now()
	for {
		run, err := e.store.Get(ctx, jobID)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to load workflow run")
			return
		}
		if run.Status == StatusCompleted || run.Status == StatusFailed {
			return
		}
		if run.Attempts >= e.cfg.MaxAttempts {
			logger.Error().Int("attempts", run.Attempts).Msg("Workflow run failed permanently")
			if err := e.store.MarkFailed(ctx, jobID, fmt.Errorf("attempt limit reached: %s", run.LastError)); err != nil {
				logger.Error().Err(err).Msg("Failed to mark run failed")
			}
			observability.RecordSummaryRun(time.Since(start), false)
			return
		}

		if err := e.store.MarkRunning(ctx, jobID); err != nil {
			logger.Error().Err(err).Msg("Failed to mark run running")
			return
		}

		stepErr := e.executeSteps(ctx, run, logger)
		if stepErr == nil {
			observability.RecordSummaryRun(time.Since(start), true)
			logger.Info().Dur("duration", time.Since(start)).Msg("Summarization run completed")
			return
		}

		logger.Warn().Err(stepErr).Int("attempt", run.Attempts+1).Msg("Workflow step failed, will retry")
		if err := e.store.RecordError(ctx, jobID, stepErr); err != nil {
			logger.Error().Err(err).Msg("Failed to record run error")
		}

		select {
		case <-time.After(e.cfg.RetryBackoff):
		case <-e.ctx.Done():
			// Left running in the store; recovery resumes it at the
			// checkpointed step.
			return
		}
	}
}

// executeSteps resumes the run at its recorded step and drives it to
// completion. Fetch is re-run on resume (pure read); a checkpointed generate
// result is never regenerated.
func (e *Engine) executeSteps(ctx context.Context, run *Run, logger zerolog.Logger) error {
	if run.Step == StepCommit {
		return e.commit(ctx, run, run.Checkpoint)
	}

	turns, err := e.summarizer.Fetch(ctx, run.SessionID)
	if err != nil {
		observability.RecordWorkflowStep(string(StepFetch), false)
		return err
	}
	observability.RecordWorkflowStep(string(StepFetch), true)

	if len(turns) == 0 {
		// Nothing to summarize; completing without a commit is not an error.
		logger.Info().Msg("Transcript empty, skipping summarization")
		return e.store.MarkCompleted(ctx, run.JobID)
	}

	summary, err := e.summarizer.Generate(ctx, turns)
	if err != nil {
		observability.RecordWorkflowStep(string(StepGenerate), false)
		return err
	}
	observability.RecordWorkflowStep(string(StepGenerate), true)

	// Checkpoint before committing so a crash here never regenerates.
	if err := e.store.SaveCheckpoint(ctx, run.JobID, StepCommit, summary); err != nil {
		return err
	}

	return e.commit(ctx, run, summary)
}

func (e *Engine) commit(ctx context.Context, run *Run, summary string) error {
	if err := e.summarizer.Commit(ctx, run.SessionID, summary); err != nil {
		observability.RecordWorkflowStep(string(StepCommit), false)
		return err
	}
	observability.RecordWorkflowStep(string(StepCommit), true)
	return e.store.MarkCompleted(ctx, run.JobID)
}
