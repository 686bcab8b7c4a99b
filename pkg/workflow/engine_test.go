package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solace-labs/sessiond/internal/config"
	"github.com/solace-labs/sessiond/pkg/completion"
	"github.com/solace-labs/sessiond/pkg/storage"
	"github.com/solace-labs/sessiond/pkg/transcript"
)

type fakeSessions struct {
	mu        sync.Mutex
	turns     []transcript.Turn
	committed []string
	commitErr error
}

func (f *fakeSessions) RecentTurns(ctx context.Context, sessionID string, limit int) ([]transcript.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit < len(f.turns) {
		return f.turns[len(f.turns)-limit:], nil
	}
	return f.turns, nil
}

func (f *fakeSessions) CommitProfileSummary(ctx context.Context, sessionID string, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, summary)
	return nil
}

func (f *fakeSessions) commits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.committed...)
}

type fakeCompleter struct {
	mu       sync.Mutex
	response string
	failures int
	calls    int
}

func (p *fakeCompleter) Name() string { return "fake" }

func (p *fakeCompleter) Complete(ctx context.Context, req completion.Request) (*completion.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failures > 0 {
		p.failures--
		return nil, fmt.Errorf("transient upstream failure")
	}
	return &completion.Response{Content: p.response}, nil
}

func (p *fakeCompleter) Stream(ctx context.Context, req completion.Request) (<-chan completion.Delta, error) {
	return nil, fmt.Errorf("not used")
}

func (p *fakeCompleter) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type engineEnv struct {
	store    *Store
	sessions *fakeSessions
	provider *fakeCompleter
	cfg      config.WorkflowConfig
}

func setupEngineEnv(t *testing.T) *engineEnv {
	t.Helper()
	db, err := storage.Open(storage.Config{
		Path:   filepath.Join(t.TempDir(), "sessiond.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, zerolog.Nop())
	require.NoError(t, err)

	return &engineEnv{
		store:    store,
		sessions: &fakeSessions{},
		provider: &fakeCompleter{response: "- prefers tea over coffee"},
		cfg: config.WorkflowConfig{
			MaxAttempts:  3,
			RetryBackoff: 10 * time.Millisecond,
			ReapAfter:    time.Hour,
		},
	}
}

func (e *engineEnv) newEngine(t *testing.T) *Engine {
	t.Helper()
	summarizer := NewSummarizer(e.sessions, e.provider, func() SummarizeParams {
		return SummarizeParams{Model: "test-model", Window: 30, MaxWords: 120, MaxTokens: 512}
	})
	engine, err := NewEngine(e.store, summarizer, e.cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, engine.Start())
	t.Cleanup(engine.Stop)
	return engine
}

func waitForStatus(t *testing.T, store *Store, jobID string, want Status) *Run {
	t.Helper()
	var run *Run
	require.Eventually(t, func() bool {
		r, err := store.Get(context.Background(), jobID)
		if err != nil {
			return false
		}
		run = r
		return r.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return run
}

func someTurns() []transcript.Turn {
	return []transcript.Turn{
		{Seq: 1, Role: transcript.RoleUser, Content: "I always drink tea"},
		{Seq: 2, Role: transcript.RoleAssistant, Content: "Noted, tea it is"},
	}
}

func TestRunCompletesAndCommits(t *testing.T) {
	env := setupEngineEnv(t)
	env.sessions.turns = someTurns()
	engine := env.newEngine(t)

	require.NoError(t, engine.Schedule(context.Background(), "summarize-alpha-1", "alpha"))

	waitForStatus(t, env.store, "summarize-alpha-1", StatusCompleted)
	assert.Equal(t, []string{"- prefers tea over coffee"}, env.sessions.commits())
	assert.Equal(t, 1, env.provider.callCount())
}

func TestDuplicateJobIDRejected(t *testing.T) {
	env := setupEngineEnv(t)
	env.sessions.turns = someTurns()
	engine := env.newEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.Schedule(ctx, "summarize-alpha-1", "alpha"))
	assert.Error(t, engine.Schedule(ctx, "summarize-alpha-1", "alpha"))

	waitForStatus(t, env.store, "summarize-alpha-1", StatusCompleted)
	assert.Len(t, env.sessions.commits(), 1)
}

func TestEmptyTranscriptCompletesWithoutCommit(t *testing.T) {
	env := setupEngineEnv(t)
	engine := env.newEngine(t)

	require.NoError(t, engine.Schedule(context.Background(), "summarize-empty-1", "empty"))

	waitForStatus(t, env.store, "summarize-empty-1", StatusCompleted)
	assert.Empty(t, env.sessions.commits())
	assert.Zero(t, env.provider.callCount())
}

func TestTransientFailureRetried(t *testing.T) {
	env := setupEngineEnv(t)
	env.sessions.turns = someTurns()
	env.provider.failures = 1
	engine := env.newEngine(t)

	require.NoError(t, engine.Schedule(context.Background(), "summarize-alpha-1", "alpha"))

	run := waitForStatus(t, env.store, "summarize-alpha-1", StatusCompleted)
	assert.Equal(t, 2, run.Attempts)
	assert.Equal(t, []string{"- prefers tea over coffee"}, env.sessions.commits())
}

func TestAttemptLimitMarksFailed(t *testing.T) {
	env := setupEngineEnv(t)
	env.sessions.turns = someTurns()
	env.provider.failures = 100
	engine := env.newEngine(t)

	require.NoError(t, engine.Schedule(context.Background(), "summarize-alpha-1", "alpha"))

	run := waitForStatus(t, env.store, "summarize-alpha-1", StatusFailed)
	assert.Equal(t, env.cfg.MaxAttempts, run.Attempts)
	assert.Contains(t, run.LastError, "attempt limit reached")
	assert.Empty(t, env.sessions.commits())
}

func TestResumeSkipsCheckpointedGenerate(t *testing.T) {
	env := setupEngineEnv(t)
	env.sessions.turns = someTurns()
	ctx := context.Background()

	// Simulate a crash between the generate checkpoint and the commit.
	require.NoError(t, env.store.Create(ctx, "summarize-alpha-1", "run-1", "alpha"))
	require.NoError(t, env.store.SaveCheckpoint(ctx, "summarize-alpha-1", StepCommit, "- checkpointed facts"))

	env.newEngine(t)

	waitForStatus(t, env.store, "summarize-alpha-1", StatusCompleted)
	assert.Equal(t, []string{"- checkpointed facts"}, env.sessions.commits())
	// The checkpointed summary is committed as-is, never regenerated.
	assert.Zero(t, env.provider.callCount())
}

func TestRecoveryResumesPendingRun(t *testing.T) {
	env := setupEngineEnv(t)
	env.sessions.turns = someTurns()
	ctx := context.Background()

	require.NoError(t, env.store.Create(ctx, "summarize-alpha-1", "run-1", "alpha"))

	env.newEngine(t)

	waitForStatus(t, env.store, "summarize-alpha-1", StatusCompleted)
	assert.Equal(t, []string{"- prefers tea over coffee"}, env.sessions.commits())
}

func TestRequeuePicksUpStrandedRun(t *testing.T) {
	env := setupEngineEnv(t)
	env.sessions.turns = someTurns()
	ctx := context.Background()
	engine := env.newEngine(t)

	// A run created durably but never enqueued, as happens when Schedule
	// finds the queue full. Only a restart would pick it up otherwise.
	require.NoError(t, env.store.Create(ctx, "summarize-alpha-1", "run-1", "alpha"))

	n, err := engine.Requeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	waitForStatus(t, env.store, "summarize-alpha-1", StatusCompleted)
	assert.Equal(t, []string{"- prefers tea over coffee"}, env.sessions.commits())
}

func TestRequeueIgnoresFinishedRuns(t *testing.T) {
	env := setupEngineEnv(t)
	ctx := context.Background()
	engine := env.newEngine(t)

	require.NoError(t, env.store.Create(ctx, "done", "r1", "alpha"))
	require.NoError(t, env.store.MarkCompleted(ctx, "done"))

	n, err := engine.Requeue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReapDeletesOnlyFinishedRuns(t *testing.T) {
	env := setupEngineEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.Create(ctx, "done", "r1", "alpha"))
	require.NoError(t, env.store.MarkCompleted(ctx, "done"))
	require.NoError(t, env.store.Create(ctx, "pending", "r2", "alpha"))

	n, err := env.store.Reap(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = env.store.Get(ctx, "done")
	assert.Error(t, err)
	run, err := env.store.Get(ctx, "pending")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, run.Status)
}

func TestCommitFailureRetriesFromCheckpoint(t *testing.T) {
	env := setupEngineEnv(t)
	env.sessions.turns = someTurns()
	env.sessions.commitErr = fmt.Errorf("actor unavailable")
	engine := env.newEngine(t)

	require.NoError(t, engine.Schedule(context.Background(), "summarize-alpha-1", "alpha"))

	// Wait for the checkpoint to land, then let the commit succeed.
	require.Eventually(t, func() bool {
		r, err := env.store.Get(context.Background(), "summarize-alpha-1")
		return err == nil && r.Step == StepCommit
	}, 5*time.Second, 10*time.Millisecond)

	env.sessions.mu.Lock()
	env.sessions.commitErr = nil
	env.sessions.mu.Unlock()

	waitForStatus(t, env.store, "summarize-alpha-1", StatusCompleted)
	assert.Equal(t, []string{"- prefers tea over coffee"}, env.sessions.commits())
	// Generate ran once; the retry resumed at the commit step.
	assert.Equal(t, 1, env.provider.callCount())
}
