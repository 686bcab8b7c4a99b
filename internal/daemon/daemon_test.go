package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solace-labs/sessiond/internal/config"
	"github.com/solace-labs/sessiond/internal/logger"
	"github.com/solace-labs/sessiond/pkg/transcript"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	// Stay clear of other test processes on shared CI hosts.
	cfg.Gateway.Port = 18090 + os.Getpid()%1000
	cfg.AI.Provider = "compat"
	cfg.AI.BaseURL = "http://localhost:11434/v1"
	cfg.AI.Model = "test-model"
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Console: false})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.AI.BaseURL = ""

	_, err := New(cfg, "", testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
}

func TestStartStopLifecycle(t *testing.T) {
	d, err := New(testConfig(t), "", testLogger(t))
	require.NoError(t, err)

	assert.False(t, d.IsRunning())
	assert.Zero(t, d.Uptime())

	require.NoError(t, d.Start())
	assert.True(t, d.IsRunning())
	assert.Error(t, d.Start())

	time.Sleep(20 * time.Millisecond)
	assert.Greater(t, d.Uptime(), time.Duration(0))

	require.NoError(t, d.Stop())
	assert.False(t, d.IsRunning())
	// Stop is idempotent.
	require.NoError(t, d.Stop())
}

func TestRetentionSweepTrimsTranscripts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.MaxTurns = 5

	d, err := New(cfg, "", testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { d.Stop() })

	ctx := context.Background()
	for i := 0; i < 12; i++ {
		_, err := d.transcripts.Append(ctx, "alpha", transcript.RoleUser, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	d.runRetentionSweep()

	count, err := d.transcripts.Count(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	// Sequence numbering continues past trimmed rows.
	turns, err := d.transcripts.Recent(ctx, "alpha", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(12), turns[len(turns)-1].Seq)
}

func TestRetentionSweepDisabledByZeroCap(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.MaxTurns = 0

	d, err := New(cfg, "", testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { d.Stop() })

	// Only the reaper is registered when retention is off.
	assert.Len(t, d.scheduler.Entries(), 1)
}

func TestDatabaseCreatedUnderDataDir(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, "", testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { d.Stop() })

	_, err = os.Stat(filepath.Join(cfg.DataDir, "sessiond.db"))
	assert.NoError(t, err)
}
