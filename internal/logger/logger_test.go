package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	l, err := New(DefaultConfig())
	require.NoError(t, err)
	defer l.Close()

	assert.NotNil(t, l.GetZerolog())
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	l, err := New(Config{Level: "bogus", Console: true})
	require.NoError(t, err)
	defer l.Close()
}

func TestNew_FileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "sessiond.log")

	l, err := New(Config{Level: "debug", File: logPath})
	require.NoError(t, err)

	zl := l.GetZerolog()
	zl.Info().Str("session_id", "s1").Msg("hello")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), "session_id")
}
