package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_MissingFileReturnsDefaults(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "nope.json"))

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Gateway.Port, cfg.Gateway.Port)
}

func TestLoader_LoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessiond.json")
	doc := `{
		"gateway": {"port": 9999},
		"session": {"summary_threshold": 4},
		"ai": {"provider": "compat", "base_url": "http://localhost:8000/v1", "model": "local"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, 4, cfg.Session.SummaryThreshold)
	assert.Equal(t, "compat", cfg.AI.Provider)
	// Untouched values keep their defaults
	assert.Equal(t, 10, cfg.Session.HistoryWindow)
}

func TestLoader_RejectsInvalidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessiond.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"gateway": {"port": "oops"}}`), 0600))

	_, err := NewLoader(path).Load()
	assert.Error(t, err)
}

func TestLoader_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessiond.json")
	l := NewLoader(path)

	cfg := DefaultConfig()
	cfg.Gateway.Port = 7777
	require.NoError(t, l.Save(cfg))

	loaded, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 7777, loaded.Gateway.Port)
}
