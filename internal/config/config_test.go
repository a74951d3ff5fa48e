package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigLoad_Defaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "127.0.0.1:11546", cfg.GetHTTPAddr())
	assert.Equal(t, "server", cfg.EmbedProvider)
	assert.Equal(t, "http://127.0.0.1:8765", cfg.EmbedURL)
	assert.Equal(t, 30*time.Second, cfg.InferenceTimeout)
	assert.Equal(t, 3, cfg.ServerStartRetries)
	assert.Empty(t, cfg.Apps)
}

func TestConfigLoad_EnvOverride(t *testing.T) {
	t.Setenv("MEMORIES_APPS", "Slack,Discord")
	t.Setenv("MEMORIES_EMBED_PROVIDER", "Ollama")
	t.Setenv("MEMORIES_CAPTURE_TIMEOUT", "750ms")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, []string{"Slack", "Discord"}, cfg.Apps)
	assert.Equal(t, "ollama", cfg.EmbedProvider)
	assert.Equal(t, "http://localhost:11434", cfg.EmbedURL)
	assert.Equal(t, 750*time.Millisecond, cfg.CaptureTimeout)
}

func TestResolveDefaults_RejectsUnknownDrivers(t *testing.T) {
	cfg := NewForTesting()
	cfg.DBDriver = "mysql"
	assert.Error(t, cfg.ResolveDefaults())

	cfg = NewForTesting()
	cfg.DBDriver = "postgres"
	assert.Error(t, cfg.ResolveDefaults(), "postgres without DSN")

	cfg.PostgresDSN = "postgres://localhost/memories"
	assert.NoError(t, cfg.ResolveDefaults())

	cfg = NewForTesting()
	cfg.EmbedProvider = "openai"
	assert.Error(t, cfg.ResolveDefaults())
}

func TestNewForTesting_Resolved(t *testing.T) {
	cfg := NewForTesting()
	assert.Equal(t, cfg.ServerURL(), cfg.EmbedURL)
	assert.Equal(t, 1, cfg.ServerStartRetries)
}
