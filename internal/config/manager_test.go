package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("HOST", "")
	t.Setenv("TARGET_BASE_URL", "")
	t.Setenv("STRICT_SCHEMA", "")
	t.Setenv("RULES_FILE", "")
	t.Setenv("PROXY_URL", "")

	manager, err := NewManager()
	require.NoError(t, err)

	server := manager.GetEffectiveServerConfig()
	assert.Equal(t, DefaultPort, server.Port)
	assert.Equal(t, DefaultHost, server.Host)

	upstream := manager.GetUpstreamConfig()
	assert.Equal(t, DefaultUpstreamBaseURL, upstream.BaseURL)

	translation := manager.GetTranslationConfig()
	assert.True(t, translation.StrictSchema)
	assert.False(t, translation.ForceToolChoice)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("TARGET_BASE_URL", "http://backend:9000/v1/")
	t.Setenv("TARGET_API_KEY", "sk-test")
	t.Setenv("STRICT_SCHEMA", "false")
	t.Setenv("FORCE_TOOL_CHOICE", "true")
	t.Setenv("MAX_CONCURRENT_REQUESTS", "7")

	manager, err := NewManager()
	require.NoError(t, err)

	assert.Equal(t, 9090, manager.GetEffectiveServerConfig().Port)
	assert.Equal(t, "127.0.0.1", manager.GetEffectiveServerConfig().Host)
	// Trailing slash is normalized away.
	assert.Equal(t, "http://backend:9000/v1", manager.GetUpstreamConfig().BaseURL)
	assert.Equal(t, "sk-test", manager.GetUpstreamConfig().APIKey)
	assert.False(t, manager.GetTranslationConfig().StrictSchema)
	assert.True(t, manager.GetTranslationConfig().ForceToolChoice)
	assert.Equal(t, 7, manager.GetPerformanceConfig().MaxConcurrentRequests)
}

func TestInvalidPortRejected(t *testing.T) {
	t.Setenv("PORT", "70000")
	_, err := NewManager()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port must be between")
}

func TestUnparseableValuesFallBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("STRICT_SCHEMA", "not-a-bool")

	manager, err := NewManager()
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, manager.GetEffectiveServerConfig().Port)
	assert.True(t, manager.GetTranslationConfig().StrictSchema)
}

func TestMissingRulesFileRejected(t *testing.T) {
	t.Setenv("RULES_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := NewManager()
	assert.Error(t, err)
}

func TestRulesFileAccepted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("additional_replacement: []\n"), 0644))
	t.Setenv("RULES_FILE", path)

	manager, err := NewManager()
	require.NoError(t, err)
	assert.Equal(t, path, manager.GetTranslationConfig().RulesFile)
}
