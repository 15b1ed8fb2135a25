package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearBAPEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				key := kv[:i]
				if len(key) >= 4 && key[:4] == "BAP_" {
					orig, had := os.LookupEnv(key)
					os.Unsetenv(key)
					t.Cleanup(func() {
							if had {
								os.Setenv(key, orig)
							}
					})
				}
				break
			}
		}
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearBAPEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8877, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "rod", cfg.Engine.Kind)
	assert.Equal(t, "0.0.0.0:8877", cfg.Server.Address())
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	clearBAPEnv(t)
	t.Setenv("BAP_PORT", "9000")
	t.Setenv("BAP_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	clearBAPEnv(t)
	t.Setenv("BAP_PORT", "70000")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRequiresAuthTokenWhenAuthRequired(t *testing.T) {
	clearBAPEnv(t)
	t.Setenv("BAP_REQUIRE_AUTH", "true")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownEngineKind(t *testing.T) {
	clearBAPEnv(t)
	t.Setenv("BAP_ENGINE", "playwright")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadOverlaysConfigFile(t *testing.T) {
	clearBAPEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "bap.json")
	overlay := map[string]any{
		"Server": map[string]any{"Port": 9191},
	}
	data, err := json.Marshal(overlay)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	t.Setenv("BAP_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadOverlayFileNotFoundErrors(t *testing.T) {
	clearBAPEnv(t)
	t.Setenv("BAP_CONFIG_FILE", "/no/such/file.json")

	_, err := Load()
	require.Error(t, err)
}
