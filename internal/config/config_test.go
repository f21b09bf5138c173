package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	t.Setenv("PARLEY_ADDR", ":9000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.APIKey)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, defaultBaseURL, cfg.BaseURL)
}

func TestLoadFromSecretsFile(t *testing.T) {
	dir := t.TempDir()
	secrets := filepath.Join(dir, "secrets.json")
	require.NoError(t, os.WriteFile(secrets, []byte(`{"openrouter_api_key":"sk-file"}`), 0o600))

	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("PARLEY_SECRETS_FILE", secrets)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-file", cfg.APIKey)
}

func TestLoadMissingCredential(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("PARLEY_SECRETS_FILE", filepath.Join(t.TempDir(), "missing.json"))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no API credential")
}

func TestLoadMalformedSecrets(t *testing.T) {
	dir := t.TempDir()
	secrets := filepath.Join(dir, "secrets.json")
	require.NoError(t, os.WriteFile(secrets, []byte(`not json`), 0o600))

	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("PARLEY_SECRETS_FILE", secrets)

	_, err := Load()
	require.Error(t, err)
}
