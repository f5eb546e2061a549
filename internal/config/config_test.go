package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("LLM_SERVER_URL", "http://gateway:9000/")
	t.Setenv("DATABASE_URL", "/data/aura.db")
	t.Setenv("JWT_SECRET_KEY", "jwt-secret")
	t.Setenv("ENCRYPTION_KEY", "enc-secret")
	t.Setenv("BETA_ACCESS_KEY", "beta-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "HS256", cfg.Algorithm)
	assert.Equal(t, 30, cfg.AccessTokenExpireMinutes)
	assert.Equal(t, "./workspaces", cfg.WorkspacesRoot)
	// Trailing slashes are stripped so path joins stay clean.
	assert.Equal(t, "http://gateway:9000", cfg.LLMServerURL)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9999")
	t.Setenv("ACCESS_TOKEN_EXPIRE_MINUTES", "120")
	t.Setenv("WORKSPACES_ROOT", "/srv/workspaces")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 120, cfg.AccessTokenExpireMinutes)
	assert.Equal(t, "/srv/workspaces", cfg.WorkspacesRoot)
}

func TestLoadMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_SECRET_KEY", "")
	t.Setenv("BETA_ACCESS_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET_KEY")
	assert.Contains(t, err.Error(), "BETA_ACCESS_KEY")
}

func TestLoadRejectsUnknownAlgorithm(t *testing.T) {
	setRequired(t)
	t.Setenv("ALGORITHM", "RS256")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only HS256 is supported")
}
