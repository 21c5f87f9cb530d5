package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/renewal-engine/config"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// chdir changes the working directory for the duration of the test, like
// testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(prev)) })
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := config.Load("")

	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestLoad_NamedFileMustExist(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := config.Load("missing.toml")

	assert.Error(t, err)
}

func TestLoad_TomlOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := writeFile(t, dir, "renewals.toml", `
[server]
port = 9090
allowed_origins = ["https://desk.example.com"]

[database]
path = "/var/lib/renewals.db"

[query]
default_page_size = 50

[log]
level = "debug"
development = true
`)

	cfg, err := config.Load(path)

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://desk.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "/var/lib/renewals.db", cfg.Database.Path)
	assert.Equal(t, 50, cfg.Query.DefaultPageSize)
	assert.Equal(t, 500, cfg.Query.MaxPageSize, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Development)
}

func TestLoad_EnvOverridesToml(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, dir, config.DefaultPath, "[server]\nport = 9090\n")
	t.Setenv("RENEWALS_PORT", "7070")
	t.Setenv("RENEWALS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("RENEWALS_DB_PATH", ":memory:")
	t.Setenv("RENEWALS_LOG_DEVELOPMENT", "true")

	cfg, err := config.Load("")

	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.True(t, cfg.Log.Development)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, dir, ".env", "RENEWALS_LOG_LEVEL=warn\n")
	t.Cleanup(func() { os.Unsetenv("RENEWALS_LOG_LEVEL") })

	cfg, err := config.Load("")

	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		toml string
		env  map[string]string
	}{
		{name: "bad toml", toml: "[server\nport = 1"},
		{name: "port out of range", toml: "[server]\nport = 70000\n"},
		{name: "max below default", toml: "[query]\ndefault_page_size = 100\nmax_page_size = 10\n"},
		{name: "max above engine limit", toml: "[query]\nmax_page_size = 1000\n"},
		{name: "bad env port", env: map[string]string{"RENEWALS_PORT": "eighty"}},
		{name: "bad env bool", env: map[string]string{"RENEWALS_LOG_DEVELOPMENT": "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			chdir(t, dir)
			if tt.toml != "" {
				writeFile(t, dir, config.DefaultPath, tt.toml)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := config.Load("")

			assert.Error(t, err)
		})
	}
}
