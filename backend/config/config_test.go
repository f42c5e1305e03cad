package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("UNILINK_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8088", cfg.Server.Addr)
	require.Equal(t, "unilink.db", cfg.Database.Path)
	require.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	require.Equal(t, int64(10<<20), cfg.Storage.MaxUploadBytes)
	require.Equal(t, 5, cfg.Groups.JoinCodeAttempts)
	require.Equal(t, 20, cfg.Feed.PageSize)
	require.True(t, cfg.UsingDevSecret())
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "unilink.toml")
	contents := `
[server]
addr = ":9000"

[database]
path = "/tmp/from-file.db"

[feed]
page_size = 50
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	t.Setenv("UNILINK_CONFIG", path)
	t.Setenv("UNILINK_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("UNILINK_AUTH_TOKEN_TTL", "2h")
	t.Setenv("UNILINK_DATABASE_PATH", "/tmp/from-env.db")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Server.Addr)
	require.Equal(t, "/tmp/from-env.db", cfg.Database.Path)
	require.Equal(t, 50, cfg.Feed.PageSize)
	require.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	require.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	require.False(t, cfg.UsingDevSecret())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("UNILINK_CONFIG", "")
	t.Setenv("UNILINK_FEED_PAGE_SIZE", "500")

	_, err := Load()
	require.ErrorContains(t, err, "feed.page_size")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Setenv("UNILINK_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))

	_, err := Load()
	require.Error(t, err)
}
