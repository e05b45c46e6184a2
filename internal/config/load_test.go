package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLoadLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"), testLoadLogger())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_ParsesSyncRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[sync_root.home]
local_path = "/home/user/sync"
remote_root_id = "root"

[transfers]
max_parallel_downloads = 2
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path, testLoadLogger())
	require.NoError(t, err)
	require.Contains(t, cfg.SyncRoots, "home")
	assert.Equal(t, "/home/user/sync", cfg.SyncRoots["home"].LocalPath)
	assert.Equal(t, 2, cfg.Transfers.MaxParallelDownloads)
}

func TestLoad_RejectsUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("bogus_top_level_key = 1\n"), 0o600))

	_, err := Load(path, testLoadLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown key")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[transfers]\nmax_parallel_downloads = -1\n"), 0o600))

	_, err := Load(path, testLoadLogger())
	require.Error(t, err)
}
