package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))
	assert.Empty(t, cfg.SyncRoots)
	assert.Equal(t, defaultMaxParallelDownloads, cfg.Transfers.MaxParallelDownloads)
}

func TestValidate_RejectsNonPositiveParallelism(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transfers.MaxParallelDownloads = 0

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_parallel_downloads")
}

func TestValidate_RejectsMalformedSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transfers.CopyBufferSize = "10MiBB"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy_buffer_size")
}

func TestValidate_RejectsMalformedDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Admission.SleepOnDiskFull = "ten seconds"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sleep_on_disk_full")
}

func TestValidate_RequiresSyncRootFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyncRoots["home"] = SyncRootConfig{}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local_path")
	assert.Contains(t, err.Error(), "remote_root_id")
}
