package downloader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/syncengine/internal/config"
)

func validTransfersConfig() config.TransfersConfig {
	return config.TransfersConfig{
		MaxParallelDownloads:  4,
		CopyBufferSize:        "64KB",
		BandwidthLimit:        "0",
		MinSizeForP2P:         "10MB",
		MinSizeForChecksums:   "1MB",
		RangePlannerBlockSize: "4MB",
	}
}

func validAdmissionConfig() config.AdmissionConfig {
	return config.AdmissionConfig{
		StartNewDownloadsThreshold: "100MB",
		MinLocalFreeSpace:          "1GB",
		SleepOnDiskFull:            "30s",
		SleepOnLockedFile:          "5s",
		SleepOnFailedDownload:      "10s",
		SockTimeoutOnException:     "15s",
	}
}

func TestParseConfig_ValidInput(t *testing.T) {
	c, err := ParseConfig(validTransfersConfig(), validAdmissionConfig())
	require.NoError(t, err)

	assert.Equal(t, 4, c.MaxParallelDownloads)
	assert.Equal(t, int64(64*1000), c.CopyBufferSize)
	assert.Equal(t, int64(0), c.BandwidthLimit)
	assert.Equal(t, 30*time.Second, c.SleepOnDiskFull)
}

func TestParseConfig_ZeroParallelismFloorsToOne(t *testing.T) {
	tc := validTransfersConfig()
	tc.MaxParallelDownloads = 0

	c, err := ParseConfig(tc, validAdmissionConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, c.MaxParallelDownloads)
}

func TestParseConfig_InvalidSizeRejected(t *testing.T) {
	tc := validTransfersConfig()
	tc.CopyBufferSize = "not-a-size"

	_, err := ParseConfig(tc, validAdmissionConfig())
	assert.Error(t, err)
}

func TestParseConfig_InvalidDurationRejected(t *testing.T) {
	ac := validAdmissionConfig()
	ac.SleepOnDiskFull = "not-a-duration"

	_, err := ParseConfig(validTransfersConfig(), ac)
	assert.Error(t, err)
}
