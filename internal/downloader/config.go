package downloader

import (
	"fmt"
	"time"

	"github.com/tonimelisma/syncengine/internal/config"
)

// Config holds the download worker's tunable constants, parsed once from
// the TOML-level string fields into the types the engine actually computes
// with.
type Config struct {
	MaxParallelDownloads       int
	CopyBufferSize             int64
	BandwidthLimit             int64
	MinSizeForP2P              int64
	MinSizeForChecksums        int64
	RangePlannerBlockSize      int64
	StartNewDownloadsThreshold int64
	MinLocalFreeSpace          int64
	SleepOnDiskFull            time.Duration
	SleepOnLockedFile          time.Duration
	SleepOnFailedDownload      time.Duration
	SockTimeoutOnException     time.Duration
}

// ParseConfig converts the TOML-facing transfers/admission sections into a
// Config, validating every tunable eagerly so a malformed config file is
// caught at startup rather than mid-sync.
func ParseConfig(tc config.TransfersConfig, ac config.AdmissionConfig) (Config, error) {
	var c Config
	var err error

	c.MaxParallelDownloads = tc.MaxParallelDownloads
	if c.MaxParallelDownloads < 1 {
		c.MaxParallelDownloads = 1
	}

	if c.CopyBufferSize, err = config.ParseSize(tc.CopyBufferSize); err != nil {
		return Config{}, fmt.Errorf("downloader: config: copy_buffer_size: %w", err)
	}
	if c.BandwidthLimit, err = config.ParseSize(tc.BandwidthLimit); err != nil {
		return Config{}, fmt.Errorf("downloader: config: bandwidth_limit: %w", err)
	}
	if c.MinSizeForP2P, err = config.ParseSize(tc.MinSizeForP2P); err != nil {
		return Config{}, fmt.Errorf("downloader: config: min_size_for_p2p: %w", err)
	}
	if c.MinSizeForChecksums, err = config.ParseSize(tc.MinSizeForChecksums); err != nil {
		return Config{}, fmt.Errorf("downloader: config: min_size_for_checksums: %w", err)
	}
	if c.RangePlannerBlockSize, err = config.ParseSize(tc.RangePlannerBlockSize); err != nil {
		return Config{}, fmt.Errorf("downloader: config: range_planner_block_size: %w", err)
	}
	if c.StartNewDownloadsThreshold, err = config.ParseSize(ac.StartNewDownloadsThreshold); err != nil {
		return Config{}, fmt.Errorf("downloader: config: start_new_downloads_threshold: %w", err)
	}
	if c.MinLocalFreeSpace, err = config.ParseSize(ac.MinLocalFreeSpace); err != nil {
		return Config{}, fmt.Errorf("downloader: config: min_local_free_space: %w", err)
	}

	if c.SleepOnDiskFull, err = time.ParseDuration(ac.SleepOnDiskFull); err != nil {
		return Config{}, fmt.Errorf("downloader: config: sleep_on_disk_full: %w", err)
	}
	if c.SleepOnLockedFile, err = time.ParseDuration(ac.SleepOnLockedFile); err != nil {
		return Config{}, fmt.Errorf("downloader: config: sleep_on_locked_file: %w", err)
	}
	if c.SleepOnFailedDownload, err = time.ParseDuration(ac.SleepOnFailedDownload); err != nil {
		return Config{}, fmt.Errorf("downloader: config: sleep_on_failed_download: %w", err)
	}
	if c.SockTimeoutOnException, err = time.ParseDuration(ac.SockTimeoutOnException); err != nil {
		return Config{}, fmt.Errorf("downloader: config: sock_timeout_on_exception: %w", err)
	}

	if c.CopyBufferSize == 0 {
		c.CopyBufferSize = 64 * 1024
	}

	return c, nil
}
