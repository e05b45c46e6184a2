package config

import (
	"errors"
	"fmt"
)

// Validate checks a Config for internally-consistent, loadable values.
// Size-ish strings are parsed (not just type-checked) so a malformed
// "10MiBB" is rejected at load time rather than at first use deep inside
// the admission controller.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Transfers.MaxParallelDownloads <= 0 {
		errs = append(errs, fmt.Errorf("transfers.max_parallel_downloads must be positive, got %d", cfg.Transfers.MaxParallelDownloads))
	}

	sizeFields := map[string]string{
		"transfers.copy_buffer_size":                cfg.Transfers.CopyBufferSize,
		"transfers.bandwidth_limit":                 cfg.Transfers.BandwidthLimit,
		"transfers.min_size_for_p2p":                cfg.Transfers.MinSizeForP2P,
		"transfers.min_size_for_checksums":          cfg.Transfers.MinSizeForChecksums,
		"transfers.range_planner_block_size":        cfg.Transfers.RangePlannerBlockSize,
		"admission.start_new_downloads_threshold":   cfg.Admission.StartNewDownloadsThreshold,
		"admission.min_local_free_space":            cfg.Admission.MinLocalFreeSpace,
	}

	for field, value := range sizeFields {
		if _, err := ParseSize(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	durationFields := map[string]string{
		"admission.sleep_on_disk_full":        cfg.Admission.SleepOnDiskFull,
		"admission.sleep_on_locked_file":      cfg.Admission.SleepOnLockedFile,
		"admission.sleep_on_failed_download":  cfg.Admission.SleepOnFailedDownload,
		"admission.sock_timeout_on_exception": cfg.Admission.SockTimeoutOnException,
		"network.connect_timeout":             cfg.Network.ConnectTimeout,
		"network.data_timeout":                cfg.Network.DataTimeout,
	}

	for field, value := range durationFields {
		if err := validateDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	for syncID, root := range cfg.SyncRoots {
		if root.LocalPath == "" {
			errs = append(errs, fmt.Errorf("sync_root.%s: local_path is required", syncID))
		}

		if root.RemoteRootID == "" {
			errs = append(errs, fmt.Errorf("sync_root.%s: remote_root_id is required", syncID))
		}
	}

	return errors.Join(errs...)
}
