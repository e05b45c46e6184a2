package config

// Default values for configuration options, chosen to be safe, reasonable
// starting points that work without any config file. Values mirror the
// tunable constants named in the engine's external-interfaces contract
// (max parallel downloads, admission threshold, P2P/checksum size floors,
// copy buffer size, and the various sleep/backoff durations).
const (
	defaultMaxParallelDownloads       = 4
	defaultCopyBufferSize             = "256KiB"
	defaultBandwidthLimit             = "0"
	defaultMinSizeForP2P              = "10MiB"
	defaultMinSizeForChecksums        = "1MiB"
	defaultRangePlannerBlockSize      = "64KiB"
	defaultStartNewDownloadsThreshold = "64MiB"
	defaultMinLocalFreeSpace          = "1GB"
	defaultSleepOnDiskFull            = "10s"
	defaultSleepOnLockedFile          = "1s"
	defaultSleepOnFailedDownload      = "5s"
	defaultSockTimeoutOnException     = "30s"
	defaultLogLevel                   = "info"
	defaultLogFormat                  = "auto"
	defaultConnectTimeout             = "10s"
	defaultDataTimeout                = "60s"
)

// DefaultConfig returns a Config populated with all default values. This is
// used both as the starting point for TOML decoding (so unset fields retain
// defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		SyncRoots: make(map[string]SyncRootConfig),
		Transfers: defaultTransfersConfig(),
		Admission: defaultAdmissionConfig(),
		Logging:   defaultLoggingConfig(),
		Network:   defaultNetworkConfig(),
	}
}

func defaultTransfersConfig() TransfersConfig {
	return TransfersConfig{
		MaxParallelDownloads:  defaultMaxParallelDownloads,
		CopyBufferSize:        defaultCopyBufferSize,
		BandwidthLimit:        defaultBandwidthLimit,
		MinSizeForP2P:         defaultMinSizeForP2P,
		MinSizeForChecksums:   defaultMinSizeForChecksums,
		RangePlannerBlockSize: defaultRangePlannerBlockSize,
	}
}

func defaultAdmissionConfig() AdmissionConfig {
	return AdmissionConfig{
		StartNewDownloadsThreshold: defaultStartNewDownloadsThreshold,
		MinLocalFreeSpace:          defaultMinLocalFreeSpace,
		SleepOnDiskFull:            defaultSleepOnDiskFull,
		SleepOnLockedFile:          defaultSleepOnLockedFile,
		SleepOnFailedDownload:      defaultSleepOnFailedDownload,
		SockTimeoutOnException:     defaultSockTimeoutOnException,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ConnectTimeout: defaultConnectTimeout,
		DataTimeout:    defaultDataTimeout,
	}
}
