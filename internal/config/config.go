// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for the sync engine.
package config

// Config is the top-level configuration structure. It holds one or more
// sync-root profiles plus the global sections that apply to every root; a
// profile cannot override a global section.
type Config struct {
	SyncRoots map[string]SyncRootConfig `toml:"sync_root"`
	Transfers TransfersConfig           `toml:"transfers"`
	Admission AdmissionConfig           `toml:"admission"`
	Logging   LoggingConfig             `toml:"logging"`
	Network   NetworkConfig             `toml:"network"`
}

// SyncRootConfig binds one local directory to one remote root. SyncID is the
// map key in the TOML file (e.g. "[sync_root.home]"); it is also the
// `syncid` referenced throughout the data model.
type SyncRootConfig struct {
	LocalPath      string `toml:"local_path"`
	RemoteRootID   string `toml:"remote_root_id"`
	CredentialsRef string `toml:"credentials_ref"` // opaque reference resolved by the external auth collaborator
	Paused         bool   `toml:"paused"`
}

// TransfersConfig controls the download worker's parallelism and throughput.
type TransfersConfig struct {
	MaxParallelDownloads       int    `toml:"max_parallel_downloads"`
	CopyBufferSize             string `toml:"copy_buffer_size"`
	BandwidthLimit             string `toml:"bandwidth_limit"`
	MinSizeForP2P              string `toml:"min_size_for_p2p"`
	MinSizeForChecksums        string `toml:"min_size_for_checksums"`
	RangePlannerBlockSize      string `toml:"range_planner_block_size"`
}

// AdmissionConfig controls the backpressure thresholds of the Status/
// Backpressure Registry (C1).
type AdmissionConfig struct {
	StartNewDownloadsThreshold string `toml:"start_new_downloads_threshold"`
	MinLocalFreeSpace          string `toml:"min_local_free_space"`
	SleepOnDiskFull            string `toml:"sleep_on_disk_full"`
	SleepOnLockedFile          string `toml:"sleep_on_locked_file"`
	SleepOnFailedDownload      string `toml:"sleep_on_failed_download"`
	SockTimeoutOnException    string `toml:"sock_timeout_on_exception"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior for range transfers.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}
