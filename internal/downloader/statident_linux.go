//go:build linux

package downloader

import (
	"os"
	"syscall"
)

// statIdentitySys extracts inode/device identity from a Linux os.FileInfo,
// used to resync localfolder/localfile rows after a successful create/
// rename so the local-scan subsystem can recognize its own writes.
func statIdentitySys(fi os.FileInfo) (inode, deviceID uint64) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0
	}

	return st.Ino, uint64(st.Dev) //nolint:gosec // kernel guarantees non-negative values
}
