//go:build darwin

package downloader

import (
	"os"
	"syscall"
)

func statIdentitySys(fi os.FileInfo) (inode, deviceID uint64) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0
	}

	return st.Ino, uint64(st.Dev) //nolint:gosec // kernel guarantees non-negative values
}
