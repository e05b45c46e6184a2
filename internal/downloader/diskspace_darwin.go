//go:build darwin

package downloader

import "syscall"

// availableBytes returns available bytes on the volume containing path.
func availableBytes(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}

	return stat.Bavail * uint64(stat.Bsize), nil
}
