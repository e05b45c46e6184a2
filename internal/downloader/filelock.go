package downloader

import (
	"fmt"
	"os"
	"syscall"
)

// fileLock is a non-blocking advisory exclusive lock on a file's own
// descriptor, used to serialize overlapping download attempts for the
// same target path (step 1 of the file-download protocol).
type fileLock struct {
	f *os.File
}

// errLocked is returned by lockFile when another attempt already holds the
// advisory lock on path.
var errLocked = fmt.Errorf("downloader: file is locked")

// lockFile opens (creating if needed) and non-blockingly flocks path.
// Failure to acquire maps to errLocked; callers sleep SLEEP_ON_LOCKED_FILE
// and retry the task.
func lockFile(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, errLocked
	}

	return &fileLock{f: f}, nil
}

// unlock releases the advisory lock and closes the descriptor.
func (l *fileLock) unlock() error {
	defer l.f.Close()
	return syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
}
