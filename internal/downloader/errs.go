package downloader

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// outcome classifies a failed task attempt into the disposition the worker
// loop applies to the task-table row, per the error taxonomy.
type outcome int

const (
	// outcomeRetryLater resets inprogress=0 so the row is picked up again
	// on a future pass, after a backoff sleep appropriate to the cause.
	outcomeRetryLater outcome = iota
	// outcomeDrop deletes the row outright — the operation no longer makes
	// sense (permanent network failure, user-removed parent on mkdir).
	outcomeDrop
)

// ErrNetTempFail signals a transient network/RPC failure: backoff and
// retry at the top of the loop.
var ErrNetTempFail = errors.New("downloader: transient network failure")

// ErrNetPermFail signals a permanent network/RPC failure: drop the task or
// body, keep the queue healthy.
var ErrNetPermFail = errors.New("downloader: permanent network failure")

// ErrChecksumMismatch is returned when a finished download's accumulated
// hash does not match the server-reported hash.
var ErrChecksumMismatch = errors.New("downloader: checksum mismatch")

// ErrCancelled is returned when a StopHandle fires mid-download. It is not
// a failure: callers must not log it as an error or emit a failure event.
var ErrCancelled = errors.New("downloader: download cancelled")

// isDiskFull reports whether err is ENOSPC or EDQUOT (P_NOSPC/P_DQUOT).
func isDiskFull(err error) bool {
	return errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT)
}

// isBusyOrReadOnly reports whether err is EBUSY or EROFS (P_BUSY/P_ROFS).
func isBusyOrReadOnly(err error) bool {
	return errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.EROFS)
}

// isNotExist reports whether err is ENOENT (P_NOENT), the filesystem
// analogue of fs.ErrNotExist but checked against the raw syscall errno so
// it also matches errors surfaced through os.PathError-wrapped flock/statfs
// calls.
func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOENT)
}

// isAlreadyExists reports whether err is EEXIST (P_EXIST).
func isAlreadyExists(err error) bool {
	return errors.Is(err, fs.ErrExist) || errors.Is(err, syscall.EEXIST)
}

// isNotEmptyOrWrongType reports the renamedir collision cases: ENOTEMPTY
// (destination directory already has children) or ENOTDIR (destination
// exists but isn't a directory).
func isNotEmptyOrWrongType(err error) bool {
	return errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.ENOTDIR)
}

func (o outcome) String() string {
	switch o {
	case outcomeRetryLater:
		return "retry-later"
	case outcomeDrop:
		return "drop"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}
