package downloader

import (
	"context"
	"sync"
)

// Admission is the Status/Backpressure Registry (C1): it encapsulates the
// counters and wake condition that used to be a free-floating mutex and
// condition variable, per the design note on the Admission Controller
// pattern. A download transitions starting -> started -> (released) exactly
// once; Admit, Promote, AbortStarting, Release, and AddBytesDownloaded are
// the only mutators.
type Admission struct {
	mu   sync.Mutex
	cond *sync.Cond

	maxParallel             int
	startNewDownloadsThresh int64
	starting                int
	started                 int
	filesDownloading        int
	bytesToDownloadCurrent  int64
	bytesDownloaded         int64
}

// NewAdmission constructs an Admission controller. maxParallel is
// MAX_PARALLEL_DOWNLOADS; thresholdBytes is START_NEW_DOWNLOADS_THRESHOLD.
func NewAdmission(maxParallel int, thresholdBytes int64) *Admission {
	a := &Admission{maxParallel: maxParallel, startNewDownloadsThresh: thresholdBytes}
	a.cond = sync.NewCond(&a.mu)

	return a
}

// AdmitForStart blocks until starting_downloads==0, started_downloads <
// maxParallel, and the in-flight byte gap is within threshold (invariant
// I6), then reserves a starting slot. Returns early with ctx.Err() if ctx
// is cancelled while waiting.
func (a *Admission) AdmitForStart(ctx context.Context) error {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		a.mu.Lock()
		close(done)
		a.cond.Broadcast()
		a.mu.Unlock()
	})
	defer stop()

	a.mu.Lock()
	defer a.mu.Unlock()

	for {
		select {
		case <-done:
			return ctx.Err()
		default:
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		gap := a.bytesToDownloadCurrent - a.bytesDownloaded
		if a.starting == 0 && a.started < a.maxParallel && gap <= a.startNewDownloadsThresh {
			break
		}

		a.cond.Wait()
	}

	a.starting++
	a.filesDownloading++

	return nil
}

// PromoteToStarted transitions a download from starting to started,
// reserves serverSize bytes in the in-flight gap, and wakes waiters so a
// newly-eligible admission can proceed (step 9).
func (a *Admission) PromoteToStarted(serverSize int64) {
	a.mu.Lock()
	a.starting--
	a.started++
	a.bytesToDownloadCurrent += serverSize
	a.mu.Unlock()

	a.cond.Broadcast()
}

// AbortStarting releases a reserved starting slot without ever promoting it
// — used by the free-space and identity/dedup short-circuits (steps 5-8),
// none of which reach step 9.
func (a *Admission) AbortStarting() {
	a.mu.Lock()
	a.starting--
	a.filesDownloading--
	a.mu.Unlock()

	a.cond.Broadcast()
}

// AddBytesDownloaded records progress on a started download, waking
// waiters if the in-flight gap has shrunk below threshold.
func (a *Admission) AddBytesDownloaded(n int64) {
	a.mu.Lock()
	a.bytesDownloaded += n
	a.mu.Unlock()

	a.cond.Broadcast()
}

// Release finishes a started download, decrementing the active-file count
// and waking admission waiters.
func (a *Admission) Release() {
	a.mu.Lock()
	a.started--
	a.filesDownloading--
	a.mu.Unlock()

	a.cond.Broadcast()
}

// WaitIdle blocks until no download is starting or started — the barrier
// folder operations (rmdir, recursive delete) wait on before touching the
// filesystem.
func (a *Admission) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		a.mu.Lock()
		close(done)
		a.cond.Broadcast()
		a.mu.Unlock()
	})
	defer stop()

	a.mu.Lock()
	defer a.mu.Unlock()

	for a.starting != 0 || a.started != 0 {
		select {
		case <-done:
			return ctx.Err()
		default:
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		a.cond.Wait()
	}

	return nil
}

// Snapshot reports the current counters for status/debug logging.
type Snapshot struct {
	Starting               int
	Started                int
	FilesDownloading       int
	BytesToDownloadCurrent int64
	BytesDownloaded        int64
}

func (a *Admission) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Snapshot{
		Starting:               a.starting,
		Started:                a.started,
		FilesDownloading:       a.filesDownloading,
		BytesToDownloadCurrent: a.bytesToDownloadCurrent,
		BytesDownloaded:        a.bytesDownloaded,
	}
}
