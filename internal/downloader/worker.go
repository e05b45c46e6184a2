package downloader

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/syncengine/internal/pathresolve"
	"github.com/tonimelisma/syncengine/internal/rangeplan"
	"github.com/tonimelisma/syncengine/internal/storage"
)

// Worker is the Download Worker (C5): a single consumer pulling ready rows
// off the persistent task queue, executing folder operations inline and
// dispatching DOWNLOAD_FILE rows to bounded per-file goroutines gated by
// the Admission controller.
type Worker struct {
	db       *storage.Store
	resolver *pathresolve.Resolver
	planner  *rangeplan.Planner
	remote   RemoteClient
	events   EventSink
	scan     LocalScanController
	gate     RequiredStatusGate
	p2p      P2PProbe // nil disables the accelerator

	admission *Admission
	cancels   *cancelRegistry
	bw        *BandwidthLimiter

	cfg    Config
	logger *slog.Logger

	// files tracks in-flight download goroutines so Run can wait for them to
	// unwind on shutdown. Every spawned func always returns nil: per-task
	// errors are already recorded via finish(), so the group's first-error
	// propagation is unused here — it's still the idiomatic way this
	// codebase fans out and joins a dynamic, long-lived set of goroutines.
	files *errgroup.Group
}

// New constructs a Worker. p2p may be nil to disable the accelerator path.
func New(
	db *storage.Store,
	resolver *pathresolve.Resolver,
	remote RemoteClient,
	events EventSink,
	scan LocalScanController,
	gate RequiredStatusGate,
	p2p P2PProbe,
	cfg Config,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		db:        db,
		resolver:  resolver,
		planner:   rangeplan.New(cfg.RangePlannerBlockSize, cfg.MinSizeForChecksums),
		remote:    remote,
		events:    events,
		scan:      scan,
		gate:      gate,
		p2p:       p2p,
		admission: NewAdmission(cfg.MaxParallelDownloads, cfg.StartNewDownloadsThreshold),
		cancels:   newCancelRegistry(),
		bw:        NewBandwidthLimiter(cfg.BandwidthLimit, logger),
		cfg:       cfg,
		logger:    logger,
		files:     &errgroup.Group{},
	}
}

// Run is the worker's main loop: wait for required statuses, claim the
// next ready row, dispatch it, and loop. Folder operations run inline
// (they're expected to be fast and must serialize against each other via
// the task table's FIFO order); DOWNLOAD_FILE rows are handed to a bounded
// goroutine so slow transfers don't stall folder operations queued behind
// them. Run blocks until ctx is cancelled, then waits for in-flight file
// downloads to unwind.
func (w *Worker) Run(ctx context.Context) error {
	defer w.files.Wait() //nolint:errcheck // per-task errors are already handled in finish()

	for {
		if err := w.gate.Wait(ctx); err != nil {
			return err
		}

		t, err := w.db.NextReadyTask(ctx)
		if errors.Is(err, storage.ErrNoReadyTask) {
			if err := w.sleep(ctx, w.idlePoll()); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			w.logger.Error("downloader: fetching next task", slog.Any("error", err))
			if err := w.sleep(ctx, w.cfg.SockTimeoutOnException); err != nil {
				return err
			}
			continue
		}

		if err := w.db.MarkTaskInProgress(ctx, t.ID); err != nil {
			w.logger.Error("downloader: marking task in progress", slog.Int64("task", t.ID), slog.Any("error", err))
			continue
		}

		w.dispatch(ctx, t)
	}
}

// idlePoll is the backoff used when the queue is empty. The worker has no
// wake-up entry point: a newly enqueued task is picked up on the next poll,
// at most this interval later.
func (w *Worker) idlePoll() time.Duration {
	return 2 * time.Second
}

// dispatch routes a claimed task to its handler. DOWNLOAD_FILE tasks run on
// their own goroutine, admission-gated; every other task type is a folder
// or file-metadata operation executed inline on the consumer goroutine,
// matching the "single thread, bounded per-file fan-out" architecture.
func (w *Worker) dispatch(ctx context.Context, t storage.Task) {
	switch t.Type {
	case storage.TaskCreateLocalFolder:
		w.runInline(ctx, t, w.applyMkdir)
	case storage.TaskDeleteLocalFolder:
		w.runInline(ctx, t, w.applyRmdir)
	case storage.TaskDeleteRecursiveLocalFolder:
		w.runInline(ctx, t, w.applyRmdirRecursive)
	case storage.TaskRenameLocalFolder:
		w.runInline(ctx, t, w.applyRenameFolder)
	case storage.TaskDeleteLocalFile:
		w.runInline(ctx, t, w.applyDeleteFile)
	case storage.TaskRenameLocalFile:
		w.runInline(ctx, t, w.applyRenameFile)
	case storage.TaskDownloadFile:
		w.spawnDownload(ctx, t)
	default:
		w.logger.Error("downloader: unknown task type", slog.Int64("task", t.ID), slog.Int("type", int(t.Type)))
		w.finishFailed(ctx, t, outcomeDrop)
	}
}

// runInline executes a folder/file-metadata operation on the consumer
// goroutine and applies the resulting outcome to the task row.
func (w *Worker) runInline(ctx context.Context, t storage.Task, fn func(context.Context, storage.Task) error) {
	err := fn(ctx, t)
	w.finish(ctx, t, err)
}

// spawnDownload hands a DOWNLOAD_FILE row to a new goroutine, admission-
// gated so MAX_PARALLEL_DOWNLOADS is enforced across the lifetime of the
// worker, not just at dispatch time.
func (w *Worker) spawnDownload(ctx context.Context, t storage.Task) {
	w.files.Go(func() error {
		err := w.downloadFile(ctx, t)
		w.finish(ctx, t, err)
		return nil
	})
}

// finish applies a task's outcome: success deletes the row, cancellation
// resets inprogress with no event (§7) and no backoff, and failure resets
// inprogress for retry after a backoff appropriate to the failure's
// classification.
func (w *Worker) finish(ctx context.Context, t storage.Task, err error) {
	if err == nil {
		if cerr := w.db.CompleteTask(ctx, t.ID); cerr != nil {
			w.logger.Error("downloader: completing task", slog.Int64("task", t.ID), slog.Any("error", cerr))
		}
		return
	}

	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		if rerr := w.db.ResetTask(ctx, t.ID); rerr != nil {
			w.logger.Error("downloader: resetting cancelled task", slog.Int64("task", t.ID), slog.Any("error", rerr))
		}
		return
	}

	w.publishDownloadFailed(ctx, t)

	if errors.Is(err, ErrNetPermFail) {
		w.finishFailed(ctx, t, outcomeDrop)
		return
	}

	w.logger.Warn("downloader: task failed, will retry",
		slog.Int64("task", t.ID), slog.Int("type", int(t.Type)), slog.Any("error", err))
	w.finishFailed(ctx, t, outcomeRetryLater)

	// Back off before this row (or another) is reconsidered, so a
	// persistently failing task doesn't spin the consumer hot.
	_ = w.sleep(ctx, w.cfg.SleepOnFailedDownload)
}

// publishDownloadFailed emits FILE_DOWNLOAD_FAILED for a non-cancellation
// DOWNLOAD_FILE failure, whether it will be retried or dropped — users see
// one per failed attempt per §7. Folder/file-metadata task types never
// reach this event; it is a file-transfer-specific surface.
func (w *Worker) publishDownloadFailed(ctx context.Context, t storage.Task) {
	if t.Type != storage.TaskDownloadFile {
		return
	}

	path, perr := w.resolver.FilePath(ctx, t.SyncID, t.LocalItemID, t.Name)
	if perr != nil {
		path = ""
	}

	w.events.Publish(Event{Kind: EventFileDownloadFailed, SyncID: t.SyncID, Path: path, RemoteID: t.ItemID, Name: t.Name})
}

func (w *Worker) finishFailed(ctx context.Context, t storage.Task, o outcome) {
	switch o {
	case outcomeDrop:
		if err := w.db.CompleteTask(ctx, t.ID); err != nil {
			w.logger.Error("downloader: dropping task", slog.Int64("task", t.ID), slog.Any("error", err))
		}
	default:
		if err := w.db.ResetTask(ctx, t.ID); err != nil {
			w.logger.Error("downloader: resetting task", slog.Int64("task", t.ID), slog.Any("error", err))
		}
	}
}

// StopFileDownload cancels a single in-flight download, per the
// fileid/syncid-keyed cancellation design. Returns false if none is in
// flight for that key.
func (w *Worker) StopFileDownload(fileID, syncID int64) bool {
	return w.cancels.StopFile(fileID, syncID)
}

// StopSyncDownloads cancels every in-flight download for a sync root
// (e.g. the root was paused or removed).
func (w *Worker) StopSyncDownloads(syncID int64) {
	w.cancels.StopSync(syncID)
}

// StopAllDownloads cancels every in-flight download (e.g. on shutdown or a
// global pause).
func (w *Worker) StopAllDownloads() {
	w.cancels.StopAll()
}

// Snapshot reports the admission controller's current counters.
func (w *Worker) Snapshot() Snapshot {
	return w.admission.Snapshot()
}
