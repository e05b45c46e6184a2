package downloader

import (
	"context"
	"fmt"
	"os"

	"github.com/tonimelisma/syncengine/internal/storage"
)

// applyDeleteFile implements DELETE_LOCAL_FILE (§4.2.3): wait for zero
// in-flight downloads, then best-effort delete. Only EBUSY/EROFS fails the
// task for later retry; any other outcome (including the path already
// being gone) is treated as success and the localfile row is dropped.
func (w *Worker) applyDeleteFile(ctx context.Context, t storage.Task) error {
	if err := w.admission.WaitIdle(ctx); err != nil {
		return err
	}

	existing, err := w.db.FindFileByName(ctx, t.SyncID, t.LocalItemID, t.Name)
	if err != nil {
		// Row already gone — nothing to delete.
		return nil
	}

	path, err := w.resolver.FilePath(ctx, t.SyncID, t.LocalItemID, t.Name)
	if err != nil {
		return fmt.Errorf("downloader: delete file: resolving path: %w", err)
	}

	if rmErr := os.Remove(path); rmErr != nil && isBusyOrReadOnly(rmErr) {
		return fmt.Errorf("downloader: delete file %q: %w", path, rmErr)
	}

	if err := w.db.DeleteFile(ctx, existing.ID); err != nil {
		return fmt.Errorf("downloader: delete file: removing local file row: %w", err)
	}

	w.events.Publish(Event{Kind: EventLocalFileDeleted, SyncID: t.SyncID, Path: path, RemoteID: t.ItemID, Name: t.Name})

	return nil
}

// applyRenameFile implements RENAME_LOCAL_FILE: no-ops if the target name
// already reflects the rename, falls back to a fresh download if the
// source row is missing, and otherwise moves the file on disk and updates
// the localfile row in place.
func (w *Worker) applyRenameFile(ctx context.Context, t storage.Task) error {
	if already, err := w.db.FindFileByName(ctx, t.NewSyncID, t.NewItemID, t.Name); err == nil && already.FileID == t.ItemID {
		return nil
	}

	existing, err := w.db.FindFileByName(ctx, t.SyncID, t.LocalItemID, t.Name)
	if err != nil {
		return w.enqueueDownload(ctx, t)
	}

	oldPath, err := w.resolver.FilePath(ctx, t.SyncID, t.LocalItemID, t.Name)
	if err != nil {
		return fmt.Errorf("downloader: rename file: resolving old path: %w", err)
	}
	newPath, err := w.resolver.FilePath(ctx, t.NewSyncID, t.NewItemID, t.Name)
	if err != nil {
		return fmt.Errorf("downloader: rename file: resolving new path: %w", err)
	}

	w.scan.Stop()
	defer w.scan.Resume()

	if err := os.Rename(oldPath, newPath); err != nil {
		if isNotExist(err) {
			return w.enqueueDownload(ctx, t)
		}
		return fmt.Errorf("downloader: rename file %q -> %q: %w", oldPath, newPath, err)
	}

	fi, err := os.Stat(newPath)
	if err != nil {
		return fmt.Errorf("downloader: rename file: stat after success: %w", err)
	}

	ino, _ := statIdentitySys(fi)
	existing.SyncID = t.NewSyncID
	existing.LocalParentFolderID = t.NewItemID
	existing.Name = t.Name
	existing.Inode = ino
	existing.Mtime = fi.ModTime().Unix()
	existing.MtimeNative = fi.ModTime().UnixNano()

	if err := w.db.RelocateFile(ctx, existing.ID, existing); err != nil {
		return fmt.Errorf("downloader: rename file: relocating local file row: %w", err)
	}

	return nil
}

// enqueueDownload falls back to a fresh DOWNLOAD_FILE task when a rename
// can't be satisfied locally (source row missing or target path gone).
func (w *Worker) enqueueDownload(ctx context.Context, t storage.Task) error {
	_, err := w.db.EnqueueTask(ctx, storage.Task{
		Type:        storage.TaskDownloadFile,
		SyncID:      t.NewSyncID,
		ItemID:      t.ItemID,
		LocalItemID: t.NewItemID,
		Name:        t.Name,
	})
	if err != nil {
		return fmt.Errorf("downloader: enqueueing fallback download: %w", err)
	}

	return nil
}
