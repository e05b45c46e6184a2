package overlay

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tonimelisma/syncengine/internal/storage"
)

// Bridge reconciles the in-memory overlay trees when the upload worker
// reports that the server confirmed an fstask. Each method deletes the
// fstask row (cascading its dependency edges) and clears the matching
// in-memory entry, then lets the dependency graph dispatch whatever became
// ready as a result.

// FolderCreated acknowledges a completed MKDIR task. The folder's pending
// placeholder id is re-keyed to its real server id, carrying over any
// FolderTasks that were queued against it before the ack arrived.
func (s *Store) FolderCreated(ctx context.Context, parentFolderID ID, taskID int64, realFolderID int64, name string) error {
	name = normalizeName(name)

	if err := s.deleteFSTask(ctx, taskID); err != nil {
		return fmt.Errorf("overlay: folder created: %w", err)
	}

	s.mu.Lock()
	if ft, ok := s.folders[parentFolderID]; ok {
		if m, ok := ft.Mkdirs[name]; ok && m.TaskID == taskID {
			delete(ft.Mkdirs, name)
			ft.TasksCnt--
			s.dropIfEmptyLocked(parentFolderID, ft)
		}
	}

	placeholder := Pending(taskID)
	if childFT, ok := s.folders[placeholder]; ok {
		delete(s.folders, placeholder)
		childFT.FolderID = Server(realFolderID)
		s.folders[Server(realFolderID)] = childFT
	}
	s.mu.Unlock()

	s.deps.Complete(taskID)

	return nil
}

// FolderDeleted acknowledges a completed RMDIR task.
func (s *Store) FolderDeleted(ctx context.Context, parentFolderID ID, taskID int64, name string) error {
	name = normalizeName(name)

	if err := s.deleteFSTask(ctx, taskID); err != nil {
		return fmt.Errorf("overlay: folder deleted: %w", err)
	}

	s.mu.Lock()
	if ft, ok := s.folders[parentFolderID]; ok {
		if r, ok := ft.Rmdirs[name]; ok && r.TaskID == taskID {
			delete(ft.Rmdirs, name)
			ft.TasksCnt--
			s.dropIfEmptyLocked(parentFolderID, ft)
		}
	}
	s.mu.Unlock()

	s.deps.Complete(taskID)

	return nil
}

// FileCreated acknowledges a completed CREAT task.
func (s *Store) FileCreated(ctx context.Context, folderID ID, taskID int64, name string) error {
	name = normalizeName(name)

	if err := s.deleteFSTask(ctx, taskID); err != nil {
		return fmt.Errorf("overlay: file created: %w", err)
	}

	s.mu.Lock()
	if ft, ok := s.folders[folderID]; ok {
		if c, ok := ft.Creats[name]; ok && c.TaskID == taskID {
			delete(ft.Creats, name)
			ft.TasksCnt--
			s.dropIfEmptyLocked(folderID, ft)
		}
	}
	s.mu.Unlock()

	s.deps.Complete(taskID)

	return nil
}

// FileDeleted acknowledges a completed UNLINK task.
func (s *Store) FileDeleted(ctx context.Context, folderID ID, taskID int64, name string) error {
	name = normalizeName(name)

	if err := s.deleteFSTask(ctx, taskID); err != nil {
		return fmt.Errorf("overlay: file deleted: %w", err)
	}

	s.mu.Lock()
	if ft, ok := s.folders[folderID]; ok {
		if u, ok := ft.Unlinks[name]; ok && u.TaskID == taskID {
			delete(ft.Unlinks, name)
			ft.TasksCnt--
			s.dropIfEmptyLocked(folderID, ft)
		}
	}
	s.mu.Unlock()

	s.deps.Complete(taskID)

	return nil
}

// FileRenamed acknowledges a completed RENFILE_TO task. It removes the
// destination Creat, then looks up the paired RENFILE_FROM row to find the
// source folder and name so the corresponding Unlink can be removed too,
// before deleting both fstask rows.
func (s *Store) FileRenamed(ctx context.Context, toFolderID ID, toTaskID int64, newName string, fromTaskID int64) error {
	newName = normalizeName(newName)

	fromRow, err := s.db.GetFSTaskByID(ctx, fromTaskID)
	if err != nil && err != storage.ErrNotFound {
		return fmt.Errorf("overlay: file renamed: loading from-leg: %w", err)
	}

	if err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if rbErr := storage.DeleteFSTask(ctx, tx, toTaskID); rbErr != nil {
			return rbErr
		}
		if fromRow.ID != 0 {
			if rbErr := storage.DeleteFSTask(ctx, tx, fromTaskID); rbErr != nil {
				return rbErr
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("overlay: file renamed: %w", err)
	}

	s.mu.Lock()
	if ft, ok := s.folders[toFolderID]; ok {
		if c, ok := ft.Creats[newName]; ok && c.TaskID == toTaskID {
			delete(ft.Creats, newName)
			ft.TasksCnt--
			s.dropIfEmptyLocked(toFolderID, ft)
		}
	}

	if fromRow.ID != 0 {
		fromFolderID := Decode(fromRow.FolderID)
		if ft, ok := s.folders[fromFolderID]; ok {
			if u, ok := ft.Unlinks[fromRow.Text1]; ok && u.TaskID == fromTaskID {
				delete(ft.Unlinks, fromRow.Text1)
				ft.TasksCnt--
				s.dropIfEmptyLocked(fromFolderID, ft)
			}
		}
	}
	s.mu.Unlock()

	s.deps.Complete(toTaskID)
	s.deps.Complete(fromTaskID)

	return nil
}

func (s *Store) deleteFSTask(ctx context.Context, taskID int64) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return storage.DeleteFSTask(ctx, tx, taskID)
	})
}
