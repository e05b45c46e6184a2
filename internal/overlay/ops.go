package overlay

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tonimelisma/syncengine/internal/storage"
)

// Mkdir records a pending local directory creation under parentFolderID.
// It fails with ErrExists if an overlay mkdir for name is already pending,
// or if the server already has a folder named name that no overlay rmdir
// shadows. On success it returns the new folder's Pending ID, under which
// further mutations (a file created inside it, say) can be queued before
// the server acknowledges the creation.
func (s *Store) Mkdir(ctx context.Context, parentFolderID ID, name string) (ID, error) {
	name = normalizeName(name)

	s.mu.Lock()
	ft := s.getOrCreateLocked(parentFolderID)
	if _, ok := ft.Mkdirs[name]; ok {
		s.mu.Unlock()
		return ID{}, ErrExists
	}
	_, shadowed := ft.Rmdirs[name]
	s.mu.Unlock()

	if !shadowed && !parentFolderID.IsPending() {
		exists, err := s.view.FolderExists(ctx, parentFolderID.Value(), name)
		if err != nil {
			return ID{}, fmt.Errorf("overlay: mkdir: checking server state: %w", err)
		}
		if exists {
			return ID{}, ErrExists
		}
	}

	var taskID int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		id, err := storage.InsertFSTask(ctx, tx, storage.FSTask{
			Type:     storage.FSTaskMkdir,
			Status:   storage.FSTaskStatusReady,
			FolderID: Encode(parentFolderID),
			Text1:    name,
		})
		if err != nil {
			return err
		}
		taskID = id

		if parentFolderID.IsPending() {
			return storage.InsertFSTaskDepend(ctx, tx, taskID, parentFolderID.Value())
		}
		return nil
	})
	if err != nil {
		return ID{}, fmt.Errorf("overlay: mkdir: %w", err)
	}

	childID := Pending(taskID)

	s.mu.Lock()
	ft.Mkdirs[name] = &Mkdir{TaskID: taskID, FolderID: childID, Name: name}
	ft.TasksCnt++
	s.mu.Unlock()

	var deps []int64
	if parentFolderID.IsPending() {
		deps = []int64{parentFolderID.Value()}
	}
	s.deps.Add(taskID, deps)

	return childID, nil
}

// Rmdir records a pending local directory deletion. childFolderID is the
// target folder's own id, resolved by the caller (the Local-path Resolver /
// Content Store Index, not this package). If a pending Mkdir for name
// exists it is rolled back in memory and its fstask row deleted outright —
// no RMDIR row is ever persisted for a folder the server never saw.
// Otherwise childFolderID must be server-known or Rmdir fails with
// ErrNotFound.
func (s *Store) Rmdir(ctx context.Context, parentFolderID, childFolderID ID, name string) error {
	name = normalizeName(name)

	s.mu.Lock()
	ft := s.getOrCreateLocked(parentFolderID)
	mkdir, hasPendingMkdir := ft.Mkdirs[name]
	_, alreadyShadowed := ft.Rmdirs[name]
	s.mu.Unlock()

	if alreadyShadowed {
		return ErrNotFound
	}

	if hasPendingMkdir {
		if err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
			return storage.DeleteFSTask(ctx, tx, mkdir.TaskID)
		}); err != nil {
			return fmt.Errorf("overlay: rmdir: cancelling pending mkdir: %w", err)
		}

		s.mu.Lock()
		delete(ft.Mkdirs, name)
		ft.TasksCnt--
		s.dropIfEmptyLocked(parentFolderID, ft)
		s.mu.Unlock()

		s.deps.Complete(mkdir.TaskID)

		return nil
	}

	if !childFolderID.IsPending() {
		exists, err := s.view.FolderExists(ctx, parentFolderID.Value(), name)
		if err != nil {
			return fmt.Errorf("overlay: rmdir: checking server state: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
	}

	childRows, err := s.db.ListFSTasksByFolder(ctx, childFolderID.Value())
	if err != nil {
		return fmt.Errorf("overlay: rmdir: listing child tasks: %w", err)
	}

	var taskID int64
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		id, err := storage.InsertFSTask(ctx, tx, storage.FSTask{
			Type:     storage.FSTaskRmdir,
			Status:   storage.FSTaskStatusReady,
			FolderID: Encode(parentFolderID),
			FileID:   Encode(childFolderID),
			Text1:    name,
		})
		if err != nil {
			return err
		}
		taskID = id

		for _, child := range childRows {
			if err := storage.InsertFSTaskDepend(ctx, tx, taskID, child.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("overlay: rmdir: %w", err)
	}

	s.mu.Lock()
	ft.Rmdirs[name] = &Rmdir{TaskID: taskID, FolderID: childFolderID, Name: name}
	ft.TasksCnt++
	s.mu.Unlock()

	deps := make([]int64, len(childRows))
	for i, c := range childRows {
		deps[i] = c.ID
	}
	s.deps.Add(taskID, deps)

	return nil
}

// AddCreat opens a pending local file creation. The returned Creat's fstask
// row is persisted with status=open, so the upload worker will not pick it
// up until the writer finishes the body and calls PromoteCreat.
func (s *Store) AddCreat(ctx context.Context, folderID ID, name string) (*Creat, error) {
	name = normalizeName(name)

	s.mu.Lock()
	ft := s.getOrCreateLocked(folderID)
	if _, ok := ft.Creats[name]; ok {
		s.mu.Unlock()
		return nil, ErrExists
	}
	s.mu.Unlock()

	var taskID int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		id, err := storage.InsertFSTask(ctx, tx, storage.FSTask{
			Type:     storage.FSTaskCreat,
			Status:   storage.FSTaskStatusOpen,
			FolderID: Encode(folderID),
			Text1:    name,
		})
		taskID = id
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("overlay: add creat: %w", err)
	}

	c := &Creat{TaskID: taskID, FileID: Pending(taskID), NewFile: true, Name: name}

	s.mu.Lock()
	ft.Creats[name] = c
	ft.TasksCnt++
	s.mu.Unlock()

	return c, nil
}

// PromoteCreat transitions a Creat's fstask row from open to ready, once
// its body has been written locally, making it eligible for upload.
func (s *Store) PromoteCreat(ctx context.Context, folderID ID, name string) error {
	name = normalizeName(name)

	s.mu.Lock()
	ft, ok := s.folders[folderID]
	var c *Creat
	if ok {
		c, ok = ft.Creats[name]
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}

	if err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return storage.SetFSTaskStatus(ctx, tx, c.TaskID, storage.FSTaskStatusReady)
	}); err != nil {
		return fmt.Errorf("overlay: promote creat: %w", err)
	}

	s.deps.Add(c.TaskID, nil)

	return nil
}

// Unlink records a pending local file deletion. If a pending (not yet
// uploaded) Creat for name exists it is cancelled in memory and its fstask
// row deleted outright, symmetric to Rmdir's treatment of a pending Mkdir.
func (s *Store) Unlink(ctx context.Context, folderID, fileID ID, name string) error {
	name = normalizeName(name)

	s.mu.Lock()
	ft := s.getOrCreateLocked(folderID)
	creat, hasPendingCreat := ft.Creats[name]
	_, alreadyShadowed := ft.Unlinks[name]
	s.mu.Unlock()

	if alreadyShadowed {
		return ErrNotFound
	}

	if hasPendingCreat {
		if err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
			return storage.DeleteFSTask(ctx, tx, creat.TaskID)
		}); err != nil {
			return fmt.Errorf("overlay: unlink: cancelling pending creat: %w", err)
		}

		s.mu.Lock()
		delete(ft.Creats, name)
		ft.TasksCnt--
		s.dropIfEmptyLocked(folderID, ft)
		s.mu.Unlock()

		s.deps.Complete(creat.TaskID)

		return nil
	}

	var taskID int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		id, err := storage.InsertFSTask(ctx, tx, storage.FSTask{
			Type:     storage.FSTaskUnlink,
			Status:   storage.FSTaskStatusReady,
			FolderID: Encode(folderID),
			FileID:   Encode(fileID),
			Text1:    name,
		})
		taskID = id
		return err
	})
	if err != nil {
		return fmt.Errorf("overlay: unlink: %w", err)
	}

	s.mu.Lock()
	ft.Unlinks[name] = &Unlink{TaskID: taskID, FileID: fileID, Name: name}
	ft.TasksCnt++
	s.mu.Unlock()

	s.deps.Add(taskID, nil)

	return nil
}

// RenameFile records a pending file rename as a bound pair of fstask rows:
// a RENFILE_FROM leg (status bound, never itself picked up by the upload
// worker) and a RENFILE_TO leg that depends on it and on anything else the
// move can't race ahead of.
func (s *Store) RenameFile(ctx context.Context, fileID, fromFolderID ID, name string, toFolderID ID, newName string) error {
	name = normalizeName(name)
	newName = normalizeName(newName)

	existingAtDest, err := s.db.ListFSTasksByFolder(ctx, toFolderID.Value())
	if err != nil {
		return fmt.Errorf("overlay: rename: listing destination tasks: %w", err)
	}

	var destDeps []int64
	for _, t := range existingAtDest {
		if compareNames(t.Text1, newName) == 0 {
			destDeps = append(destDeps, t.ID)
		}
	}

	var fromTaskID, toTaskID int64
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		fromTaskID, err = storage.InsertFSTask(ctx, tx, storage.FSTask{
			Type:     storage.FSTaskRenameFileFrom,
			Status:   storage.FSTaskStatusRenameFromBound,
			FolderID: Encode(fromFolderID),
			FileID:   Encode(fileID),
			Text1:    name,
		})
		if err != nil {
			return err
		}

		toTaskID, err = storage.InsertFSTask(ctx, tx, storage.FSTask{
			Type:     storage.FSTaskRenameFileTo,
			Status:   storage.FSTaskStatusReady,
			FolderID: Encode(toFolderID),
			FileID:   Encode(fileID),
			Text1:    newName,
			Text2:    name,
		})
		if err != nil {
			return err
		}

		if err := storage.InsertFSTaskDepend(ctx, tx, toTaskID, fromTaskID); err != nil {
			return err
		}

		if fileID.IsPending() {
			if err := storage.InsertFSTaskDepend(ctx, tx, toTaskID, fileID.Value()); err != nil {
				return err
			}
		}
		if fromFolderID.IsPending() {
			if err := storage.InsertFSTaskDepend(ctx, tx, toTaskID, fromFolderID.Value()); err != nil {
				return err
			}
		}
		if toFolderID.IsPending() {
			if err := storage.InsertFSTaskDepend(ctx, tx, toTaskID, toFolderID.Value()); err != nil {
				return err
			}
		}
		for _, depID := range destDeps {
			if err := storage.InsertFSTaskDepend(ctx, tx, toTaskID, depID); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("overlay: rename: %w", err)
	}

	s.mu.Lock()
	fromFT := s.getOrCreateLocked(fromFolderID)
	delete(fromFT.Creats, name)
	fromFT.Unlinks[name] = &Unlink{TaskID: fromTaskID, FileID: fileID, Name: name}
	fromFT.TasksCnt++

	toFT := s.getOrCreateLocked(toFolderID)
	toFT.Creats[newName] = &Creat{TaskID: toTaskID, FileID: fileID, NewFile: false, Name: newName}
	toFT.TasksCnt++
	s.mu.Unlock()

	deps := []int64{fromTaskID}
	if fileID.IsPending() {
		deps = append(deps, fileID.Value())
	}
	if fromFolderID.IsPending() {
		deps = append(deps, fromFolderID.Value())
	}
	if toFolderID.IsPending() {
		deps = append(deps, toFolderID.Value())
	}
	deps = append(deps, destDeps...)

	s.deps.Add(fromTaskID, nil)
	s.deps.Add(toTaskID, deps)

	return nil
}
