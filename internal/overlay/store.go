package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"

	"github.com/tonimelisma/syncengine/internal/storage"
)

// ErrExists is returned when an overlay operation would duplicate an
// already-pending or already-server-known entry.
var ErrExists = errors.New("overlay: already exists")

// ErrNotFound is returned when an overlay operation targets an entry that
// is neither pending locally nor known to the server.
var ErrNotFound = errors.New("overlay: not found")

// ServerView answers "does the server already know about this name"
// questions. It is the overlay store's only external collaborator —
// resolving real paths and ids is the Local-path Resolver's and Content
// Store Index's job, not this package's.
type ServerView interface {
	FolderExists(ctx context.Context, parentFolderID int64, name string) (bool, error)
}

// Store is the filesystem-overlay task store (C8): per-folder,
// reference-counted in-memory trees of pending mutations, backed by the
// persistent fstask/fstaskdepend tables and notified of server acks by the
// Bridge (C9) methods in ack.go.
type Store struct {
	db     *storage.Store
	view   ServerView
	logger *slog.Logger

	mu      stdsync.Mutex
	folders map[ID]*FolderTasks

	deps *depGraph
}

// depGraphBuffer bounds the fast-path ready channel; a full channel only
// delays a wakeup to the next ListReadyFSTasks poll, so this can stay
// modest without risking a stuck dispatch.
const depGraphBuffer = 4096

// New constructs a Store and replays every persisted fstask row into the
// in-memory trees, so a restart after a crash reconstructs the pre-crash
// state exactly (see the replay invariant in the design notes).
func New(ctx context.Context, db *storage.Store, view ServerView, logger *slog.Logger) (*Store, error) {
	s := &Store{
		db:      db,
		view:    view,
		logger:  logger,
		folders: make(map[ID]*FolderTasks),
		deps:    newDepGraph(depGraphBuffer),
	}

	if err := s.replay(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// replay reconstructs the in-memory trees and dependency graph from the
// persisted fstask table, processed in ascending id order — the same order
// the entries were originally created in, so dependency edges register
// against nodes that already exist.
func (s *Store) replay(ctx context.Context) error {
	rows, err := s.db.ListAllFSTasksByID(ctx)
	if err != nil {
		return fmt.Errorf("overlay: replay: %w", err)
	}

	for _, row := range rows {
		if err := s.replayOne(ctx, row); err != nil {
			return fmt.Errorf("overlay: replay fstask %d: %w", row.ID, err)
		}
	}

	s.logger.Info("overlay replay complete", slog.Int("fstask_count", len(rows)))

	return nil
}

func (s *Store) replayOne(ctx context.Context, row storage.FSTask) error {
	folderID := Decode(row.FolderID)
	ft := s.getOrCreateLocked(folderID)

	switch row.Type {
	case storage.FSTaskMkdir:
		ft.Mkdirs[row.Text1] = &Mkdir{TaskID: row.ID, FolderID: Pending(row.ID), Name: row.Text1}
		ft.TasksCnt++
	case storage.FSTaskRmdir:
		ft.Rmdirs[row.Text1] = &Rmdir{TaskID: row.ID, FolderID: Decode(row.FileID), Name: row.Text1}
		ft.TasksCnt++
	case storage.FSTaskCreat:
		ft.Creats[row.Text1] = &Creat{TaskID: row.ID, FileID: Decode(row.FileID), NewFile: row.Status == storage.FSTaskStatusOpen || row.Status == storage.FSTaskStatusReady, Name: row.Text1}
		ft.TasksCnt++
	case storage.FSTaskUnlink:
		ft.Unlinks[row.Text1] = &Unlink{TaskID: row.ID, FileID: Decode(row.FileID), Name: row.Text1}
		ft.TasksCnt++
	case storage.FSTaskRenameFileFrom:
		ft.Unlinks[row.Text1] = &Unlink{TaskID: row.ID, FileID: Decode(row.FileID), Name: row.Text1}
		ft.TasksCnt++
	case storage.FSTaskRenameFileTo:
		ft.Creats[row.Text1] = &Creat{TaskID: row.ID, FileID: Decode(row.FileID), NewFile: false, Name: row.Text1}
		ft.TasksCnt++
	default:
		return fmt.Errorf("unknown fstask type %d", row.Type)
	}

	depends, err := s.db.ListFSTaskDependencies(ctx, row.ID)
	if err != nil {
		return fmt.Errorf("overlay: load dependencies: %w", err)
	}
	s.deps.Add(row.ID, depends)

	return nil
}

// getOrCreateLocked returns the FolderTasks for folderID, creating an empty
// one if absent. Callers must hold s.mu.
func (s *Store) getOrCreateLocked(folderID ID) *FolderTasks {
	ft, ok := s.folders[folderID]
	if !ok {
		ft = newFolderTasks(folderID)
		s.folders[folderID] = ft
	}

	return ft
}

// GetOrCreate returns a handle to folderID's pending-mutation set,
// incrementing its reference count. Callers must call Release when done.
func (s *Store) GetOrCreate(folderID ID) *FolderTasks {
	s.mu.Lock()
	defer s.mu.Unlock()

	ft := s.getOrCreateLocked(folderID)
	ft.Refcnt++

	return ft
}

// Get returns the FolderTasks for folderID without creating one or
// affecting its reference count.
func (s *Store) Get(folderID ID) (*FolderTasks, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ft, ok := s.folders[folderID]
	return ft, ok
}

// Release decrements folderID's reference count, dropping the FolderTasks
// once both Refcnt and TasksCnt reach zero (invariant I1).
func (s *Store) Release(folderID ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ft, ok := s.folders[folderID]
	if !ok {
		return
	}

	ft.Refcnt--
	s.dropIfEmptyLocked(folderID, ft)
}

func (s *Store) dropIfEmptyLocked(folderID ID, ft *FolderTasks) {
	if ft.Refcnt <= 0 && ft.TasksCnt == 0 && ft.empty() {
		delete(s.folders, folderID)
	}
}

// Ready returns the channel of fstask ids whose dependency edges have
// cleared — the set the upload worker may pick from without waiting for
// the next ListReadyFSTasks poll.
func (s *Store) Ready() <-chan int64 {
	return s.deps.Ready()
}
