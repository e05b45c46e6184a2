// Package pathresolve implements the Local-path Resolver (C2): it maps
// (syncid, localfolderid) and (syncid, localfolderid, name) coordinates to
// concrete filesystem paths under a sync root. It does not resolve a
// localfileid on its own, and it does not translate server ids to local ids.
package pathresolve

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/tonimelisma/syncengine/internal/config"
	"github.com/tonimelisma/syncengine/internal/storage"
)

// ErrUnknownSyncRoot is returned when a syncid has no configured local path.
var ErrUnknownSyncRoot = errors.New("pathresolve: unknown sync root")

// Resolver maps the engine's (syncid, localfolderid, name) coordinates onto
// real filesystem paths, walking the localfolder table up to the sync
// root's local path.
type Resolver struct {
	db    *storage.Store
	roots map[int64]string // syncid -> local root path
}

// New constructs a Resolver from the configured sync roots. syncIDs keys
// the roots map; the caller (the component wiring sync roots to syncids,
// outside this package) owns that assignment.
func New(db *storage.Store, roots map[int64]config.SyncRootConfig) *Resolver {
	r := &Resolver{db: db, roots: make(map[int64]string, len(roots))}
	for syncID, root := range roots {
		r.roots[syncID] = filepath.Clean(root.LocalPath)
	}

	return r
}

// FolderPath resolves a local folder id to its absolute filesystem path by
// walking LocalParentFolderID links up to the sync root. localFolderID==0
// denotes the sync root itself.
func (r *Resolver) FolderPath(ctx context.Context, syncID, localFolderID int64) (string, error) {
	root, ok := r.roots[syncID]
	if !ok {
		return "", fmt.Errorf("%w: syncid %d", ErrUnknownSyncRoot, syncID)
	}

	if localFolderID == 0 {
		return root, nil
	}

	var segments []string
	id := localFolderID
	for id != 0 {
		fo, err := r.folderByID(ctx, syncID, id)
		if err != nil {
			return "", fmt.Errorf("pathresolve: resolving folder %d: %w", id, err)
		}

		segments = append(segments, fo.Name)
		id = fo.LocalParentFolderID
	}

	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, root)
	for i := len(segments) - 1; i >= 0; i-- {
		parts = append(parts, segments[i])
	}

	return filepath.Join(parts...), nil
}

// FilePath resolves a file's full path given the folder it lives in and
// its name.
func (r *Resolver) FilePath(ctx context.Context, syncID, localFolderID int64, name string) (string, error) {
	dir, err := r.FolderPath(ctx, syncID, localFolderID)
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, name), nil
}

// folderByID loads a localfolder row by its primary key, scoped to syncID.
func (r *Resolver) folderByID(ctx context.Context, syncID, id int64) (storage.LocalFolder, error) {
	return r.db.FindFolderByID(ctx, syncID, id)
}
