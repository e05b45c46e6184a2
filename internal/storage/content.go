package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// normalizeName returns the NFC form of name, the form localfile/localfolder
// rows and their UNIQUE(syncid, parent, name) constraint are keyed on.
// macOS reports directory entries NFD-decomposed; normalizing here means a
// name read straight off an NFD filesystem still matches the NFC row a
// server-side rename (or an NFC-origin scan) produced.
func normalizeName(name string) string { return norm.NFC.String(name) }

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("storage: not found")

type contentStatements struct {
	findFileByName     *sql.Stmt
	findFileByContent  *sql.Stmt
	upsertFile         *sql.Stmt
	deleteFile         *sql.Stmt
	findFolderByName   *sql.Stmt
	findFolderByID     *sql.Stmt
	upsertFolder       *sql.Stmt
	deleteFolder       *sql.Stmt
	relocateFolder     *sql.Stmt
	relocateFile       *sql.Stmt
	bumpFolderTaskCnt  *sql.Stmt
	syncedFolderFor    *sql.Stmt
	upsertSyncedFolder *sql.Stmt
}

const (
	sqlFindFileByName = `
		SELECT id, syncid, localparentfolderid, name, fileid, hash, size, inode, mtime, mtimenative, checksum
		FROM localfile
		WHERE syncid = ? AND localparentfolderid = ? AND name = ?`

	sqlFindFileByContent = `
		SELECT id, syncid, localparentfolderid, name, fileid, hash, size, inode, mtime, mtimenative, checksum
		FROM localfile
		WHERE size = ? AND checksum = ?`

	sqlUpsertFile = `
		INSERT INTO localfile (syncid, localparentfolderid, name, fileid, hash, size, inode, mtime, mtimenative, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(syncid, localparentfolderid, name) DO UPDATE SET
			fileid = excluded.fileid,
			hash = excluded.hash,
			size = excluded.size,
			inode = excluded.inode,
			mtime = excluded.mtime,
			mtimenative = excluded.mtimenative,
			checksum = excluded.checksum`

	sqlDeleteFile = `DELETE FROM localfile WHERE id = ?`

	sqlFindFolderByName = `
		SELECT id, syncid, localparentfolderid, name, inode, deviceid, mtime, mtimenative, taskcnt
		FROM localfolder
		WHERE syncid = ? AND localparentfolderid = ? AND name = ?`

	sqlFindFolderByID = `
		SELECT id, syncid, localparentfolderid, name, inode, deviceid, mtime, mtimenative, taskcnt
		FROM localfolder
		WHERE id = ?`

	sqlUpsertFolder = `
		INSERT INTO localfolder (syncid, localparentfolderid, name, inode, deviceid, mtime, mtimenative, taskcnt)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(syncid, localparentfolderid, name) DO UPDATE SET
			inode = excluded.inode,
			deviceid = excluded.deviceid,
			mtime = excluded.mtime,
			mtimenative = excluded.mtimenative
		RETURNING id`

	sqlDeleteFolder = `DELETE FROM localfolder WHERE id = ?`

	sqlRelocateFolder = `
		UPDATE localfolder
		SET syncid = ?, localparentfolderid = ?, name = ?, inode = ?, deviceid = ?, mtime = ?, mtimenative = ?
		WHERE id = ?`

	sqlRelocateFile = `
		UPDATE localfile
		SET syncid = ?, localparentfolderid = ?, name = ?, inode = ?, mtime = ?, mtimenative = ?
		WHERE id = ?`

	sqlChildFolderIDs = `SELECT id FROM localfolder WHERE localparentfolderid = ?`

	sqlDeleteLocalFilesInFolder = `DELETE FROM localfile WHERE localparentfolderid = ?`

	sqlDeleteSyncedFolder = `DELETE FROM syncedfolder WHERE localfolderid = ?`

	sqlBumpFolderTaskCnt = `UPDATE localfolder SET taskcnt = taskcnt + ? WHERE id = ?`

	sqlSyncedFolderFor = `
		SELECT syncid, localfolderid, folderid FROM syncedfolder
		WHERE syncid = ? AND localfolderid = ?`

	sqlUpsertSyncedFolder = `
		INSERT INTO syncedfolder (syncid, localfolderid, folderid)
		VALUES (?, ?, ?)
		ON CONFLICT(syncid, localfolderid) DO UPDATE SET folderid = excluded.folderid`
)

func (s *Store) prepareContentStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.contentStmts.findFileByName, sqlFindFileByName, "findFileByName"},
		{&s.contentStmts.findFileByContent, sqlFindFileByContent, "findFileByContent"},
		{&s.contentStmts.upsertFile, sqlUpsertFile, "upsertFile"},
		{&s.contentStmts.deleteFile, sqlDeleteFile, "deleteFile"},
		{&s.contentStmts.findFolderByName, sqlFindFolderByName, "findFolderByName"},
		{&s.contentStmts.findFolderByID, sqlFindFolderByID, "findFolderByID"},
		{&s.contentStmts.upsertFolder, sqlUpsertFolder, "upsertFolder"},
		{&s.contentStmts.deleteFolder, sqlDeleteFolder, "deleteFolder"},
		{&s.contentStmts.relocateFolder, sqlRelocateFolder, "relocateFolder"},
		{&s.contentStmts.relocateFile, sqlRelocateFile, "relocateFile"},
		{&s.contentStmts.bumpFolderTaskCnt, sqlBumpFolderTaskCnt, "bumpFolderTaskCnt"},
		{&s.contentStmts.syncedFolderFor, sqlSyncedFolderFor, "syncedFolderFor"},
		{&s.contentStmts.upsertSyncedFolder, sqlUpsertSyncedFolder, "upsertSyncedFolder"},
	})
}

func scanFile(row interface{ Scan(...any) error }) (LocalFile, error) {
	var f LocalFile
	err := row.Scan(&f.ID, &f.SyncID, &f.LocalParentFolderID, &f.Name, &f.FileID, &f.Hash, &f.Size,
		&f.Inode, &f.Mtime, &f.MtimeNative, &f.Checksum)
	return f, err
}

// FindFileByName looks up a local file by its path identity — the query the
// download worker's identity short-circuit and its file delete/rename
// handlers use.
func (s *Store) FindFileByName(ctx context.Context, syncID, parentFolderID int64, name string) (LocalFile, error) {
	row := s.contentStmts.findFileByName.QueryRowContext(ctx, syncID, parentFolderID, normalizeName(name))
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return LocalFile{}, ErrNotFound
	}
	if err != nil {
		return LocalFile{}, fmt.Errorf("storage: find file by name: %w", err)
	}

	return f, nil
}

// FindFilesByContent returns every local file sharing a (size, checksum)
// key, across every sync root — the dedup candidate set.
func (s *Store) FindFilesByContent(ctx context.Context, size int64, checksum string) ([]LocalFile, error) {
	rows, err := s.contentStmts.findFileByContent.QueryContext(ctx, size, checksum)
	if err != nil {
		return nil, fmt.Errorf("storage: find files by content: %w", err)
	}
	defer rows.Close()

	var out []LocalFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan local file: %w", err)
		}
		out = append(out, f)
	}

	return out, rows.Err()
}

// UpsertFile records a downloaded or rediscovered file, keyed by
// (syncid, localparentfolderid, name).
func (s *Store) UpsertFile(ctx context.Context, f LocalFile) error {
	_, err := s.contentStmts.upsertFile.ExecContext(ctx, f.SyncID, f.LocalParentFolderID, normalizeName(f.Name),
		f.FileID, f.Hash, f.Size, f.Inode, f.Mtime, f.MtimeNative, f.Checksum)
	if err != nil {
		return fmt.Errorf("storage: upsert local file: %w", err)
	}

	return nil
}

// DeleteFile removes a local file row by id, used after a successful
// on-disk delete.
func (s *Store) DeleteFile(ctx context.Context, id int64) error {
	if _, err := s.contentStmts.deleteFile.ExecContext(ctx, id); err != nil {
		return fmt.Errorf("storage: delete local file: %w", err)
	}

	return nil
}

// FindFolderByName looks up a local folder by its path identity.
func (s *Store) FindFolderByName(ctx context.Context, syncID, parentFolderID int64, name string) (LocalFolder, error) {
	row := s.contentStmts.findFolderByName.QueryRowContext(ctx, syncID, parentFolderID, normalizeName(name))

	var fo LocalFolder
	err := row.Scan(&fo.ID, &fo.SyncID, &fo.LocalParentFolderID, &fo.Name, &fo.Inode, &fo.DeviceID,
		&fo.Mtime, &fo.MtimeNative, &fo.TaskCnt)
	if errors.Is(err, sql.ErrNoRows) {
		return LocalFolder{}, ErrNotFound
	}
	if err != nil {
		return LocalFolder{}, fmt.Errorf("storage: find folder by name: %w", err)
	}

	return fo, nil
}

// FindFolderByID loads a localfolder row by its primary key, used to walk
// the parent chain up to a sync root when resolving a filesystem path.
func (s *Store) FindFolderByID(ctx context.Context, syncID, id int64) (LocalFolder, error) {
	row := s.contentStmts.findFolderByID.QueryRowContext(ctx, id)

	var fo LocalFolder
	err := row.Scan(&fo.ID, &fo.SyncID, &fo.LocalParentFolderID, &fo.Name, &fo.Inode, &fo.DeviceID,
		&fo.Mtime, &fo.MtimeNative, &fo.TaskCnt)
	if errors.Is(err, sql.ErrNoRows) {
		return LocalFolder{}, ErrNotFound
	}
	if err != nil {
		return LocalFolder{}, fmt.Errorf("storage: find folder by id: %w", err)
	}
	if fo.SyncID != syncID {
		return LocalFolder{}, ErrNotFound
	}

	return fo, nil
}

// UpsertFolder records a folder's identity and stat metadata, returning its
// local id. Called after a successful mkdir to resync
// inode/deviceid/mtime from a fresh stat so the local-scan subsystem doesn't
// rediscover the engine's own write as a foreign change.
func (s *Store) UpsertFolder(ctx context.Context, fo LocalFolder) (int64, error) {
	row := s.contentStmts.upsertFolder.QueryRowContext(ctx, fo.SyncID, fo.LocalParentFolderID, normalizeName(fo.Name),
		fo.Inode, fo.DeviceID, fo.Mtime, fo.MtimeNative)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("storage: upsert local folder: %w", err)
	}

	return id, nil
}

// DeleteFolder removes a local folder row by id.
func (s *Store) DeleteFolder(ctx context.Context, id int64) error {
	if _, err := s.contentStmts.deleteFolder.ExecContext(ctx, id); err != nil {
		return fmt.Errorf("storage: delete local folder: %w", err)
	}

	return nil
}

// RelocateFolder updates an existing local folder row in place after a
// successful renamedir: its id is preserved (children and localfile rows
// keep referencing it), only the parent/syncid/name/stat identity changes.
func (s *Store) RelocateFolder(ctx context.Context, id int64, fo LocalFolder) error {
	_, err := s.contentStmts.relocateFolder.ExecContext(ctx, fo.SyncID, fo.LocalParentFolderID, normalizeName(fo.Name),
		fo.Inode, fo.DeviceID, fo.Mtime, fo.MtimeNative, id)
	if err != nil {
		return fmt.Errorf("storage: relocate local folder: %w", err)
	}

	return nil
}

// RelocateFile updates an existing local file row in place after a
// successful file rename.
func (s *Store) RelocateFile(ctx context.Context, id int64, f LocalFile) error {
	_, err := s.contentStmts.relocateFile.ExecContext(ctx, f.SyncID, f.LocalParentFolderID, normalizeName(f.Name),
		f.Inode, f.Mtime, f.MtimeNative, id)
	if err != nil {
		return fmt.Errorf("storage: relocate local file: %w", err)
	}

	return nil
}

// DeleteFolderRecursive removes rootFolderID and its entire subtree:
// every localfile row under any folder in the subtree, every localfolder
// row in the subtree, and the syncedfolder pairing for each. Runs in a
// single transaction so a crash mid-cascade never leaves an orphaned
// localfile row pointing at a deleted folder.
func (s *Store) DeleteFolderRecursive(ctx context.Context, rootFolderID int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		folderIDs := []int64{rootFolderID}

		for i := 0; i < len(folderIDs); i++ {
			rows, err := tx.QueryContext(ctx, sqlChildFolderIDs, folderIDs[i])
			if err != nil {
				return fmt.Errorf("storage: rmdir recursive: listing children of %d: %w", folderIDs[i], err)
			}

			var children []int64
			for rows.Next() {
				var childID int64
				if err := rows.Scan(&childID); err != nil {
					rows.Close()
					return err
				}
				children = append(children, childID)
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return err
			}
			rows.Close()

			folderIDs = append(folderIDs, children...)
		}

		for _, id := range folderIDs {
			if _, err := tx.ExecContext(ctx, sqlDeleteLocalFilesInFolder, id); err != nil {
				return fmt.Errorf("storage: rmdir recursive: deleting files in %d: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx, sqlDeleteSyncedFolder, id); err != nil {
				return fmt.Errorf("storage: rmdir recursive: deleting synced folder %d: %w", id, err)
			}
		}

		// Delete leaf-first (reverse discovery order) so no row ever
		// references an already-deleted parent mid-transaction.
		for i := len(folderIDs) - 1; i >= 0; i-- {
			if _, err := tx.ExecContext(ctx, sqlDeleteFolder, folderIDs[i]); err != nil {
				return fmt.Errorf("storage: rmdir recursive: deleting folder %d: %w", folderIDs[i], err)
			}
		}

		return nil
	})
}

// BumpFolderTaskCnt adjusts a folder's pending-task counter by delta
// (positive on enqueue, negative on completion).
func (s *Store) BumpFolderTaskCnt(ctx context.Context, folderID int64, delta int) error {
	if _, err := s.contentStmts.bumpFolderTaskCnt.ExecContext(ctx, delta, folderID); err != nil {
		return fmt.Errorf("storage: bump folder taskcnt: %w", err)
	}

	return nil
}

// SyncedFolderFor returns the remote folderid paired with a local folder
// under a sync root.
func (s *Store) SyncedFolderFor(ctx context.Context, syncID, localFolderID int64) (SyncedFolder, error) {
	row := s.contentStmts.syncedFolderFor.QueryRowContext(ctx, syncID, localFolderID)

	var sf SyncedFolder
	err := row.Scan(&sf.SyncID, &sf.LocalFolderID, &sf.FolderID)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncedFolder{}, ErrNotFound
	}
	if err != nil {
		return SyncedFolder{}, fmt.Errorf("storage: synced folder lookup: %w", err)
	}

	return sf, nil
}

// UpsertSyncedFolder records or updates the local/remote folder pairing.
func (s *Store) UpsertSyncedFolder(ctx context.Context, sf SyncedFolder) error {
	_, err := s.contentStmts.upsertSyncedFolder.ExecContext(ctx, sf.SyncID, sf.LocalFolderID, sf.FolderID)
	if err != nil {
		return fmt.Errorf("storage: upsert synced folder: %w", err)
	}

	return nil
}
