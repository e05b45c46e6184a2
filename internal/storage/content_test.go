package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertFolder_FindByNameAndByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.UpsertFolder(ctx, LocalFolder{
		SyncID: 1, LocalParentFolderID: 0, Name: "Documents", Inode: 100, DeviceID: 1, Mtime: 1000,
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	byName, err := store.FindFolderByName(ctx, 1, 0, "Documents")
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID)

	byID, err := store.FindFolderByID(ctx, 1, id)
	require.NoError(t, err)
	assert.Equal(t, "Documents", byID.Name)

	_, err = store.FindFolderByID(ctx, 2, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertFolder_ConflictUpdatesStatMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, err := store.UpsertFolder(ctx, LocalFolder{SyncID: 1, Name: "Photos", Inode: 1, Mtime: 100})
	require.NoError(t, err)

	id2, err := store.UpsertFolder(ctx, LocalFolder{SyncID: 1, Name: "Photos", Inode: 2, Mtime: 200})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	fo, err := store.FindFolderByName(ctx, 1, 0, "Photos")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), fo.Inode)
	assert.Equal(t, int64(200), fo.Mtime)
}

func TestDeleteFolder_RemovesRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.UpsertFolder(ctx, LocalFolder{SyncID: 1, Name: "Temp"})
	require.NoError(t, err)

	require.NoError(t, store.DeleteFolder(ctx, id))

	_, err = store.FindFolderByName(ctx, 1, 0, "Temp")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertFile_FindByNameAndByContent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	f := LocalFile{
		SyncID: 1, LocalParentFolderID: 0, Name: "report.pdf", FileID: 500,
		Size: 2048, Checksum: "abc123", Inode: 7, Mtime: 1,
	}
	require.NoError(t, store.UpsertFile(ctx, f))

	byName, err := store.FindFileByName(ctx, 1, 0, "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(500), byName.FileID)

	byContent, err := store.FindFilesByContent(ctx, 2048, "abc123")
	require.NoError(t, err)
	require.Len(t, byContent, 1)
	assert.Equal(t, "report.pdf", byContent[0].Name)
}

func TestFindFilesByContent_MatchesAcrossSyncRoots(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertFile(ctx, LocalFile{
		SyncID: 1, Name: "a.bin", FileID: 1, Size: 10, Checksum: "same",
	}))
	require.NoError(t, store.UpsertFile(ctx, LocalFile{
		SyncID: 2, Name: "b.bin", FileID: 2, Size: 10, Checksum: "same",
	}))

	matches, err := store.FindFilesByContent(ctx, 10, "same")
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestBumpFolderTaskCnt_AdjustsCounterBothWays(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.UpsertFolder(ctx, LocalFolder{SyncID: 1, Name: "Root"})
	require.NoError(t, err)

	require.NoError(t, store.BumpFolderTaskCnt(ctx, id, 3))
	require.NoError(t, store.BumpFolderTaskCnt(ctx, id, -1))

	fo, err := store.FindFolderByID(ctx, 1, id)
	require.NoError(t, err)
	assert.Equal(t, 2, fo.TaskCnt)
}

func TestSyncedFolder_UpsertAndLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertSyncedFolder(ctx, SyncedFolder{SyncID: 1, LocalFolderID: 0, FolderID: 999}))

	sf, err := store.SyncedFolderFor(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(999), sf.FolderID)

	require.NoError(t, store.UpsertSyncedFolder(ctx, SyncedFolder{SyncID: 1, LocalFolderID: 0, FolderID: 1000}))
	sf, err = store.SyncedFolderFor(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), sf.FolderID)
}

func TestSyncedFolderFor_NotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.SyncedFolderFor(ctx, 1, 123)
	assert.ErrorIs(t, err, ErrNotFound)
}
