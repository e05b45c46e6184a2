package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueue_EnqueueNextCompleteIsFIFO(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, err := store.EnqueueTask(ctx, Task{Type: TaskCreateLocalFolder, SyncID: 1, ItemID: 10, Name: "a"})
	require.NoError(t, err)
	id2, err := store.EnqueueTask(ctx, Task{Type: TaskDownloadFile, SyncID: 1, ItemID: 11, Name: "b"})
	require.NoError(t, err)

	first, err := store.NextReadyTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, id1, first.ID)
	assert.False(t, first.InProgress)

	require.NoError(t, store.MarkTaskInProgress(ctx, first.ID))

	second, err := store.NextReadyTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, id2, second.ID)

	require.NoError(t, store.CompleteTask(ctx, first.ID))
	require.NoError(t, store.CompleteTask(ctx, second.ID))

	_, err = store.NextReadyTask(ctx)
	assert.ErrorIs(t, err, ErrNoReadyTask)
}

func TestTaskQueue_MarkInProgressSkipsRowUntilReset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.EnqueueTask(ctx, Task{Type: TaskDownloadFile, SyncID: 1, ItemID: 5, Name: "f"})
	require.NoError(t, err)

	require.NoError(t, store.MarkTaskInProgress(ctx, id))

	_, err = store.NextReadyTask(ctx)
	assert.ErrorIs(t, err, ErrNoReadyTask)

	require.NoError(t, store.ResetTask(ctx, id))

	again, err := store.NextReadyTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again.ID)
}

func TestPurgeDownloadTasksForFile_RemovesOnlyMatchingTypeAndItem(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	downloadID, err := store.EnqueueTask(ctx, Task{Type: TaskDownloadFile, SyncID: 1, ItemID: 42, Name: "f"})
	require.NoError(t, err)
	_, err = store.EnqueueTask(ctx, Task{Type: TaskDeleteLocalFile, SyncID: 1, ItemID: 42, Name: "f"})
	require.NoError(t, err)
	otherID, err := store.EnqueueTask(ctx, Task{Type: TaskDownloadFile, SyncID: 1, ItemID: 99, Name: "g"})
	require.NoError(t, err)

	require.NoError(t, store.PurgeDownloadTasksForFile(ctx, 42))

	remaining := map[int64]bool{}
	for {
		task, err := store.NextReadyTask(ctx)
		if err != nil {
			break
		}
		remaining[task.ID] = true
		require.NoError(t, store.CompleteTask(ctx, task.ID))
	}

	assert.False(t, remaining[downloadID])
	assert.True(t, remaining[otherID])
}

func TestEnqueueTask_PreservesRenameFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.EnqueueTask(ctx, Task{
		Type:        TaskRenameLocalFile,
		SyncID:      1,
		ItemID:      7,
		LocalItemID: 8,
		NewItemID:   20,
		NewSyncID:   1,
		Name:        "renamed.txt",
	})
	require.NoError(t, err)

	task, err := store.NextReadyTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, task.ID)
	assert.Equal(t, int64(20), task.NewItemID)
	assert.Equal(t, "renamed.txt", task.Name)
}
