package storage

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSTask_InsertAndListReady(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var mkdirID, rmdirID int64
	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		mkdirID, err = InsertFSTask(ctx, tx, FSTask{Type: FSTaskMkdir, Status: FSTaskStatusReady, FolderID: 1, Text1: "Sub"})
		if err != nil {
			return err
		}
		rmdirID, err = InsertFSTask(ctx, tx, FSTask{Type: FSTaskRmdir, Status: FSTaskStatusReady, FolderID: 1, Text1: "Old"})
		return err
	}))

	ready, err := store.ListReadyFSTasks(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, mkdirID, ready[0].ID)
	assert.Equal(t, rmdirID, ready[1].ID)
}

func TestFSTask_DependencyBlocksReadiness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var parentID, childID int64
	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		parentID, err = InsertFSTask(ctx, tx, FSTask{Type: FSTaskMkdir, Status: FSTaskStatusReady, FolderID: 0, Text1: "Parent"})
		if err != nil {
			return err
		}
		childID, err = InsertFSTask(ctx, tx, FSTask{Type: FSTaskMkdir, Status: FSTaskStatusReady, FolderID: 0, Text1: "Child"})
		if err != nil {
			return err
		}
		return InsertFSTaskDepend(ctx, tx, childID, parentID)
	}))

	ready, err := store.ListReadyFSTasks(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, parentID, ready[0].ID)

	deps, err := store.ListFSTaskDependencies(ctx, childID)
	require.NoError(t, err)
	assert.Equal(t, []int64{parentID}, deps)

	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		return DeleteFSTask(ctx, tx, parentID)
	}))

	ready, err = store.ListReadyFSTasks(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, childID, ready[0].ID)
}

func TestDeleteFSTask_CascadesDependEdges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var aID, bID int64
	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		aID, err = InsertFSTask(ctx, tx, FSTask{Type: FSTaskCreat, Status: FSTaskStatusOpen, FolderID: 0, Text1: "a"})
		if err != nil {
			return err
		}
		bID, err = InsertFSTask(ctx, tx, FSTask{Type: FSTaskCreat, Status: FSTaskStatusOpen, FolderID: 0, Text1: "b"})
		if err != nil {
			return err
		}
		return InsertFSTaskDepend(ctx, tx, bID, aID)
	}))

	count, err := store.FSTaskDependCount(ctx, bID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		return DeleteFSTask(ctx, tx, aID)
	}))

	count, err = store.FSTaskDependCount(ctx, bID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSetFSTaskStatus_TransitionsOpenToReady(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var id int64
	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = InsertFSTask(ctx, tx, FSTask{Type: FSTaskCreat, Status: FSTaskStatusOpen, FolderID: 0, Text1: "f"})
		return err
	}))

	ready, err := store.ListReadyFSTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, ready)

	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		return SetFSTaskStatus(ctx, tx, id, FSTaskStatusReady)
	}))

	ready, err = store.ListReadyFSTasks(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, id, ready[0].ID)
}

func TestListFSTasksByFolder_FiltersByFolderID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := InsertFSTask(ctx, tx, FSTask{Type: FSTaskCreat, Status: FSTaskStatusOpen, FolderID: 1, Text1: "x"}); err != nil {
			return err
		}
		_, err := InsertFSTask(ctx, tx, FSTask{Type: FSTaskCreat, Status: FSTaskStatusOpen, FolderID: 2, Text1: "y"})
		return err
	}))

	rows, err := store.ListFSTasksByFolder(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "x", rows[0].Text1)
}

func TestGetFSTaskByID_NotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetFSTaskByID(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}
