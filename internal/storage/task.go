package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNoReadyTask is returned by NextReadyTask when no eligible row exists.
var ErrNoReadyTask = errors.New("storage: no ready task")

type taskStatements struct {
	enqueue       *sql.Stmt
	nextReady     *sql.Stmt
	markInProg    *sql.Stmt
	complete      *sql.Stmt
	reset         *sql.Stmt
	purgeByFileID *sql.Stmt
}

const (
	sqlTaskEnqueue = `
		INSERT INTO task (type, syncid, itemid, localitemid, newitemid, newsyncid, name, inprogress)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`

	// type IN (1..7) spans every TaskType; the clause stays explicit so a
	// future non-download-direction task type doesn't silently leak in.
	sqlTaskNextReady = `
		SELECT id, type, syncid, itemid, localitemid, newitemid, newsyncid, name, inprogress
		FROM task
		WHERE inprogress = 0 AND type IN (1, 2, 3, 4, 5, 6, 7)
		ORDER BY id ASC
		LIMIT 1`

	sqlTaskMarkInProgress = `UPDATE task SET inprogress = 1 WHERE id = ?`

	sqlTaskComplete = `DELETE FROM task WHERE id = ?`

	sqlTaskReset = `UPDATE task SET inprogress = 0 WHERE id = ?`

	sqlTaskPurgeByFileID = `DELETE FROM task WHERE itemid = ? AND type = ?`
)

func (s *Store) prepareTaskStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.taskStmts.enqueue, sqlTaskEnqueue, "taskEnqueue"},
		{&s.taskStmts.nextReady, sqlTaskNextReady, "taskNextReady"},
		{&s.taskStmts.markInProg, sqlTaskMarkInProgress, "taskMarkInProgress"},
		{&s.taskStmts.complete, sqlTaskComplete, "taskComplete"},
		{&s.taskStmts.reset, sqlTaskReset, "taskReset"},
		{&s.taskStmts.purgeByFileID, sqlTaskPurgeByFileID, "taskPurgeByFileID"},
	})
}

// EnqueueTask appends a row to the task table. It does not wake the
// download worker; the worker finds the row on its next idle poll.
func (s *Store) EnqueueTask(ctx context.Context, t Task) (int64, error) {
	res, err := s.taskStmts.enqueue.ExecContext(ctx, t.Type, t.SyncID, t.ItemID, t.LocalItemID,
		nullableID(t.NewItemID), nullableID(t.NewSyncID), t.Name)
	if err != nil {
		return 0, fmt.Errorf("storage: enqueue task: %w", err)
	}

	return res.LastInsertId()
}

// NextReadyTask returns the lowest-id row with inprogress=0, or ErrNoReadyTask
// if none is pending. The caller is the single consumer of the task table.
func (s *Store) NextReadyTask(ctx context.Context) (Task, error) {
	var t Task
	var newItemID, newSyncID sql.NullInt64
	var name sql.NullString
	var inProgress int

	row := s.taskStmts.nextReady.QueryRowContext(ctx)
	err := row.Scan(&t.ID, &t.Type, &t.SyncID, &t.ItemID, &t.LocalItemID, &newItemID, &newSyncID, &name, &inProgress)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNoReadyTask
	}
	if err != nil {
		return Task{}, fmt.Errorf("storage: next ready task: %w", err)
	}

	t.NewItemID = newItemID.Int64
	t.NewSyncID = newSyncID.Int64
	t.Name = name.String
	t.InProgress = inProgress != 0

	return t, nil
}

// MarkTaskInProgress flags a row as claimed by the current attempt.
func (s *Store) MarkTaskInProgress(ctx context.Context, id int64) error {
	if _, err := s.taskStmts.markInProg.ExecContext(ctx, id); err != nil {
		return fmt.Errorf("storage: mark task in progress: %w", err)
	}

	return nil
}

// CompleteTask deletes a row on success.
func (s *Store) CompleteTask(ctx context.Context, id int64) error {
	if _, err := s.taskStmts.complete.ExecContext(ctx, id); err != nil {
		return fmt.Errorf("storage: complete task: %w", err)
	}

	return nil
}

// ResetTask clears inprogress so the row is retried on the next pass.
func (s *Store) ResetTask(ctx context.Context, id int64) error {
	if _, err := s.taskStmts.reset.ExecContext(ctx, id); err != nil {
		return fmt.Errorf("storage: reset task: %w", err)
	}

	return nil
}

// PurgeDownloadTasksForFile deletes any pending DOWNLOAD_FILE row for
// fileid, used when a download is cancelled before it was claimed.
func (s *Store) PurgeDownloadTasksForFile(ctx context.Context, fileID int64) error {
	if _, err := s.taskStmts.purgeByFileID.ExecContext(ctx, fileID, TaskDownloadFile); err != nil {
		return fmt.Errorf("storage: purge download tasks for file: %w", err)
	}

	return nil
}

func nullableID(id int64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: id, Valid: true}
}
