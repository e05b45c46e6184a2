package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type overlayStatements struct {
	insertFSTask *sql.Stmt
	insertDepend *sql.Stmt
	deleteFSTask *sql.Stmt
	setStatus    *sql.Stmt
	dependCount  *sql.Stmt
	listAllByID  *sql.Stmt
	listReady    *sql.Stmt
	getByID      *sql.Stmt
	listByFolder *sql.Stmt
	listDepends  *sql.Stmt
}

const (
	sqlInsertFSTask = `
		INSERT INTO fstask (type, status, folderid, fileid, text1, text2, int1, int2)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	sqlInsertDepend = `
		INSERT OR IGNORE INTO fstaskdepend (fstaskid, dependfstaskid) VALUES (?, ?)`

	sqlDeleteFSTask = `DELETE FROM fstask WHERE id = ?`

	sqlSetFSTaskStatus = `UPDATE fstask SET status = ? WHERE id = ?`

	sqlDependCount = `SELECT COUNT(*) FROM fstaskdepend WHERE fstaskid = ?`

	sqlListDependencies = `SELECT dependfstaskid FROM fstaskdepend WHERE fstaskid = ? ORDER BY dependfstaskid ASC`

	sqlListAllFSTaskByID = `
		SELECT id, type, status, folderid, fileid, text1, text2, int1, int2
		FROM fstask
		ORDER BY id ASC`

	sqlListReadyFSTask = `
		SELECT f.id, f.type, f.status, f.folderid, f.fileid, f.text1, f.text2, f.int1, f.int2
		FROM fstask f
		WHERE f.status = 0 AND NOT EXISTS (
			SELECT 1 FROM fstaskdepend d WHERE d.fstaskid = f.id
		)
		ORDER BY f.id ASC`

	sqlGetFSTaskByID = `
		SELECT id, type, status, folderid, fileid, text1, text2, int1, int2
		FROM fstask WHERE id = ?`

	sqlListFSTasksByFolder = `
		SELECT id, type, status, folderid, fileid, text1, text2, int1, int2
		FROM fstask WHERE folderid = ?
		ORDER BY id ASC`
)

func (s *Store) prepareOverlayStmts(ctx context.Context) error {
	return prepareAll(ctx, s.db, []stmtDef{
		{&s.overlayStmts.insertFSTask, sqlInsertFSTask, "insertFSTask"},
		{&s.overlayStmts.insertDepend, sqlInsertDepend, "insertDepend"},
		{&s.overlayStmts.deleteFSTask, sqlDeleteFSTask, "deleteFSTask"},
		{&s.overlayStmts.setStatus, sqlSetFSTaskStatus, "setFSTaskStatus"},
		{&s.overlayStmts.dependCount, sqlDependCount, "dependCount"},
		{&s.overlayStmts.listAllByID, sqlListAllFSTaskByID, "listAllFSTaskByID"},
		{&s.overlayStmts.listReady, sqlListReadyFSTask, "listReadyFSTask"},
		{&s.overlayStmts.getByID, sqlGetFSTaskByID, "getFSTaskByID"},
		{&s.overlayStmts.listByFolder, sqlListFSTasksByFolder, "listFSTasksByFolder"},
		{&s.overlayStmts.listDepends, sqlListDependencies, "listFSTaskDependencies"},
	})
}

// WithTx runs fn inside a SQL transaction, committing on nil error and
// rolling back otherwise. Multi-row overlay mutations (an fstask row plus
// its fstaskdepend edges) always go through this so a crash never leaves a
// task without its dependency edges or vice versa.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("storage: rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit transaction: %w", err)
	}

	return nil
}

func scanFSTask(row interface{ Scan(...any) error }) (FSTask, error) {
	var t FSTask
	var text1, text2 sql.NullString
	err := row.Scan(&t.ID, &t.Type, &t.Status, &t.FolderID, &t.FileID, &text1, &text2, &t.Int1, &t.Int2)
	t.Text1 = text1.String
	t.Text2 = text2.String
	return t, err
}

// InsertFSTask inserts a new overlay-intent row inside tx and returns its id.
func InsertFSTask(ctx context.Context, tx *sql.Tx, t FSTask) (int64, error) {
	res, err := tx.ExecContext(ctx, sqlInsertFSTask, t.Type, t.Status, t.FolderID, t.FileID,
		nullableString(t.Text1), nullableString(t.Text2), t.Int1, t.Int2)
	if err != nil {
		return 0, fmt.Errorf("storage: insert fstask: %w", err)
	}

	return res.LastInsertId()
}

// InsertFSTaskDepend adds a directed "fstaskid depends on dependfstaskid"
// edge inside tx. Both ids must already exist; the foreign keys cascade the
// edge's deletion when either row is removed (invariant: edges never
// outlive the task they reference).
func InsertFSTaskDepend(ctx context.Context, tx *sql.Tx, fstaskID, dependFSTaskID int64) error {
	if _, err := tx.ExecContext(ctx, sqlInsertDepend, fstaskID, dependFSTaskID); err != nil {
		return fmt.Errorf("storage: insert fstaskdepend: %w", err)
	}

	return nil
}

// DeleteFSTask removes an overlay-intent row inside tx. ON DELETE CASCADE on
// fstaskdepend removes any edge naming this row as either side.
func DeleteFSTask(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, sqlDeleteFSTask, id); err != nil {
		return fmt.Errorf("storage: delete fstask: %w", err)
	}

	return nil
}

// SetFSTaskStatus updates an fstask row's lifecycle marker inside tx.
func SetFSTaskStatus(ctx context.Context, tx *sql.Tx, id int64, status int) error {
	if _, err := tx.ExecContext(ctx, sqlSetFSTaskStatus, status, id); err != nil {
		return fmt.Errorf("storage: set fstask status: %w", err)
	}

	return nil
}

// FSTaskDependCount reports how many outstanding predecessors a task has;
// zero means it is a candidate for ListReadyFSTasks.
func (s *Store) FSTaskDependCount(ctx context.Context, id int64) (int, error) {
	var n int
	if err := s.overlayStmts.dependCount.QueryRowContext(ctx, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: fstask depend count: %w", err)
	}

	return n, nil
}

// ListAllFSTasksByID returns every fstask row ordered by id ascending, used
// on startup to replay the persisted overlay intents into the in-memory
// trees.
func (s *Store) ListAllFSTasksByID(ctx context.Context) ([]FSTask, error) {
	rows, err := s.overlayStmts.listAllByID.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: list all fstasks: %w", err)
	}
	defer rows.Close()

	var out []FSTask
	for rows.Next() {
		t, err := scanFSTask(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan fstask: %w", err)
		}
		out = append(out, t)
	}

	return out, rows.Err()
}

// ListReadyFSTasks returns every status=0 fstask row with no outstanding
// dependency edges — the set the upload worker may pick from.
func (s *Store) ListReadyFSTasks(ctx context.Context) ([]FSTask, error) {
	rows, err := s.overlayStmts.listReady.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: list ready fstasks: %w", err)
	}
	defer rows.Close()

	var out []FSTask
	for rows.Next() {
		t, err := scanFSTask(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan fstask: %w", err)
		}
		out = append(out, t)
	}

	return out, rows.Err()
}

// GetFSTaskByID fetches a single overlay-intent row, used by the acknowledge
// bridge to resolve the source folder/name of a rename's "from" leg.
func (s *Store) GetFSTaskByID(ctx context.Context, id int64) (FSTask, error) {
	row := s.overlayStmts.getByID.QueryRowContext(ctx, id)
	t, err := scanFSTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return FSTask{}, ErrNotFound
	}
	if err != nil {
		return FSTask{}, fmt.Errorf("storage: get fstask by id: %w", err)
	}

	return t, nil
}

// ListFSTaskDependencies returns the ids fstaskID depends on.
func (s *Store) ListFSTaskDependencies(ctx context.Context, fstaskID int64) ([]int64, error) {
	rows, err := s.overlayStmts.listDepends.QueryContext(ctx, fstaskID)
	if err != nil {
		return nil, fmt.Errorf("storage: list fstask dependencies: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan fstask dependency: %w", err)
		}
		out = append(out, id)
	}

	return out, rows.Err()
}

// ListFSTasksByFolder returns every fstask row targeting folderID, used when
// inserting a new dependency on "every existing task touching this folder".
func (s *Store) ListFSTasksByFolder(ctx context.Context, folderID int64) ([]FSTask, error) {
	rows, err := s.overlayStmts.listByFolder.QueryContext(ctx, folderID)
	if err != nil {
		return nil, fmt.Errorf("storage: list fstasks by folder: %w", err)
	}
	defer rows.Close()

	var out []FSTask
	for rows.Next() {
		t, err := scanFSTask(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan fstask: %w", err)
		}
		out = append(out, t)
	}

	return out, rows.Err()
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}
