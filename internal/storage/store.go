// Package storage implements the persistent task table, the local-folder and
// local-file content index, and the filesystem-overlay task table backing
// the synchronization engine. A single SQLite database file holds all of it;
// every table survives a process restart, so a crash mid-download or
// mid-folder-op resumes from exactly where it left off.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// walJournalSizeLimit bounds how large the WAL file can grow before SQLite
// forces a checkpoint, so a burst of writes during a large sync doesn't leave
// an unbounded -wal file on disk.
const walJournalSizeLimit = 64 * 1024 * 1024

// Store is the SQLite-backed persistence layer for the task queue, the
// local content index, and the filesystem-overlay task table.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	taskStmts    taskStatements
	contentStmts contentStatements
	overlayStmts overlayStatements
}

// Open creates or opens the database at dbPath, applies pending schema
// migrations, and prepares all statements used by the store.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	logger.Info("opening engine state database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}

	// Several goroutines (the worker loop and its per-file downloads) use
	// the store concurrently, and sql.DB would otherwise pool connections;
	// cap it at 1 so SQLite's single-writer model never has to arbitrate
	// between connections of the same process.
	db.SetMaxOpenConns(1)

	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareAllStatements(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("storage: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", "pragma", p.desc)
	}

	return nil
}

type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

// prepareAll prepares a batch of statements, returning on first error.
func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("storage: prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

func (s *Store) prepareAllStatements(ctx context.Context) error {
	if err := s.prepareTaskStmts(ctx); err != nil {
		return err
	}

	if err := s.prepareContentStmts(ctx); err != nil {
		return err
	}

	if err := s.prepareOverlayStmts(ctx); err != nil {
		return err
	}

	return nil
}
