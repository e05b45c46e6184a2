// Package testutil provides shared test helpers: a throwaway SQLite-backed
// Store for package tests that need real persistence, and a fake RemoteClient
// double for exercising the download worker without a network collaborator.
package testutil

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/syncengine/internal/downloader"
	"github.com/tonimelisma/syncengine/internal/rangeplan"
	"github.com/tonimelisma/syncengine/internal/storage"
)

// DiscardLogger returns a slog.Logger that drops everything, for tests that
// don't care about log output but still need to satisfy a *slog.Logger param.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTempStore opens a fresh SQLite-backed Store under the test's temp
// directory, with migrations applied. The database is closed automatically
// via t.Cleanup.
func NewTempStore(t *testing.T) *storage.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "state.db")
	db, err := storage.Open(context.Background(), path, DiscardLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// FakeRemote is a configurable RemoteClient double, mirroring the teacher's
// fake-transport pattern: every method returns canned responses or the
// configured error instead of talking to a real service.
type FakeRemote struct {
	Hash string
	Size int64

	LinkHosts []string
	LinkPath  string

	Blocks []rangeplan.BlockHash

	RangeBody map[string][]byte // keyed by request path; FetchRange slices offset:offset+length

	IsRevision bool

	Err error
}

func (f *FakeRemote) FetchFileMetadata(_ context.Context, _ int64) (string, int64, error) {
	return f.Hash, f.Size, f.Err
}

func (f *FakeRemote) GetFileLink(_ context.Context, _ int64) ([]string, string, error) {
	return f.LinkHosts, f.LinkPath, f.Err
}

func (f *FakeRemote) BlockHashes(_ context.Context, _ int64, _ int64) ([]rangeplan.BlockHash, error) {
	return f.Blocks, f.Err
}

func (f *FakeRemote) FetchRange(_ context.Context, _, path string, offset, length int64) (downloader.ReadCloser, error) {
	if f.Err != nil {
		return nil, f.Err
	}

	body := f.RangeBody[path]
	if int64(len(body)) < offset+length {
		length = int64(len(body)) - offset
	}
	if offset < 0 || length < 0 {
		offset, length = 0, 0
	}

	return io.NopCloser(bytes.NewReader(body[offset : offset+length])), nil
}

func (f *FakeRemote) IsRevisionOf(_ context.Context, _ int64, _ string) (bool, error) {
	return f.IsRevision, f.Err
}
