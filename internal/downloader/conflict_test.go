package downloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/syncengine/internal/rangeplan"
)

func TestConflictStemExt_RegularFile(t *testing.T) {
	stem, ext := conflictStemExt("/home/user/report.docx")
	assert.Equal(t, "/home/user/report", stem)
	assert.Equal(t, ".docx", ext)
}

func TestConflictStemExt_Dotfile(t *testing.T) {
	stem, ext := conflictStemExt("/home/user/.bashrc")
	assert.Equal(t, "/home/user/.bashrc", stem)
	assert.Equal(t, "", ext)
}

func TestConflictStemExt_NoExtension(t *testing.T) {
	stem, ext := conflictStemExt("/home/user/Makefile")
	assert.Equal(t, "/home/user/Makefile", stem)
	assert.Equal(t, "", ext)
}

func TestGenerateConflictPath_AvoidsCollision(t *testing.T) {
	dir := t.TempDir()
	original := filepath.Join(dir, "report.docx")
	require.NoError(t, os.WriteFile(original, []byte("x"), 0o644))

	first := generateConflictPath(original)
	require.NoError(t, os.WriteFile(first, []byte("y"), 0o644))

	second := generateConflictPath(original)
	assert.NotEqual(t, first, second)
	assert.Contains(t, second, "-1")
}

// stubRemote implements RemoteClient with only IsRevisionOf configurable;
// the other methods are never exercised by the conflict-resolution tests.
type stubRemote struct {
	isRevision  bool
	revisionErr error
}

func (f *stubRemote) FetchFileMetadata(ctx context.Context, fileID int64) (string, int64, error) {
	return "", 0, nil
}
func (f *stubRemote) GetFileLink(ctx context.Context, fileID int64) ([]string, string, error) {
	return nil, "", nil
}
func (f *stubRemote) BlockHashes(ctx context.Context, fileID int64, blockSize int64) ([]rangeplan.BlockHash, error) {
	return nil, nil
}
func (f *stubRemote) FetchRange(ctx context.Context, host, path string, offset, length int64) (ReadCloser, error) {
	return nil, nil
}
func (f *stubRemote) IsRevisionOf(ctx context.Context, fileID int64, localChecksum string) (bool, error) {
	return f.isRevision, f.revisionErr
}

func TestResolveConflict_OlderRevisionOverwritesSilently(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.docx")
	require.NoError(t, os.WriteFile(path, []byte("old content"), 0o644))

	err := resolveConflict(context.Background(), &stubRemote{isRevision: true}, 42, path, "checksum")
	require.NoError(t, err)

	// File is left in place untouched (overwrite happens via the caller's
	// subsequent rename, not resolveConflict itself).
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestResolveConflict_NotARevisionRenamesToConflictName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.docx")
	require.NoError(t, os.WriteFile(path, []byte("someone's edit"), 0o644))

	err := resolveConflict(context.Background(), &stubRemote{isRevision: false}, 42, path, "checksum")
	require.NoError(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "original path should have been renamed away")

	matches, _ := filepath.Glob(filepath.Join(dir, "report.conflict-*"))
	assert.Len(t, matches, 1)
}

func TestResolveConflict_PropagatesRevisionCheckError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.docx")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	wantErr := errors.New("rpc down")
	err := resolveConflict(context.Background(), &stubRemote{revisionErr: wantErr}, 42, path, "checksum")
	assert.ErrorIs(t, err, wantErr)
}
