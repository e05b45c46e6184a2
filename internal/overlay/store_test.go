package overlay

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/syncengine/internal/storage"
)

// testLogger returns a debug-level logger that writes to t.Log, so all
// activity appears in CI output.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

// fakeServerView is a ServerView test double whose answers are set per
// (parentFolderID, name) pair; unlisted pairs report "does not exist".
type fakeServerView struct {
	known map[int64]map[string]bool
}

func newFakeServerView() *fakeServerView {
	return &fakeServerView{known: make(map[int64]map[string]bool)}
}

func (f *fakeServerView) set(parentFolderID int64, name string, exists bool) {
	if f.known[parentFolderID] == nil {
		f.known[parentFolderID] = make(map[string]bool)
	}
	f.known[parentFolderID][name] = exists
}

func (f *fakeServerView) FolderExists(ctx context.Context, parentFolderID int64, name string) (bool, error) {
	return f.known[parentFolderID][name], nil
}

func newTestStore(t *testing.T) (*Store, *storage.Store, *fakeServerView) {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, ":memory:", testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	view := newFakeServerView()

	s, err := New(ctx, db, view, testLogger(t))
	require.NoError(t, err)

	return s, db, view
}

func drainReady(t *testing.T, s *Store, want int64) {
	t.Helper()
	select {
	case got := <-s.Ready():
		assert.Equal(t, want, got)
	default:
		t.Fatalf("expected fstask %d on ready channel, got nothing", want)
	}
}

func TestMkdir_NoDependencies_DispatchesImmediately(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	childID, err := s.Mkdir(ctx, Server(0), "Sub")
	require.NoError(t, err)
	assert.True(t, childID.IsPending())

	drainReady(t, s, childID.Value())
}

func TestMkdir_ErrExists_WhenAlreadyPending(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Mkdir(ctx, Server(0), "Sub")
	require.NoError(t, err)

	_, err = s.Mkdir(ctx, Server(0), "Sub")
	assert.ErrorIs(t, err, ErrExists)
}

func TestMkdir_ErrExists_WhenServerAlreadyHasFolder(t *testing.T) {
	s, _, view := newTestStore(t)
	ctx := context.Background()

	view.set(0, "Documents", true)

	_, err := s.Mkdir(ctx, Server(0), "Documents")
	assert.ErrorIs(t, err, ErrExists)
}

func TestMkdir_AllowedWhenShadowedByPendingRmdir(t *testing.T) {
	s, db, view := newTestStore(t)
	ctx := context.Background()

	view.set(0, "Documents", true)
	require.NoError(t, s.Rmdir(ctx, Server(0), Server(77), "Documents"))

	_, err := s.Mkdir(ctx, Server(0), "Documents")
	assert.NoError(t, err)

	rows, err := db.ListAllFSTasksByID(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestMkdirThenRmdirBeforeAck_LeavesNoFSTaskRows(t *testing.T) {
	s, db, _ := newTestStore(t)
	ctx := context.Background()

	childID, err := s.Mkdir(ctx, Server(0), "Transient")
	require.NoError(t, err)

	require.NoError(t, s.Rmdir(ctx, Server(0), childID, "Transient"))

	rows, err := db.ListAllFSTasksByID(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, ok := s.Get(Server(0))
	if ok {
		ft, _ := s.Get(Server(0))
		assert.Equal(t, 0, ft.TasksCnt)
	}
}

func TestRmdir_DependsOnExistingChildTasks(t *testing.T) {
	s, _, view := newTestStore(t)
	ctx := context.Background()

	view.set(0, "Shared", true)

	c, err := s.AddCreat(ctx, Server(5), "file.txt")
	require.NoError(t, err)
	require.NoError(t, s.PromoteCreat(ctx, Server(5), "file.txt"))
	// Drain the creat's own ready dispatch so it doesn't get mistaken for
	// the rmdir task's dispatch below.
	<-s.Ready()

	require.NoError(t, s.Rmdir(ctx, Server(0), Server(5), "Shared"))

	select {
	case got := <-s.Ready():
		t.Fatalf("rmdir task should not be ready while child task %d is outstanding, got dispatch of %d", c.TaskID, got)
	default:
	}
}

func TestRmdir_ErrNotFound_WhenNeitherPendingNorServerKnown(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	err := s.Rmdir(ctx, Server(0), Server(123), "Ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddCreat_StaysUnreadyUntilPromoted(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddCreat(ctx, Server(0), "draft.txt")
	require.NoError(t, err)

	select {
	case got := <-s.Ready():
		t.Fatalf("unpromoted creat should not dispatch, got %d", got)
	default:
	}

	require.NoError(t, s.PromoteCreat(ctx, Server(0), "draft.txt"))
	select {
	case <-s.Ready():
	default:
		t.Fatal("expected creat to dispatch after promotion")
	}
}

func TestUnlink_CancelsPendingCreatOutright(t *testing.T) {
	s, db, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddCreat(ctx, Server(0), "scratch.txt")
	require.NoError(t, err)

	require.NoError(t, s.Unlink(ctx, Server(0), Pending(1), "scratch.txt"))

	rows, err := db.ListAllFSTasksByID(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRenameFile_CreatesBoundFromToPair(t *testing.T) {
	s, db, _ := newTestStore(t)
	ctx := context.Background()

	err := s.RenameFile(ctx, Server(500), Server(1), "old.txt", Server(2), "new.txt")
	require.NoError(t, err)

	rows, err := db.ListAllFSTasksByID(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	var fromRow, toRow storage.FSTask
	for _, r := range rows {
		if r.Type == storage.FSTaskRenameFileFrom {
			fromRow = r
		} else {
			toRow = r
		}
	}

	assert.Equal(t, storage.FSTaskStatusRenameFromBound, fromRow.Status)
	assert.Equal(t, "old.txt", fromRow.Text1)
	assert.Equal(t, storage.FSTaskStatusReady, toRow.Status)
	assert.Equal(t, "new.txt", toRow.Text1)

	deps, err := db.ListFSTaskDependencies(ctx, toRow.ID)
	require.NoError(t, err)
	assert.Contains(t, deps, fromRow.ID)

	// The FROM leg has no predecessors of its own, so it dispatches on
	// Add, while the TO leg stays blocked behind it.
	drainReady(t, s, fromRow.ID)
	select {
	case got := <-s.Ready():
		t.Fatalf("to-leg should stay blocked on from-leg, got dispatch of %d", got)
	default:
	}
}

func TestAckBridge_FolderCreatedRekeysPlaceholder(t *testing.T) {
	s, db, _ := newTestStore(t)
	ctx := context.Background()

	childID, err := s.Mkdir(ctx, Server(0), "Sub")
	require.NoError(t, err)

	// Queue a file creation inside the not-yet-acked folder, so the
	// placeholder carries dependents across the rekey.
	_, err = s.AddCreat(ctx, childID, "inside.txt")
	require.NoError(t, err)

	require.NoError(t, s.FolderCreated(ctx, Server(0), childID.Value(), 42, "Sub"))

	rows, err := db.ListAllFSTasksByID(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1, "the mkdir row is gone, the creat row remains")

	ft, ok := s.Get(Server(42))
	require.True(t, ok, "placeholder folder should now be addressable by its real id")
	assert.Contains(t, ft.Creats, "inside.txt")

	_, stillPending := s.Get(childID)
	assert.False(t, stillPending)
}

func TestAckBridge_FileRenamedRemovesBothLegs(t *testing.T) {
	s, db, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RenameFile(ctx, Server(500), Server(1), "old.txt", Server(2), "new.txt"))

	rows, err := db.ListAllFSTasksByID(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	var fromID, toID int64
	for _, r := range rows {
		if r.Type == storage.FSTaskRenameFileFrom {
			fromID = r.ID
		} else {
			toID = r.ID
		}
	}

	require.NoError(t, s.FileRenamed(ctx, Server(2), toID, "new.txt", fromID))

	rows, err = db.ListAllFSTasksByID(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	fromFT, ok := s.Get(Server(1))
	if ok {
		assert.NotContains(t, fromFT.Unlinks, "old.txt")
	}
	toFT, ok := s.Get(Server(2))
	if ok {
		assert.NotContains(t, toFT.Creats, "new.txt")
	}
}

func TestReplay_ReconstructsPendingMkdirAfterRestart(t *testing.T) {
	ctx := context.Background()

	db, err := storage.Open(ctx, ":memory:", testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	view := newFakeServerView()

	s1, err := New(ctx, db, view, testLogger(t))
	require.NoError(t, err)

	childID, err := s1.Mkdir(ctx, Server(0), "Sub")
	require.NoError(t, err)

	s2, err := New(ctx, db, view, testLogger(t))
	require.NoError(t, err)

	ft, ok := s2.Get(Server(0))
	require.True(t, ok)
	assert.Contains(t, ft.Mkdirs, "Sub")
	assert.Equal(t, childID.Value(), ft.Mkdirs["Sub"].TaskID)

	drainReady(t, s2, childID.Value())
}

func TestFolderTasksRefcount_DropsOnlyWhenEmptyAndUnreferenced(t *testing.T) {
	s, _, _ := newTestStore(t)

	ft := s.GetOrCreate(Server(0))
	assert.Equal(t, 1, ft.Refcnt)

	s.Release(Server(0))

	_, ok := s.Get(Server(0))
	assert.False(t, ok, "an empty, unreferenced FolderTasks should be dropped")
}

func TestMkdir_NFDAndNFCNamesShareOneMapSlot(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	// "Café" decomposed (NFD: e + combining acute) vs. precomposed (NFC).
	// macOS reports the former off disk; the server and this store's own
	// persisted rows use the latter.
	nfd := "Café"
	nfc := "Café"
	require.NotEqual(t, nfd, nfc, "test strings must differ byte-wise to exercise normalization")

	childID, err := s.Mkdir(ctx, Server(0), nfd)
	require.NoError(t, err)

	ft, ok := s.Get(Server(0))
	require.True(t, ok)
	assert.Contains(t, ft.Mkdirs, nfc, "mkdir keyed by the NFD name should be found under its NFC form")

	_, err = s.Mkdir(ctx, Server(0), nfc)
	assert.ErrorIs(t, err, ErrExists, "a later mkdir spelled NFC must collide with the earlier NFD-spelled one")

	err = s.Rmdir(ctx, Server(0), childID, nfc)
	require.NoError(t, err, "rmdir spelled NFC must cancel the pending mkdir that was recorded as NFD")
}

func TestCompareNames_NFCAndNFDNormalizeEqual(t *testing.T) {
	assert.Equal(t, 0, compareNames("Café", "Café"))
	assert.NotEqual(t, 0, compareNames("Café", "cafe"))
}
