package storage

// TaskType enumerates the download-direction operations held in the task
// table. NextReadyTask considers rows whose type is one of these values.
type TaskType int

const (
	TaskCreateLocalFolder TaskType = iota + 1
	TaskDeleteLocalFolder
	TaskDeleteRecursiveLocalFolder
	TaskRenameLocalFolder
	TaskDownloadFile
	TaskDeleteLocalFile
	TaskRenameLocalFile
)

// Task is a single row of the persistent, FIFO download-side task queue.
type Task struct {
	ID          int64
	Type        TaskType
	SyncID      int64
	ItemID      int64
	LocalItemID int64
	NewItemID   int64
	NewSyncID   int64
	Name        string
	InProgress  bool
}

// LocalFolder mirrors a directory the engine has created or discovered under
// a sync root.
type LocalFolder struct {
	ID                  int64
	SyncID              int64
	LocalParentFolderID int64
	Name                string
	Inode               uint64
	DeviceID            uint64
	Mtime               int64
	MtimeNative         int64
	TaskCnt             int
}

// LocalFile indexes a downloaded file by both its location and its content,
// so the Content Store Index (C3) can answer both "what's at this path" and
// "do we already have these bytes somewhere" queries.
type LocalFile struct {
	ID                  int64
	SyncID              int64
	LocalParentFolderID int64
	Name                string
	FileID              int64
	Hash                uint64
	Size                int64
	Inode               uint64
	Mtime               int64
	MtimeNative         int64
	Checksum            string
}

// SyncedFolder maps a local folder to the remote folder it is paired with
// under a given sync root.
type SyncedFolder struct {
	SyncID        int64
	LocalFolderID int64
	FolderID      int64
}

// FSTaskType enumerates the overlay-intent kinds held in the fstask table.
// RenameFileFrom and RenameFileTo are always inserted as a bound pair; see
// FSTaskStatusRenameFromBound.
type FSTaskType int

const (
	FSTaskMkdir FSTaskType = iota + 1
	FSTaskRmdir
	FSTaskCreat
	FSTaskUnlink
	FSTaskRenameFileFrom
	FSTaskRenameFileTo
)

// fstask.status lifecycle markers.
const (
	// FSTaskStatusReady marks a task eligible for upload once its
	// dependency set (fstaskdepend) is empty.
	FSTaskStatusReady = 0

	// FSTaskStatusOpen marks a Creat task whose body is still being
	// written locally; it must not be picked up for upload yet.
	FSTaskStatusOpen = 1

	// FSTaskStatusRenameFromBound marks the "from" leg of a rename pair.
	// Its status is never 0, so the upload worker never selects it
	// directly — only the paired "to" row (status 0, depending on this
	// one) drives the exchange.
	FSTaskStatusRenameFromBound = 10
)

// FSTask is a durable overlay-mutation intent awaiting upload confirmation.
type FSTask struct {
	ID       int64
	Type     FSTaskType
	Status   int
	FolderID int64
	FileID   int64
	Text1    string
	Text2    string
	Int1     int64
	Int2     int64
}
