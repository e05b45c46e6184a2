// Package overlay implements the filesystem-overlay task store: an
// in-memory, reference-counted, per-folder index of pending mkdir/rmdir/
// creat/unlink/rename operations layered over the server's view of the
// tree, kept coherent with the persistent fstask table and with
// server-acknowledgement callbacks.
package overlay

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ID is a tagged identifier distinguishing a server-assigned id from a
// pending, not-yet-acknowledged client-originated one. A folder created
// locally can parent further mutations — e.g. a file created inside it —
// before the server assigns the folder's real id; those mutations carry a
// Pending ID until the create is acknowledged and FolderCreated re-keys it.
type ID struct {
	pending bool
	value   int64
}

// Server returns a tagged ID for a server-assigned identifier.
func Server(v int64) ID { return ID{value: v} }

// Pending returns a tagged ID for a not-yet-acknowledged fstask id.
func Pending(fstaskID int64) ID { return ID{pending: true, value: fstaskID} }

// IsPending reports whether the id is a placeholder awaiting server ack.
func (id ID) IsPending() bool { return id.pending }

// Value returns the underlying server id or fstask id.
func (id ID) Value() int64 { return id.value }

func (id ID) String() string {
	if id.pending {
		return fmt.Sprintf("pending(%d)", id.value)
	}
	return fmt.Sprintf("server(%d)", id.value)
}

// Encode maps a tagged ID onto the signed integer convention used by the
// persisted fstask/localfolder/localfile columns: server ids are
// non-negative, pending ids are stored as the negation of the fstask id
// that will eventually be acknowledged. This keeps the wire/storage schema
// identical to the original design's negative-id convention while keeping
// the Go-level API free of sign-bit overloading (see Decode).
func Encode(id ID) int64 {
	if id.pending {
		return -id.value
	}
	return id.value
}

// Decode is the inverse of Encode.
func Decode(v int64) ID {
	if v < 0 {
		return Pending(-v)
	}
	return Server(v)
}

// normalizeName returns the NFC form of name. macOS's HFS+/APFS report
// directory entries decomposed (NFD); the server and this store's own
// fstask/localfile/localfolder rows are NFC. Every name entering the
// overlay is normalized once here so map keys and persisted Text1/Text2
// values agree regardless of which filesystem produced them.
func normalizeName(name string) string { return norm.NFC.String(name) }

// compareNames is the single comparator behind every name equality check
// and ordering decision in this package: both sides are NFC-normalized
// before a byte-wise compare, so an NFD name from a macOS scan and its NFC
// counterpart from the server or the database agree. Returns <0, 0, >0
// like strings.Compare.
func compareNames(a, b string) int {
	return strings.Compare(norm.NFC.String(a), norm.NFC.String(b))
}

// Mkdir is a pending local directory creation. FolderID is Pending(taskid)
// until the server acknowledges it.
type Mkdir struct {
	TaskID    int64
	Ctime     int64
	Mtime     int64
	FolderID  ID
	SubdirCnt int
	Name      string
}

// Rmdir is a pending local directory deletion.
type Rmdir struct {
	TaskID   int64
	FolderID ID
	Name     string
}

// Creat is a pending local file creation. FileID is Pending(taskid) until
// acknowledged. NewFile is false when this entry marks a rename target
// rather than a freshly written file.
type Creat struct {
	TaskID  int64
	FileID  ID
	NewFile bool
	Name    string
}

// Unlink is a pending local file deletion.
type Unlink struct {
	TaskID int64
	FileID ID
	Name   string
}

// FolderTasks is the reference-counted, per-folder set of pending overlay
// mutations. It is dropped only once Refcnt==0 and TasksCnt==0.
type FolderTasks struct {
	FolderID ID
	Refcnt   int
	TasksCnt int

	Mkdirs  map[string]*Mkdir
	Rmdirs  map[string]*Rmdir
	Creats  map[string]*Creat
	Unlinks map[string]*Unlink
}

func newFolderTasks(folderID ID) *FolderTasks {
	return &FolderTasks{
		FolderID: folderID,
		Mkdirs:   make(map[string]*Mkdir),
		Rmdirs:   make(map[string]*Rmdir),
		Creats:   make(map[string]*Creat),
		Unlinks:  make(map[string]*Unlink),
	}
}

// empty reports whether this FolderTasks has no pending entries left.
func (ft *FolderTasks) empty() bool {
	return len(ft.Mkdirs) == 0 && len(ft.Rmdirs) == 0 && len(ft.Creats) == 0 && len(ft.Unlinks) == 0
}
