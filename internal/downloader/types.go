// Package downloader implements the Download Worker (C5), the Status/
// Backpressure Registry (C1), and the task-level error-handling policy
// described for the engine's download direction: a single consumer pulls
// ready rows from the task queue and executes folder operations inline or
// spawns a bounded per-file goroutine for DOWNLOAD_FILE rows.
package downloader

import (
	"context"

	"github.com/tonimelisma/syncengine/internal/rangeplan"
)

// RemoteClient is the engine's only RPC collaborator: fetching authoritative
// file metadata, a download link, and the server's block hash list for a
// file. A real transport (HTTP/TLS, the authenticated RPC protocol) is an
// external collaborator implementing this interface outside this module.
type RemoteClient interface {
	FetchFileMetadata(ctx context.Context, fileID int64) (hash string, size int64, err error)
	GetFileLink(ctx context.Context, fileID int64) (hosts []string, path string, err error)
	BlockHashes(ctx context.Context, fileID int64, blockSize int64) ([]rangeplan.BlockHash, error)
	FetchRange(ctx context.Context, host, path string, offset, length int64) (ReadCloser, error)
	// IsRevisionOf reports whether localChecksum is a known older revision
	// of fileID's content history, so a conflicting local edit can be
	// distinguished from a stale, already-synced copy (§4.10).
	IsRevisionOf(ctx context.Context, fileID int64, localChecksum string) (bool, error)
}

// ReadCloser is the minimal streaming body RemoteClient.FetchRange returns.
type ReadCloser interface {
	Read(p []byte) (int, error)
	Close() error
}

// LocalScanController pauses and resumes the out-of-band local-change
// scanner around filesystem-visible mutations, so the engine's own writes
// are never mistaken for foreign changes.
type LocalScanController interface {
	Stop()
	Resume()
	Wake()
}

// EventKind tags an emitted Event.
type EventKind int

const (
	EventLocalFolderCreated EventKind = iota
	EventLocalFolderDeleted
	EventLocalFolderRenamed
	EventFileDownloadStarted
	EventFileDownloadFinished
	EventFileDownloadFailed
	EventLocalFileDeleted
)

// Event is published to the external event/status bus.
type Event struct {
	Kind     EventKind
	SyncID   int64
	Path     string
	RemoteID int64
	Name     string
}

// EventSink is the engine's outbound status collaborator.
type EventSink interface {
	Publish(Event)
}

// P2PProbe is the peer-to-peer accelerator collaborator: given a file's
// identity it may produce a verified body at destTemp without involving the
// server at all.
type P2PProbe interface {
	TryFetch(ctx context.Context, fileID int64, hash string, size int64, destTemp string) (ok bool, err error)
}

// RequiredStatusGate reports whether the conjunction of {auth provided, run
// state = running, online} holds. The worker blocks at every suspension
// point until this returns true.
type RequiredStatusGate interface {
	Wait(ctx context.Context) error
	// Met reports the gate's current state without blocking, used inside
	// the streaming loop (step 13) to fail fast mid-transfer.
	Met() bool
}
