package downloader

import "sync"

// cancelKey identifies one in-flight file download.
type cancelKey struct {
	fileID int64
	syncID int64
}

// StopHandle lets a cancellation caller signal a specific in-flight
// download without walking a linked list under a global mutex, per the
// design note replacing the original's traversed-downloads-list pattern.
type StopHandle struct {
	stop chan struct{}
	once sync.Once
	hash string // populated once the server hash is known (step 3)
}

// Stopped reports whether this handle's download was asked to cancel.
func (h *StopHandle) Stopped() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

// cancelRegistry is the concurrent map of in-flight downloads keyed by
// (fileid, syncid), the design-note replacement for the mutex-guarded
// linked-list walk.
type cancelRegistry struct {
	mu      sync.Mutex
	entries map[cancelKey]*StopHandle
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{entries: make(map[cancelKey]*StopHandle)}
}

// register links a new in-flight download into the registry. Callers must
// call unregister when the download finishes, regardless of outcome.
func (r *cancelRegistry) register(fileID, syncID int64) *StopHandle {
	h := &StopHandle{stop: make(chan struct{})}

	r.mu.Lock()
	r.entries[cancelKey{fileID, syncID}] = h
	r.mu.Unlock()

	return h
}

func (r *cancelRegistry) unregister(fileID, syncID int64) {
	r.mu.Lock()
	delete(r.entries, cancelKey{fileID, syncID})
	r.mu.Unlock()
}

// setHash publishes the server hash into the entry so a cancellation
// request logged after step 3 can report it (step 3 of the download
// protocol).
func (r *cancelRegistry) setHash(fileID, syncID int64, hash string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.entries[cancelKey{fileID, syncID}]; ok {
		h.hash = hash
	}
}

// StopFile cancels a single in-flight download. Returns false if no
// download for (fileID, syncID) is currently in flight.
func (r *cancelRegistry) StopFile(fileID, syncID int64) bool {
	r.mu.Lock()
	h, ok := r.entries[cancelKey{fileID, syncID}]
	r.mu.Unlock()

	if !ok {
		return false
	}

	h.once.Do(func() { close(h.stop) })

	return true
}

// StopSync cancels every in-flight download for a sync root.
func (r *cancelRegistry) StopSync(syncID int64) {
	r.mu.Lock()
	var handles []*StopHandle
	for k, h := range r.entries {
		if k.syncID == syncID {
			handles = append(handles, h)
		}
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.once.Do(func() { close(h.stop) })
	}
}

// StopAll cancels every in-flight download.
func (r *cancelRegistry) StopAll() {
	r.mu.Lock()
	handles := make([]*StopHandle, 0, len(r.entries))
	for _, h := range r.entries {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.once.Do(func() { close(h.stop) })
	}
}
