package downloader

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tonimelisma/syncengine/internal/rangeplan"
	"github.com/tonimelisma/syncengine/internal/storage"
	"github.com/tonimelisma/syncengine/pkg/quickxorhash"
)

// partialSuffix is APPEND_PARTIAL_FILES: the in-progress download lives
// next to its target under this suffix until finalized.
const partialSuffix = ".partial"

// downloadFile runs the full file-download protocol for one DOWNLOAD_FILE
// task, stop-flag checked at every suspension point via the registered
// StopHandle.
func (w *Worker) downloadFile(ctx context.Context, t storage.Task) error {
	// Step 1: resolve path, acquire advisory lock.
	name, err := w.resolver.FilePath(ctx, t.SyncID, t.LocalItemID, t.Name)
	if err != nil {
		return fmt.Errorf("downloader: download: resolving path: %w", err)
	}

	lock, err := lockFile(name)
	if err != nil {
		if errors.Is(err, errLocked) {
			w.logger.Debug("downloader: download: file locked, retrying later", slog.String("path", name))
			return w.sleep(ctx, w.cfg.SleepOnLockedFile)
		}
		return fmt.Errorf("downloader: download: locking %q: %w", name, err)
	}
	defer lock.unlock()

	handle := w.cancels.register(t.ItemID, t.SyncID)
	defer w.cancels.unregister(t.ItemID, t.SyncID)

	// Step 2: fetch authoritative metadata.
	serverHash, serverSize, err := w.remote.FetchFileMetadata(ctx, t.ItemID)
	if err != nil {
		if errors.Is(err, ErrNetPermFail) {
			return err
		}
		w.logger.Warn("downloader: download: metadata fetch failed, retrying", slog.Any("error", err))
		if sleepErr := w.sleep(ctx, w.cfg.SockTimeoutOnException); sleepErr != nil {
			return sleepErr
		}
		return fmt.Errorf("%w: %w", ErrNetTempFail, err)
	}

	// Step 3: publish hash for cancellation callers.
	w.cancels.setHash(t.ItemID, t.SyncID, serverHash)

	// Step 4: admission control.
	if err := w.admission.AdmitForStart(ctx); err != nil {
		return err
	}
	admitted := true
	defer func() {
		if admitted {
			w.admission.Release()
		}
	}()

	// Step 5: free-space check.
	if w.cfg.MinLocalFreeSpace > 0 {
		free, statErr := availableBytes(filepath.Dir(name))
		if statErr == nil && int64(free) < w.cfg.MinLocalFreeSpace+serverSize {
			w.admission.AbortStarting()
			admitted = false
			w.logger.Warn("downloader: download: local disk full", slog.String("path", name))
			if sleepErr := w.sleep(ctx, w.cfg.SleepOnDiskFull); sleepErr != nil {
				return sleepErr
			}
			return fmt.Errorf("downloader: download: insufficient free space for %q", name)
		}
	}

	// Step 6: identity short-circuit.
	if existing, ferr := w.db.FindFileByName(ctx, t.SyncID, t.LocalItemID, t.Name); ferr == nil {
		if existing.Size == serverSize && existing.Checksum == serverHash {
			existing.FileID = t.ItemID
			w.admission.AbortStarting()
			admitted = false
			if uerr := w.db.UpsertFile(ctx, existing); uerr != nil {
				return fmt.Errorf("downloader: download: identity short-circuit upsert: %w", uerr)
			}
			return nil
		}
	}

	// Step 7: already-on-disk short-circuit.
	if checksum, size, herr := hashFileIfExists(name); herr == nil && size == serverSize && checksum == serverHash {
		w.admission.AbortStarting()
		admitted = false
		return w.finalizeLocalFile(ctx, t, name, serverHash, serverSize)
	}

	// Step 8: local dedup copy.
	if copied, derr := w.tryDedupCopy(ctx, t, name, serverHash, serverSize); derr != nil {
		return derr
	} else if copied {
		w.admission.AbortStarting()
		admitted = false
		return w.finalizeLocalFile(ctx, t, name, serverHash, serverSize)
	}

	// Step 9: transition starting -> started.
	w.admission.PromoteToStarted(serverSize)
	w.events.Publish(Event{Kind: EventFileDownloadStarted, SyncID: t.SyncID, Path: name, RemoteID: t.ItemID, Name: t.Name})

	tmpPath := name + partialSuffix

	// Step 10: P2P accelerator.
	if w.p2p != nil && serverSize >= w.cfg.MinSizeForP2P {
		ok, perr := w.p2p.TryFetch(ctx, t.ItemID, serverHash, serverSize, tmpPath)
		if perr == nil && ok {
			if err := os.Rename(tmpPath, name); err != nil {
				return fmt.Errorf("downloader: download: publishing p2p result: %w", err)
			}
			return w.finalizeLocalFile(ctx, t, name, serverHash, serverSize)
		}
	}

	// Step 11: request download link.
	hosts, reqPath, err := w.remote.GetFileLink(ctx, t.ItemID)
	if err != nil {
		return fmt.Errorf("downloader: download: getfilelink: %w", err)
	}
	if len(hosts) == 0 {
		return fmt.Errorf("%w: getfilelink returned no hosts", ErrNetTempFail)
	}

	// Step 12: range plan, including the -old.partial rescue candidate.
	candidates := w.rangeCandidates(name, tmpPath)
	var serverBlocks []rangeplan.BlockHash
	if serverSize >= w.cfg.MinSizeForChecksums {
		serverBlocks, err = w.remote.BlockHashes(ctx, t.ItemID, w.cfg.RangePlannerBlockSize)
		if err != nil {
			return fmt.Errorf("%w: block hashes: %w", ErrNetTempFail, err)
		}
	}

	plan, err := w.planner.Plan(ctx, serverSize, serverBlocks, candidates)
	if err != nil {
		return fmt.Errorf("%w: range plan: %w", ErrNetTempFail, err)
	}

	// Step 13: execute plan.
	digest := quickxorhash.New()
	if err := w.executePlan(ctx, plan, hosts, reqPath, tmpPath, digest, handle); err != nil {
		if errors.Is(err, ErrCancelled) {
			os.Remove(tmpPath)
		}
		return err
	}

	// Step 14: finalization.
	sum := hex.EncodeToString(digest.Sum(nil))
	if sum != serverHash {
		return fmt.Errorf("%w: got %s want %s", ErrChecksumMismatch, sum, serverHash)
	}

	// Step 15: atomic publish.
	w.scan.Stop()
	published := func() error {
		defer w.scan.Resume()

		if _, statErr := os.Lstat(name); statErr == nil {
			localChecksum, _, hashErr := hashFileIfExists(name)
			if hashErr == nil && localChecksum != serverHash {
				if cerr := resolveConflict(ctx, w.remote, t.ItemID, name, localChecksum); cerr != nil {
					return cerr
				}
			}
		}

		return os.Rename(tmpPath, name)
	}()
	if published != nil {
		return fmt.Errorf("downloader: download: publishing: %w", published)
	}

	w.events.Publish(Event{Kind: EventFileDownloadFinished, SyncID: t.SyncID, Path: name, RemoteID: t.ItemID, Name: t.Name})

	return w.finalizeLocalFile(ctx, t, name, serverHash, serverSize)
}

// finalizeLocalFile upserts the localfile row from a fresh stat of name,
// the common tail of every short-circuit and full-download path.
func (w *Worker) finalizeLocalFile(ctx context.Context, t storage.Task, name, checksum string, size int64) error {
	fi, err := os.Stat(name)
	if err != nil {
		return fmt.Errorf("downloader: finalize: stat %q: %w", name, err)
	}

	ino, _ := statIdentitySys(fi)
	if err := w.db.UpsertFile(ctx, storage.LocalFile{
		SyncID:              t.SyncID,
		LocalParentFolderID: t.LocalItemID,
		Name:                t.Name,
		FileID:              t.ItemID,
		Size:                size,
		Checksum:            checksum,
		Inode:               ino,
		Mtime:               fi.ModTime().Unix(),
		MtimeNative:         fi.ModTime().UnixNano(),
	}); err != nil {
		return fmt.Errorf("downloader: finalize: upsert local file: %w", err)
	}

	return nil
}

// tryDedupCopy attempts step 8: for each existing localfile row sharing
// (size, checksum) with the target, copy-verify it into name.
func (w *Worker) tryDedupCopy(ctx context.Context, t storage.Task, name, serverHash string, serverSize int64) (bool, error) {
	candidates, err := w.db.FindFilesByContent(ctx, serverSize, serverHash)
	if err != nil {
		return false, fmt.Errorf("downloader: dedup: querying content index: %w", err)
	}

	for _, c := range candidates {
		srcPath, perr := w.resolver.FilePath(ctx, c.SyncID, c.LocalParentFolderID, c.Name)
		if perr != nil {
			continue
		}

		if err := copyVerify(ctx, srcPath, name, serverHash, w.bw); err != nil {
			w.logger.Debug("downloader: dedup: candidate failed verify", slog.String("src", srcPath), slog.Any("error", err))
			continue
		}

		return true, nil
	}

	return false, nil
}

// copyVerify copies src to dst and confirms the copy's checksum matches
// want before leaving it in place; on mismatch dst is removed.
func copyVerify(ctx context.Context, src, dst, want string, bw *BandwidthLimiter) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	digest := quickxorhash.New()
	mw := io.MultiWriter(out, digest)

	_, err = io.Copy(mw, bw.WrapReader(ctx, in))
	closeErr := out.Close()
	if err != nil {
		os.Remove(dst)
		return err
	}
	if closeErr != nil {
		os.Remove(dst)
		return closeErr
	}

	if hex.EncodeToString(digest.Sum(nil)) != want {
		os.Remove(dst)
		return ErrChecksumMismatch
	}

	return nil
}

// rangeCandidates builds the Range Planner's candidate list (§4.2.2 step
// 12): the -old.partial rescue file (if a prior partial download large
// enough to be worth delta-matching exists) and the current on-disk name.
func (w *Worker) rangeCandidates(name, tmpPath string) []rangeplan.Candidate {
	var candidates []rangeplan.Candidate

	if fi, err := os.Stat(tmpPath); err == nil && fi.Size() >= w.cfg.MinSizeForChecksums {
		oldPath := name + "-old" + partialSuffix
		if err := os.Rename(tmpPath, oldPath); err == nil {
			candidates = append(candidates, rangeplan.Candidate{Path: oldPath, Size: fi.Size()})
		}
	}

	if fi, err := os.Stat(name); err == nil {
		candidates = append(candidates, rangeplan.Candidate{Path: name, Size: fi.Size()})
	}

	return candidates
}

// executePlan opens tmpPath write+create+truncate and streams every
// planned range into it in order, updating digest as it goes. Each chunk
// re-checks the required-status gate and the per-download stop handle.
func (w *Worker) executePlan(
	ctx context.Context,
	plan []rangeplan.Range,
	hosts []string,
	reqPath, tmpPath string,
	digest hash.Hash,
	handle *StopHandle,
) error {
	out, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("downloader: download: opening temp file: %w", err)
	}
	defer out.Close()

	for _, r := range plan {
		if handle.Stopped() {
			return ErrCancelled
		}
		if !w.gate.Met() {
			return fmt.Errorf("downloader: download: required status cleared mid-transfer")
		}

		var src io.ReadCloser
		switch r.Kind {
		case rangeplan.Transfer:
			src, err = w.openTransferRange(ctx, hosts, reqPath, r.Offset, r.Length)
		case rangeplan.Copy:
			src, err = openCopyRange(r.SourcePath, r.SourceOffset)
		}
		if err != nil {
			return err
		}

		if err := w.streamRange(ctx, out, src, r, digest, handle); err != nil {
			src.Close()
			return err
		}
		src.Close()
	}

	if err := out.Sync(); err != nil {
		return fmt.Errorf("downloader: download: fsync temp file: %w", err)
	}

	return nil
}

// streamRange copies one planned range in COPY_BUFFER_SIZE chunks, each
// chunk updating the rolling digest, admission byte counters, and
// re-checking cancellation and the required-status gate.
func (w *Worker) streamRange(ctx context.Context, out *os.File, src io.Reader, r rangeplan.Range, digest hash.Hash, handle *StopHandle) error {
	if _, err := out.Seek(r.Offset, io.SeekStart); err != nil {
		return fmt.Errorf("downloader: download: seeking temp file: %w", err)
	}

	limited := w.bw.WrapReader(ctx, src)
	buf := make([]byte, int(w.cfg.CopyBufferSize))

	var remaining int64 = r.Length
	for remaining > 0 {
		if handle.Stopped() {
			return ErrCancelled
		}
		if !w.gate.Met() {
			return fmt.Errorf("downloader: download: required status cleared mid-transfer")
		}

		chunkLen := int64(len(buf))
		if remaining < chunkLen {
			chunkLen = remaining
		}

		n, readErr := io.ReadFull(limited, buf[:chunkLen])
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("downloader: download: writing temp file: %w", werr)
			}
			digest.Write(buf[:n])
			w.admission.AddBytesDownloaded(int64(n))
			remaining -= int64(n)
		}

		if readErr != nil {
			return fmt.Errorf("downloader: download: reading range: %w", readErr)
		}
	}

	return nil
}

// openTransferRange connects to the first host in hosts that answers a
// byte-range GET for [offset, offset+length).
func (w *Worker) openTransferRange(ctx context.Context, hosts []string, path string, offset, length int64) (io.ReadCloser, error) {
	var lastErr error
	for _, host := range hosts {
		rc, err := w.remote.FetchRange(ctx, host, path, offset, length)
		if err == nil {
			return rc, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: no host answered: %w", ErrNetTempFail, lastErr)
}

// openCopyRange opens a local candidate file positioned at offset.
func openCopyRange(path string, offset int64) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	return f, nil
}

// hashFileIfExists computes the whole-file QuickXorHash checksum of path,
// returning (checksum, size, err); err is non-nil (including fs.ErrNotExist)
// whenever the file can't be fully read.
func hashFileIfExists(path string) (checksum string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", 0, err
	}

	digest := quickxorhash.New()
	if _, err := io.Copy(digest, f); err != nil {
		return "", 0, err
	}

	return hex.EncodeToString(digest.Sum(nil)), fi.Size(), nil
}
