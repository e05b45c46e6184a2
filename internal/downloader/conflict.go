package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxConflictSuffix is the upper bound on the numeric suffix tried during
// conflict-path collision avoidance. Exceeding it is implausible in
// practice; the timestamp-only base path is returned as a best-effort
// fallback.
const maxConflictSuffix = 1000

// resolveConflict implements step 15's displacement policy: name exists
// with content that would be overwritten by the just-verified download. If
// the existing content is a known older revision of fileID, it is
// overwritten silently (it is not a real edit, just a stale copy); if it is
// not, it is renamed to a conflicted name first so the user's edit is never
// lost (§4.10's revision-check supplement, §8 scenario S2).
//
// Returns only an error: the download is always published under name, since
// a conflict rename moves the *existing* file out of the way, not the
// incoming one.
func resolveConflict(ctx context.Context, remote RemoteClient, fileID int64, name, localChecksum string) error {
	isRevision, err := remote.IsRevisionOf(ctx, fileID, localChecksum)
	if err != nil {
		return fmt.Errorf("downloader: conflict: revision check: %w", err)
	}

	if isRevision {
		return nil
	}

	conflictPath := generateConflictPath(name)
	if err := os.Rename(name, conflictPath); err != nil {
		return fmt.Errorf("downloader: conflict: rename %q to %q: %w", name, conflictPath, err)
	}

	return nil
}

// generateConflictPath creates a conflict copy path using timestamp-based
// naming. Pattern: <stem>.conflict-<YYYYMMDD-HHMMSS><ext>
//
//   - report.docx  →  report.conflict-20260221-143052.docx
//   - .bashrc      →  .bashrc.conflict-20260221-143052
//   - Makefile     →  Makefile.conflict-20260221-143052
//
// Dotfiles are handled specially: filepath.Ext treats the entire name as
// the extension for a file whose only dot is the leading one, which would
// yield the wrong ".conflict-TIMESTAMP.bashrc" pattern.
func generateConflictPath(originalPath string) string {
	stem, ext := conflictStemExt(originalPath)
	ts := time.Now().UTC().Format("20060102-150405")

	base := stem + ".conflict-" + ts + ext
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return base
	}

	for i := 1; i <= maxConflictSuffix; i++ {
		candidate := fmt.Sprintf("%s.conflict-%s-%d%s", stem, ts, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}

	return base
}

// conflictStemExt splits originalPath into a (stem, ext) pair suitable for
// conflict-path generation. Dotfiles with no embedded extension are treated
// as having an empty extension so the conflict suffix is appended to the
// full filename rather than before the leading dot.
func conflictStemExt(originalPath string) (stem, ext string) {
	base := filepath.Base(originalPath)
	dir := originalPath[:len(originalPath)-len(base)]

	if strings.HasPrefix(base, ".") && strings.Count(base, ".") == 1 {
		return dir + base, ""
	}

	ext = filepath.Ext(base)
	stem = dir + base[:len(base)-len(ext)]

	return stem, ext
}
