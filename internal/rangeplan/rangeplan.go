// Package rangeplan implements the Range Planner (C4): given a target
// file's size, server-supplied block hashes, and a set of candidate local
// files, it produces an ordered sequence of byte ranges tagged TRANSFER
// (fetch from the server) or COPY (reuse bytes already on disk).
package rangeplan

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/tonimelisma/syncengine/pkg/quickxorhash"
)

// Kind tags a planned range as either a network fetch or a local copy.
type Kind int

const (
	Transfer Kind = iota
	Copy
)

// Range is one segment of a download plan. For a Copy range, SourcePath and
// SourceOffset name where the bytes come from; for a Transfer range they
// are unset.
type Range struct {
	Kind         Kind
	Offset       int64
	Length       int64
	SourcePath   string
	SourceOffset int64
}

// BlockHash is one block of the target file's server-side content
// fingerprint, in ascending offset order and covering the file with no
// gaps (the final block may be shorter than BlockSize).
type BlockHash struct {
	Offset int64
	Length int64
	Hash   string // hex-encoded QuickXorHash digest
}

// Planner produces range plans using a fixed block size to align candidate
// comparisons against the server's block hash list.
type Planner struct {
	blockSize           int64
	minSizeForChecksums int64
}

// New constructs a Planner. blockSize is the fixed comparison window;
// minSizeForChecksums is the MIN_SIZE_FOR_CHECKSUMS tunable below which
// Plan always returns a single whole-file Transfer range.
func New(blockSize, minSizeForChecksums int64) *Planner {
	return &Planner{blockSize: blockSize, minSizeForChecksums: minSizeForChecksums}
}

// Candidate is a local file the planner may copy ranges from.
type Candidate struct {
	Path string
	Size int64
}

// Plan computes the range decomposition for a target of the given size and
// server block hashes, against the given candidate local files. Candidates
// are tried in order; the first one whose block at a given position
// matches wins that range. Consecutive Copy blocks that read contiguous
// bytes of the same candidate are merged into one range.
func (p *Planner) Plan(ctx context.Context, targetSize int64, serverBlocks []BlockHash, candidates []Candidate) ([]Range, error) {
	if targetSize < p.minSizeForChecksums || len(serverBlocks) == 0 {
		return []Range{{Kind: Transfer, Offset: 0, Length: targetSize}}, nil
	}

	candidateIndex := make([]map[string]int64, len(candidates))
	for i, c := range candidates {
		idx, err := p.hashCandidateBlocks(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("rangeplan: hashing candidate %s: %w", c.Path, err)
		}
		candidateIndex[i] = idx
	}

	var ranges []Range
	var pendingGapStart int64 = -1
	var pendingGapLen int64

	flushGap := func() {
		if pendingGapStart >= 0 && pendingGapLen > 0 {
			ranges = append(ranges, Range{Kind: Transfer, Offset: pendingGapStart, Length: pendingGapLen})
		}
		pendingGapStart = -1
		pendingGapLen = 0
	}

	for _, block := range serverBlocks {
		matched := false

		for i, idx := range candidateIndex {
			srcOffset, ok := idx[block.Hash]
			if !ok {
				continue
			}

			flushGap()
			matched = true
			if n := len(ranges); n > 0 {
				last := &ranges[n-1]
				if last.Kind == Copy && last.SourcePath == candidates[i].Path &&
					last.Offset+last.Length == block.Offset && last.SourceOffset+last.Length == srcOffset {
					last.Length += block.Length
					break
				}
			}
			ranges = append(ranges, Range{
				Kind:         Copy,
				Offset:       block.Offset,
				Length:       block.Length,
				SourcePath:   candidates[i].Path,
				SourceOffset: srcOffset,
			})

			break
		}

		if matched {
			continue
		}

		if pendingGapStart < 0 {
			pendingGapStart = block.Offset
		}
		pendingGapLen += block.Length
	}

	flushGap()

	return ranges, nil
}

// hashCandidateBlocks partitions a candidate file into blockSize-aligned
// blocks and hashes each with QuickXorHash, the same fast streaming digest
// used to verify small chunks elsewhere in the engine. Only the first
// occurrence of a given hash is kept, so a candidate with repeated block
// content still yields a deterministic source offset.
func (p *Planner) hashCandidateBlocks(ctx context.Context, c Candidate) (map[string]int64, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	index := make(map[string]int64)
	buf := make([]byte, p.blockSize)

	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, readErr := io.ReadFull(f, buf)
		if n > 0 {
			h := quickxorhash.New()
			h.Write(buf[:n])
			sum := hex.EncodeToString(h.Sum(nil))

			if _, exists := index[sum]; !exists {
				index[sum] = offset
			}

			offset += int64(n)
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return nil, readErr
		}
	}

	return index, nil
}

// HashBlocks partitions size bytes read from r into blockSize-aligned
// blocks and returns their QuickXorHash digests, in offset order: the same
// shape as the server-supplied block hash list, built from local content.
func HashBlocks(r io.Reader, size, blockSize int64) ([]BlockHash, error) {
	var blocks []BlockHash
	buf := make([]byte, blockSize)

	var offset int64
	for offset < size {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			h := quickxorhash.New()
			h.Write(buf[:n])
			blocks = append(blocks, BlockHash{
				Offset: offset,
				Length: int64(n),
				Hash:   hex.EncodeToString(h.Sum(nil)),
			})
			offset += int64(n)
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	return blocks, nil
}
