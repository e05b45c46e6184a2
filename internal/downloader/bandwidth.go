package downloader

import (
	"context"
	"io"
	"log/slog"

	"golang.org/x/time/rate"
)

// burstMultiplier controls the token bucket burst size relative to the
// per-second rate. A 2x burst allows short savings to be spent on the next
// chunk without reducing sustained throughput below the configured limit.
const burstMultiplier = 2

// BandwidthLimiter shares one rate limiter across every concurrent
// download's TRANSFER and COPY ranges, so aggregate throughput (network
// reads and local copy reads alike) stays within bandwidth_limit.
type BandwidthLimiter struct {
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewBandwidthLimiter creates a limiter from a parsed bytes/sec rate.
// Returns nil if bytesPerSec is 0 (unlimited).
func NewBandwidthLimiter(bytesPerSec int64, logger *slog.Logger) *BandwidthLimiter {
	if bytesPerSec <= 0 {
		return nil
	}

	burst := int(bytesPerSec) * burstMultiplier
	limiter := rate.NewLimiter(rate.Limit(bytesPerSec), burst)

	logger.Info("downloader: bandwidth limiter created",
		slog.Int64("bytes_per_sec", bytesPerSec),
		slog.Int("burst", burst),
	)

	return &BandwidthLimiter{limiter: limiter, logger: logger}
}

// WrapReader returns a rate-limited io.Reader. If bl is nil, returns r
// unchanged — used for both the network TRANSFER stream and the local COPY
// source, per the extension beyond network-only limiting.
func (bl *BandwidthLimiter) WrapReader(ctx context.Context, r io.Reader) io.Reader {
	if bl == nil {
		return r
	}

	return &rateLimitedReader{r: r, limiter: bl.limiter, ctx: ctx}
}

type rateLimitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (r *rateLimitedReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		if waitErr := waitN(r.limiter, r.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}

	return n, err
}

// waitN splits a large token request into burst-sized chunks. rate.Limiter.
// WaitN rejects requests exceeding the burst size, so we loop.
func waitN(limiter *rate.Limiter, ctx context.Context, n int) error {
	burst := limiter.Burst()

	for n > 0 {
		take := n
		if take > burst {
			take = burst
		}

		if err := limiter.WaitN(ctx, take); err != nil {
			return err
		}

		n -= take
	}

	return nil
}
