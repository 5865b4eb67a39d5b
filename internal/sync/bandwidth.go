package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/time/rate"

	"github.com/tonimelisma/gphotos-sync/internal/config"
)

// burstMultiplier sets the token bucket burst relative to the per-second rate.
const burstMultiplier = 2

// BandwidthLimiter caps the aggregate upload rate. A nil *BandwidthLimiter
// means unlimited and is safe to use.
type BandwidthLimiter struct {
	limiter *rate.Limiter
}

// NewBandwidthLimiter creates a limiter from a bandwidth_limit string such as
// "5MB/s". Returns nil for "0" or empty (unlimited).
func NewBandwidthLimiter(bandwidthLimit string, logger *slog.Logger) (*BandwidthLimiter, error) {
	bytesPerSec, err := parseBandwidthRate(bandwidthLimit)
	if err != nil {
		return nil, fmt.Errorf("sync: bandwidth limit %q: %w", bandwidthLimit, err)
	}

	if bytesPerSec == 0 {
		return nil, nil //nolint:nilnil // nil limiter = unlimited
	}

	burst := int(bytesPerSec) * burstMultiplier

	logger.Info("upload bandwidth limited",
		slog.Int64("bytes_per_sec", bytesPerSec),
		slog.Int("burst", burst),
	)

	return &BandwidthLimiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}, nil
}

// parseBandwidthRate parses "5MB/s", "100KB/s", "0" into bytes per second.
func parseBandwidthRate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	normalized := s
	if strings.HasSuffix(strings.ToLower(normalized), "/s") {
		normalized = normalized[:len(normalized)-len("/s")]
	}

	n, err := config.ParseSize(normalized)
	if err != nil {
		return 0, fmt.Errorf("invalid bandwidth rate %q: %w", s, err)
	}

	return n, nil
}

// WrapReadSeeker returns rs throttled to the limiter. Seeking passes
// through untouched so a retried upload can rewind its body.
func (bl *BandwidthLimiter) WrapReadSeeker(ctx context.Context, rs io.ReadSeeker) io.ReadSeeker {
	if bl == nil {
		return rs
	}

	return &rateLimitedReadSeeker{rs: rs, limiter: bl.limiter, ctx: ctx}
}

type rateLimitedReadSeeker struct {
	rs      io.ReadSeeker
	limiter *rate.Limiter
	ctx     context.Context
}

func (r *rateLimitedReadSeeker) Read(p []byte) (int, error) {
	n, err := r.rs.Read(p)
	if n > 0 {
		if waitErr := waitN(r.ctx, r.limiter, n); waitErr != nil {
			return n, waitErr
		}
	}

	return n, err
}

func (r *rateLimitedReadSeeker) Seek(offset int64, whence int) (int64, error) {
	return r.rs.Seek(offset, whence)
}

// waitN consumes n tokens in burst-sized slices; WaitN rejects requests
// larger than the burst.
func waitN(ctx context.Context, limiter *rate.Limiter, n int) error {
	burst := limiter.Burst()

	for n > 0 {
		take := min(n, burst)

		if err := limiter.WaitN(ctx, take); err != nil {
			return err
		}

		n -= take
	}

	return nil
}
