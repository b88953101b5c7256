// Package resource provides global resource accounting for the bucket core:
// a cap on concurrent background merges, an IO throughput limit applied to
// merge output, and memory accounting for the block cache.
package resource

import (
	"context"
	"io"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for cache memory.
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// MaxBackgroundMerges is the maximum number of concurrent merges.
	// If 0, defaults to 1.
	MaxBackgroundMerges int64

	// IOLimitBytesPerSec is the maximum IO throughput for merge writes.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller manages global resources (memory, merge slots, IO).
// A nil *Controller is valid and imposes no limits.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	mergeSem *semaphore.Weighted

	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundMerges <= 0 {
		cfg.MaxBackgroundMerges = 1
	}

	c := &Controller{
		cfg:      cfg,
		mergeSem: semaphore.NewWeighted(cfg.MaxBackgroundMerges),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// TryAcquireMemory attempts to reserve cache memory without blocking.
// Returns true if acquired, false if the limit would be exceeded.
func (c *Controller) TryAcquireMemory(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}
	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return false
	}
	c.memUsed.Add(bytes)
	return true
}

// ReleaseMemory releases reserved cache memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current tracked memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireMergeSlot reserves a background merge slot, blocking while all
// slots are busy.
func (c *Controller) AcquireMergeSlot(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.mergeSem.Acquire(ctx, 1)
}

// ReleaseMergeSlot releases a background merge slot.
func (c *Controller) ReleaseMergeSlot() {
	if c == nil {
		return
	}
	c.mergeSem.Release(1)
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	return c.ioLimiter.WaitN(ctx, bytes)
}

// NewRateLimitedWriter wraps w so that writes respect the controller's IO
// limit. With no limit configured, w is returned unchanged.
func (c *Controller) NewRateLimitedWriter(ctx context.Context, w io.Writer) io.Writer {
	if c == nil || c.ioLimiter == nil {
		return w
	}
	return &rateLimitedWriter{ctx: ctx, c: c, w: w}
}

type rateLimitedWriter struct {
	ctx context.Context
	c   *Controller
	w   io.Writer
}

func (r *rateLimitedWriter) Write(p []byte) (int, error) {
	// The limiter burst equals the per-second budget; larger writes are
	// split so WaitN never exceeds it.
	burst := r.c.ioLimiter.Burst()
	for off := 0; off < len(p); off += burst {
		end := min(off+burst, len(p))
		if err := r.c.AcquireIO(r.ctx, end-off); err != nil {
			return off, err
		}
	}
	return r.w.Write(p)
}
