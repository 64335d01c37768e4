// Package ratelimit implements the process-wide gate in front of every
// remote catalogue call. Two sliding windows apply in parallel, a burst
// cap over the trailing second and a sustained cap over a longer trailing
// window, plus a retry-after barrier raised whenever a provider answers
// with HTTP 429. All workers share one limiter so the aggregate request
// rate stays under the remote limits.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// DefaultBurst is the maximum number of permits in any trailing second.
	DefaultBurst = 3
	// DefaultSustained is the maximum number of permits in any trailing window.
	DefaultSustained = 90
	// DefaultWindow is the sustained window size.
	DefaultWindow = 30 * time.Second

	defaultMaxAttempts = 10
	defaultMaxRetries  = 5
	defaultBaseDelay   = 1 * time.Second
)

// Options configures a Limiter. Zero fields fall back to defaults.
type Options struct {
	Burst       int           // max permits in any trailing second
	Sustained   int           // max permits in any trailing Window
	Window      time.Duration // sustained window size
	MaxAttempts int           // permit acquisition rounds before giving up
	MaxRetries  int           // guarded call retries after a 429
	BaseDelay   time.Duration // backoff base when a 429 carries no Retry-After
}

func (o *Options) setDefaults() {
	if o.Burst <= 0 {
		o.Burst = DefaultBurst
	}
	if o.Sustained <= 0 {
		o.Sustained = DefaultSustained
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = defaultBaseDelay
	}
}

// Limiter grants permits under the dual sliding windows and the shared
// retry-after barrier.
type Limiter struct {
	mu      sync.Mutex
	window  *permitWindow
	barrier *Barrier
	opts    Options
	logger  *log.Logger
	limited atomic.Int64
}

// New creates a Limiter. The permit window starts empty so restarts never
// inherit stale counters.
func New(opts Options, logger *log.Logger) *Limiter {
	opts.setDefaults()
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Limiter{
		window:  newPermitWindow(),
		barrier: NewBarrier(),
		opts:    opts,
		logger:  logger,
	}
}

// Acquire blocks until a permit is available under both windows and the
// barrier, or ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	for attempt := 0; attempt < l.opts.MaxAttempts; attempt++ {
		if until, active := l.barrier.Until(); active {
			if err := sleepUntil(ctx, until); err != nil {
				return err
			}
			continue
		}

		now := time.Now()
		burstStart := now.Add(-time.Second)
		windowStart := now.Add(-l.opts.Window)

		l.mu.Lock()
		l.window.pruneBefore(windowStart)

		if l.window.countSince(burstStart) >= l.opts.Burst {
			oldest, ok := l.window.oldestSince(burstStart)
			l.mu.Unlock()
			if !ok {
				continue
			}
			if err := sleepUntil(ctx, oldest.Add(time.Second)); err != nil {
				return err
			}
			continue
		}

		if l.window.countSince(windowStart) >= l.opts.Sustained {
			oldest, ok := l.window.oldestSince(windowStart)
			l.mu.Unlock()
			if !ok {
				continue
			}
			if err := sleepUntil(ctx, oldest.Add(l.opts.Window)); err != nil {
				return err
			}
			continue
		}

		l.window.add(now)
		l.mu.Unlock()
		return nil
	}
	return fmt.Errorf("no rate limit permit after %d attempts", l.opts.MaxAttempts)
}

// Guard runs fn under a permit and retries it when the provider answers
// 429. Retry-After moves the shared barrier; the permit window is dropped
// because every worker has effectively been paused along with this call.
// Non-rate-limit errors are returned unchanged.
func (l *Limiter) Guard(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= l.opts.MaxRetries; attempt++ {
		if err := l.Acquire(ctx); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}

		var rlErr *RateLimitError
		if !errors.As(err, &rlErr) {
			return err
		}
		lastErr = err
		l.limited.Add(1)

		wait := time.Duration(rlErr.RetryAfter) * time.Second
		if wait <= 0 {
			wait = l.opts.BaseDelay*(1<<attempt) + time.Duration(rand.Int63n(int64(time.Second)))
		}
		until := l.barrier.Raise(wait)
		l.Reset()
		l.logger.Warn("provider rate limited",
			"retry_after", wait.String(),
			"barrier", until.Format(time.RFC3339),
			"attempt", attempt+1,
		)
	}
	return fmt.Errorf("rate limit retries exhausted after %d attempts: %w", l.opts.MaxRetries+1, lastErr)
}

// Reset drops every recorded permit. Called after a 429 so the paused
// window does not cause spurious over-limit sleeps once the barrier lifts.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.window.clear()
}

// Usage reports the permit counts currently inside the burst and
// sustained windows.
func (l *Limiter) Usage() (burst, sustained int) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.window.pruneBefore(now.Add(-l.opts.Window))
	return l.window.countSince(now.Add(-time.Second)), l.window.len()
}

// BarrierInfo returns the current retry-after barrier state, or nil when
// no barrier is active.
func (l *Limiter) BarrierInfo() *BarrierInfo {
	return l.barrier.Info()
}

// RaiseBarrier moves the shared barrier to now+wait unless it already sits
// later. Exposed for callers that observe a 429 outside Guard.
func (l *Limiter) RaiseBarrier(wait time.Duration) time.Time {
	l.limited.Add(1)
	return l.barrier.Raise(wait)
}

// LimitedCount reports how many 429 responses this limiter has observed
// since startup.
func (l *Limiter) LimitedCount() int64 {
	return l.limited.Load()
}

func sleepUntil(ctx context.Context, t time.Time) error {
	wait := time.Until(t)
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}
