package ratelimit

import (
	"sync"
	"time"
)

// BarrierInfo holds information about an active retry-after barrier.
type BarrierInfo struct {
	Active              bool
	RetryAfterSeconds   int
	RetryAfterTimestamp int64
	DetectedAt          int64
}

// Barrier is the shared retry-after gate. While the barrier sits in the
// future no permit is granted anywhere in the process.
type Barrier struct {
	mu         sync.Mutex
	until      time.Time
	retryAfter time.Duration
	detectedAt time.Time
}

// NewBarrier creates a new barrier with no active gate.
func NewBarrier() *Barrier {
	return &Barrier{}
}

// Raise moves the barrier to now+wait unless it already sits later, and
// returns the effective barrier time. A shorter wait never lowers an
// existing barrier.
func (b *Barrier) Raise(wait time.Duration) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	candidate := now.Add(wait)
	if candidate.After(b.until) {
		b.until = candidate
		b.retryAfter = wait
		b.detectedAt = now
	}
	return b.until
}

// Until returns the barrier time and whether it is still ahead of now.
// Uses a single write lock to atomically check expiration and clear,
// avoiding a TOCTOU race where a Raise() between an unlock/re-lock could
// be incorrectly wiped.
func (b *Barrier) Until() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.until.IsZero() {
		return time.Time{}, false
	}
	if !time.Now().Before(b.until) {
		b.reset()
		return time.Time{}, false
	}
	return b.until, true
}

// Info returns the current barrier state for status reporting, or nil if
// expired or not active.
func (b *Barrier) Info() *BarrierInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.until.IsZero() {
		return nil
	}
	if !time.Now().Before(b.until) {
		b.reset()
		return nil
	}
	return &BarrierInfo{
		Active:              true,
		RetryAfterSeconds:   int(b.retryAfter / time.Second),
		RetryAfterTimestamp: b.until.Unix(),
		DetectedAt:          b.detectedAt.Unix(),
	}
}

// Clear drops the barrier.
func (b *Barrier) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *Barrier) reset() {
	b.until = time.Time{}
	b.retryAfter = 0
	b.detectedAt = time.Time{}
}
