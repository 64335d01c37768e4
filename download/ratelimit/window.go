package ratelimit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// permitEntry is one granted permit. Members carry a random suffix so
// permits taken in the same instant never collide.
type permitEntry struct {
	at     time.Time
	member string
}

// permitWindow is the shared timestamp set behind the limiter. Entries are
// appended in wall-clock order; callers synchronize access.
type permitWindow struct {
	entries []permitEntry
}

func newPermitWindow() *permitWindow {
	return &permitWindow{entries: make([]permitEntry, 0)}
}

// add records a permit granted at now and returns its member key.
func (w *permitWindow) add(now time.Time) string {
	member := fmt.Sprintf("%.6f-%s", float64(now.UnixNano())/1e9, uuid.NewString())
	w.entries = append(w.entries, permitEntry{at: now, member: member})
	return member
}

// pruneBefore drops entries at or before cutoff.
func (w *permitWindow) pruneBefore(cutoff time.Time) {
	valid := w.entries[:0]
	for _, e := range w.entries {
		if e.at.After(cutoff) {
			valid = append(valid, e)
		}
	}
	w.entries = valid
}

// countSince returns the number of entries strictly after cutoff.
func (w *permitWindow) countSince(cutoff time.Time) int {
	count := 0
	for _, e := range w.entries {
		if e.at.After(cutoff) {
			count++
		}
	}
	return count
}

// oldestSince returns the earliest entry strictly after cutoff.
func (w *permitWindow) oldestSince(cutoff time.Time) (time.Time, bool) {
	for _, e := range w.entries {
		if e.at.After(cutoff) {
			return e.at, true
		}
	}
	return time.Time{}, false
}

func (w *permitWindow) clear() {
	w.entries = w.entries[:0]
}

func (w *permitWindow) len() int {
	return len(w.entries)
}
