// Package ledger provides the append-only record of input events backing the
// APM computation. A single mutex guards the event slice; the critical section
// on every path is bounded to a slice-header operation so the capture goroutine
// is never stalled behind statistics computation.
package ledger

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrTimestampRegression is returned when a recorded timestamp is earlier than
// the most recently recorded one. The ledger is left untouched.
var ErrTimestampRegression = errors.New("timestamp older than last recorded event")

// evictionSlack delays in-Record eviction until events are this much older
// than the window, so the common Record path stays a bare append.
const evictionSlack = 10 * time.Second

// minCompactLen is the backing-array size below which compaction is skipped.
const minCompactLen = 1024

// Ledger is an ordered, windowed collection of event timestamps plus a
// monotonic total that survives window eviction.
type Ledger struct {
	mu     sync.Mutex
	events []time.Time
	window time.Duration
	total  uint64

	// dead counts evicted slots still pinned in the backing array; once they
	// dominate, the live tail is copied out so the array can be collected.
	dead int
}

// New creates a ledger retaining events for the given trailing window.
func New(window time.Duration) *Ledger {
	return &Ledger{window: window}
}

// Record appends an event timestamp. Eviction of expired events is lazy and
// only kicks in once the oldest retained event is well past the window, so the
// hot path is an append under a briefly-held lock.
func (l *Ledger) Record(t time.Time) error {
	l.mu.Lock()
	if n := len(l.events); n > 0 && t.Before(l.events[n-1]) {
		l.mu.Unlock()
		return ErrTimestampRegression
	}
	l.events = append(l.events, t)
	l.total++
	if t.Sub(l.events[0]) > l.window+evictionSlack {
		l.evictLocked(t)
	}
	l.mu.Unlock()
	return nil
}

// Snapshot returns the events retained within the window relative to now,
// along with the monotonic total. The returned slice shares the ledger's
// backing array and must be treated as read-only; this is safe because the
// ledger only ever appends past the returned length and evicts by advancing
// the slice head, never by shifting elements in place.
func (l *Ledger) Snapshot(now time.Time) ([]time.Time, uint64) {
	l.mu.Lock()
	l.evictLocked(now)
	events := l.events
	total := l.total
	l.mu.Unlock()
	return events, total
}

// Reset clears all events and the monotonic total.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.events = nil
	l.total = 0
	l.dead = 0
	l.mu.Unlock()
}

// SetWindow adjusts the retention window at runtime. Shrinking takes effect on
// the next mutation or snapshot.
func (l *Ledger) SetWindow(window time.Duration) {
	l.mu.Lock()
	l.window = window
	l.mu.Unlock()
}

// Window returns the current retention window.
func (l *Ledger) Window() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.window
}

// Total returns the monotonic count of events recorded since the last reset.
func (l *Ledger) Total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// evictLocked drops events older than the window by advancing the slice head.
// Caller must hold l.mu. Outstanding snapshots still reference the old
// backing array, which is why eviction must never move elements.
func (l *Ledger) evictLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	idx := sort.Search(len(l.events), func(i int) bool {
		return l.events[i].After(cutoff)
	})
	if idx == 0 {
		return
	}
	l.events = l.events[idx:]
	l.dead += idx

	// Copying the live tail into a fresh array leaves prior snapshots
	// untouched while letting the old array be collected.
	if l.dead >= minCompactLen && l.dead > len(l.events) {
		fresh := make([]time.Time, len(l.events), len(l.events)+minCompactLen)
		copy(fresh, l.events)
		l.events = fresh
		l.dead = 0
	}
}
