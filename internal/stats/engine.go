package stats

import (
	"sort"
	"time"

	"github.com/apmlive/apmlive-go-rewrite/internal/ledger"
)

// apsSlice is the trailing interval over which actions-per-second is counted.
const apsSlice = time.Second

// Engine computes statistics from a consistent view of the ledger. All
// arithmetic happens on the private snapshot, outside the ledger's lock.
type Engine struct {
	ledger *ledger.Ledger
}

// NewEngine creates an engine reading from the given ledger.
func NewEngine(l *ledger.Ledger) *Engine {
	return &Engine{ledger: l}
}

// Compute derives statistics for the session at the given instant. An empty
// ledger or a zero-length session yields all-zero statistics, never an error:
// an idle user and a just-started session are ordinary states.
func (e *Engine) Compute(sessionStart, now time.Time) Statistics {
	out := Statistics{Timestamp: now}
	if sessionStart.IsZero() || now.Before(sessionStart) {
		return out
	}

	events, total := e.ledger.Snapshot(now)
	window := e.ledger.Window()

	out.TotalActions = total
	out.SessionSeconds = now.Sub(sessionStart).Seconds()

	// Events in the last one-second slice; the snapshot is ordered, so a
	// binary search finds the boundary.
	apsCutoff := now.Add(-apsSlice)
	apsIdx := sort.Search(len(events), func(i int) bool {
		return events[i].After(apsCutoff)
	})
	out.ActionsPerSecond = float64(len(events) - apsIdx)

	// Rolling rate over the retention window, extrapolated to per-minute.
	if windowSecs := window.Seconds(); windowSecs > 0 {
		out.CurrentAPM = float64(len(events)) * 60 / windowSecs
	}

	if out.SessionSeconds > 0 {
		out.AverageAPM = float64(total) * 60 / out.SessionSeconds
	}
	return out
}
