// Package stats derives APM statistics from ledger snapshots.
package stats

import (
	"fmt"
	"time"
)

// Statistics is an immutable value object describing a session at one instant.
// It is recomputed on every request and never mutated after creation.
type Statistics struct {
	CurrentAPM       float64   `json:"current_apm"`
	AverageAPM       float64   `json:"average_apm"`
	ActionsPerSecond float64   `json:"actions_per_second"`
	TotalActions     uint64    `json:"total_actions"`
	SessionSeconds   float64   `json:"session_seconds"`
	Timestamp        time.Time `json:"timestamp"`
}

// SessionDuration returns the session duration as a time.Duration.
func (s Statistics) SessionDuration() time.Duration {
	return time.Duration(s.SessionSeconds * float64(time.Second))
}

// FormatSessionTime renders the session duration as HH:MM:SS.
func (s Statistics) FormatSessionTime() string {
	total := int64(s.SessionSeconds)
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
