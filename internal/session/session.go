// Package session owns the recording lifecycle: the Idle/Recording state
// machine, the poll loop that periodically computes statistics, and the
// fan-out of computed statistics to subscribers.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/apmlive/apmlive-go-rewrite/internal/ledger"
	"github.com/apmlive/apmlive-go-rewrite/internal/stats"
	"github.com/apmlive/apmlive-go-rewrite/internal/telemetry"
)

// ErrNotRecording is returned by Record when no session is active.
var ErrNotRecording = errors.New("no active recording session")

// State is the session lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	if s == StateRecording {
		return "recording"
	}
	return "idle"
}

// Subscriber receives each poll tick's statistics. The value is immutable;
// subscribers must not block for long, they run on the poll goroutine.
type Subscriber func(stats.Statistics)

// Summary describes a finished session, handed to the stop callback.
type Summary struct {
	ID        uuid.UUID
	StartedAt time.Time
	EndedAt   time.Time
	Final     stats.Statistics
}

// Session coordinates the ledger, the engine and the poll loop. One session
// is active at a time; starting while recording implicitly resets.
type Session struct {
	ledger *ledger.Ledger
	engine *stats.Engine

	state atomic.Int32

	mu       sync.Mutex
	id       uuid.UUID
	start    time.Time
	subs     []Subscriber
	onStop   func(Summary)
	interval atomic.Int64 // poll interval in nanoseconds

	last atomic.Value // stats.Statistics, last known good
}

// New creates an idle session around the given ledger.
func New(l *ledger.Ledger, interval time.Duration) *Session {
	s := &Session{
		ledger: l,
		engine: stats.NewEngine(l),
	}
	s.interval.Store(int64(interval))
	s.last.Store(stats.Statistics{})
	return s
}

// Subscribe registers a statistics consumer for every poll tick.
func (s *Session) Subscribe(fn Subscriber) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// SetOnStop registers a callback invoked with the final statistics when a
// session ends. Used to persist session history.
func (s *Session) SetOnStop(fn func(Summary)) {
	s.mu.Lock()
	s.onStop = fn
	s.mu.Unlock()
}

// Start begins recording. If a session is already active it is implicitly
// reset: its events and total are discarded and a fresh session begins.
func (s *Session) Start() uuid.UUID {
	s.mu.Lock()
	if State(s.state.Load()) == StateRecording {
		log.Info().Str("session", s.id.String()).Msg("Restart requested while recording; resetting session")
	}
	s.ledger.Reset()
	s.id = uuid.New()
	s.start = time.Now()
	s.state.Store(int32(StateRecording))
	s.last.Store(stats.Statistics{})
	id := s.id
	s.mu.Unlock()

	telemetry.SessionsStartedTotal.Inc()
	log.Info().Str("session", id.String()).Msg("Recording session started")
	return id
}

// Stop ends the active session and returns its final statistics. Stopping an
// idle session is a no-op returning the last known statistics. In-flight
// exports are unaffected.
func (s *Session) Stop() stats.Statistics {
	s.mu.Lock()
	if State(s.state.Load()) != StateRecording {
		s.mu.Unlock()
		return s.Latest()
	}
	now := time.Now()
	final := s.engine.Compute(s.start, now)
	summary := Summary{ID: s.id, StartedAt: s.start, EndedAt: now, Final: final}
	onStop := s.onStop
	s.state.Store(int32(StateIdle))
	s.last.Store(final)
	s.mu.Unlock()

	log.Info().
		Str("session", summary.ID.String()).
		Uint64("totalActions", final.TotalActions).
		Float64("averageAPM", final.AverageAPM).
		Msg("Recording session stopped")

	if onStop != nil {
		onStop(summary)
	}
	return final
}

// Reset clears the ledger and, if recording, restarts the session clock.
func (s *Session) Reset() {
	s.mu.Lock()
	s.ledger.Reset()
	if State(s.state.Load()) == StateRecording {
		s.start = time.Now()
	}
	s.last.Store(stats.Statistics{})
	s.mu.Unlock()
	log.Info().Msg("Session statistics reset")
}

// Record forwards a captured event to the ledger. Events arriving while idle
// are rejected with ErrNotRecording.
func (s *Session) Record(t time.Time) error {
	if State(s.state.Load()) != StateRecording {
		telemetry.RecordActionRejected("not_recording")
		return ErrNotRecording
	}
	if err := s.ledger.Record(t); err != nil {
		telemetry.RecordActionRejected("timestamp_regression")
		return err
	}
	telemetry.ActionsRecordedTotal.Inc()
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Latest returns the most recently computed statistics. The live display
// keeps showing these when a compute tick fails.
func (s *Session) Latest() stats.Statistics {
	return s.last.Load().(stats.Statistics)
}

// SetPollInterval adjusts the poll cadence; the running loop picks it up on
// its next tick.
func (s *Session) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.interval.Store(int64(d))
	}
}

// SetWindow adjusts the ledger retention window at runtime.
func (s *Session) SetWindow(d time.Duration) {
	if d > 0 {
		s.ledger.SetWindow(d)
	}
}

// Run drives the poll loop until the context is cancelled. Each tick computes
// statistics and fans them out; a panicking subscriber or compute fault is
// recovered so the loop (and the last known-good display) survives.
func (s *Session) Run(ctx context.Context) error {
	interval := time.Duration(s.interval.Load())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick()
			if next := time.Duration(s.interval.Load()); next != interval {
				interval = next
				ticker.Reset(interval)
				log.Debug().Dur("interval", interval).Msg("Poll interval updated")
			}
		}
	}
}

func (s *Session) tick() {
	defer func() {
		if r := recover(); r != nil {
			telemetry.PollPanicsTotal.Inc()
			log.Error().Interface("panic", r).Msg("Recovered panic in statistics poll tick")
		}
	}()

	telemetry.PollTicksTotal.Inc()
	if State(s.state.Load()) != StateRecording {
		return
	}

	s.mu.Lock()
	start := s.start
	subs := s.subs
	s.mu.Unlock()

	computed := s.engine.Compute(start, time.Now())
	s.last.Store(computed)
	for _, fn := range subs {
		fn(computed)
	}
}
