// Package capture bridges input-event producers to the session ledger. The
// operating-system input hook lives outside this module; anything able to
// emit event timestamps implements Source.
package capture

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/apmlive/apmlive-go-rewrite/internal/session"
)

// Source produces input-event timestamps. Run blocks until the context is
// cancelled, calling emit once per detected input event. Implementations must
// not retain references into the session or ledger.
type Source interface {
	Run(ctx context.Context, emit func(time.Time)) error
}

// Recorder forwards events from a Source into the session. Events arriving
// while the session is idle are dropped, which is the normal state between
// recordings rather than a fault.
type Recorder struct {
	session *session.Session
}

// NewRecorder creates a recorder feeding the given session.
func NewRecorder(s *session.Session) *Recorder {
	return &Recorder{session: s}
}

// Run pumps the source until the context is cancelled.
func (r *Recorder) Run(ctx context.Context, src Source) error {
	return src.Run(ctx, func(t time.Time) {
		err := r.session.Record(t)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrNotRecording):
			// Expected while idle; already counted by the session.
		default:
			log.Warn().Err(err).Time("event", t).Msg("Dropped input event")
		}
	})
}
