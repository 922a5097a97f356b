package capture

import (
	"context"
	"math/rand"
	"time"
)

// SyntheticSource emits events at roughly Rate per second with optional
// jitter. It backs demo mode and tests; a real deployment wires an OS input
// hook implementing Source instead.
type SyntheticSource struct {
	Rate   float64 // events per second, must be > 0
	Jitter float64 // 0..1, fraction of the base interval randomized
	rng    *rand.Rand
}

// NewSyntheticSource creates a generator with a fixed seed so demo runs are
// reproducible.
func NewSyntheticSource(rate, jitter float64) *SyntheticSource {
	return &SyntheticSource{
		Rate:   rate,
		Jitter: jitter,
		rng:    rand.New(rand.NewSource(1)),
	}
}

// Run emits events until the context is cancelled.
func (s *SyntheticSource) Run(ctx context.Context, emit func(time.Time)) error {
	if s.Rate <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	base := time.Duration(float64(time.Second) / s.Rate)

	timer := time.NewTimer(s.nextDelay(base))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-timer.C:
			emit(now)
			timer.Reset(s.nextDelay(base))
		}
	}
}

func (s *SyntheticSource) nextDelay(base time.Duration) time.Duration {
	if s.Jitter <= 0 {
		return base
	}
	spread := float64(base) * s.Jitter
	return base + time.Duration((s.rng.Float64()-0.5)*spread)
}
