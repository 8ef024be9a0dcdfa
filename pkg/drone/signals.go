package drone

import (
	"context"
	"sync/atomic"
)

// Confirmer supplies hardware confirmations. Both methods block until the
// event is observed or ctx is done.
type Confirmer interface {
	ConfirmLiftoff(ctx context.Context) error
	ConfirmLanding(ctx context.Context) error
}

// Signals is a Confirmer fed by asynchronous hardware events, typically from
// the robot link. Each signal is latched until consumed; stale signals are
// cleared when a new phase starts.
type Signals struct {
	liftoff chan struct{}
	landing chan struct{}

	liftoffs atomic.Uint64
	landings atomic.Uint64
}

// NewSignals creates an empty signal set.
func NewSignals() *Signals {
	return &Signals{
		liftoff: make(chan struct{}, 1),
		landing: make(chan struct{}, 1),
	}
}

// Liftoff records a liftoff confirmation.
func (s *Signals) Liftoff() {
	s.liftoffs.Add(1)
	latch(s.liftoff)
}

// Landing records a landing confirmation.
func (s *Signals) Landing() {
	s.landings.Add(1)
	latch(s.landing)
}

// ConfirmLiftoff implements Confirmer.
func (s *Signals) ConfirmLiftoff(ctx context.Context) error {
	return await(ctx, s.liftoff)
}

// ConfirmLanding implements Confirmer.
func (s *Signals) ConfirmLanding(ctx context.Context) error {
	return await(ctx, s.landing)
}

// Counts returns how many liftoff and landing signals have been received.
func (s *Signals) Counts() (liftoffs, landings uint64) {
	return s.liftoffs.Load(), s.landings.Load()
}

func (s *Signals) reset() {
	drain(s.liftoff)
	drain(s.landing)
}

func latch(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func drain(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}

func await(ctx context.Context, ch chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
