// Package scheduler decides when an observation cycle may start.
//
// It owns a single slot. A request either takes the slot immediately or is
// rejected; nothing is queued. The only exception is a user question, which
// replaces an automatic cycle that has been admitted but has not started yet.
// A running cycle is never interrupted by a new request.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/teslashibe/go-alzar/internal/log"
	"github.com/teslashibe/go-alzar/pkg/observe"
	"github.com/teslashibe/go-alzar/pkg/state"
)

// Default timings.
const (
	DefaultTalkativeCooldown = 12 * time.Second
	DefaultNormalCooldown    = 30 * time.Second
	DefaultSpottedTTL        = 10 * time.Second
	DefaultTickInterval      = 15 * time.Second
)

// Reason explains a rejected request.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonBusy           Reason = "busy"
	ReasonModeSuppressed Reason = "mode_suppressed"
	ReasonCooldown       Reason = "cooldown"
	ReasonClosed         Reason = "closed"
)

// Admission is the scheduler's decision on a request. Rejection is expected
// flow control, not an error.
type Admission struct {
	Accepted bool   `json:"accepted"`
	Reason   Reason `json:"reason,omitempty"`
	CycleID  string `json:"cycle_id,omitempty"`

	// Done is closed when the admitted cycle has finished or was preempted.
	// Nil for rejected requests.
	Done <-chan struct{} `json:"-"`
}

// Runner executes one cycle.
type Runner interface {
	Run(ctx context.Context, t observe.Trigger) observe.Outcome
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, t observe.Trigger) observe.Outcome

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, t observe.Trigger) observe.Outcome {
	return f(ctx, t)
}

// ModeReader reports the current commentary mode.
type ModeReader interface {
	Mode() state.Mode
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCooldowns sets the per-mode cooldown after a successful cycle.
func WithCooldowns(talkative, normal time.Duration) Option {
	return func(s *Scheduler) {
		s.cooldowns[state.ModeTalkative] = talkative
		s.cooldowns[state.ModeNormal] = normal
	}
}

// WithSpottedTTL sets how long a spotted-object signal stays latched.
func WithSpottedTTL(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.spottedTTL = d
		}
	}
}

// WithTickInterval sets the timer trigger period used by Run.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithDispatch sets how admitted cycles are started. The default starts a
// goroutine. fn is called with the scheduler lock held and must not run f inline.
func WithDispatch(fn func(func())) Option {
	return func(s *Scheduler) {
		s.dispatch = fn
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithObserver sets a callback invoked after every cycle finishes.
func WithObserver(fn func(t observe.Trigger, out observe.Outcome)) Option {
	return func(s *Scheduler) {
		s.observer = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

type slotState int

const (
	slotIdle slotState = iota
	slotPending
	slotRunning
)

// Scheduler performs admission control for observation cycles.
type Scheduler struct {
	modes    ModeReader
	runner   Runner
	dispatch func(func())
	now      func() time.Time
	observer func(observe.Trigger, observe.Outcome)
	logger   *slog.Logger

	cooldowns  map[state.Mode]time.Duration
	spottedTTL time.Duration
	tick       time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	slot          slotState
	owner         string          // cycle id holding the slot
	ownerTrigger  observe.Trigger // trigger of the slot holder
	cancelPending context.CancelFunc
	lastSuccess   time.Time
	spottedUntil  time.Time
	spottedLabel  string
	stats         Stats
}

// New creates a scheduler that runs admitted cycles on runner.
func New(modes ModeReader, runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		modes:  modes,
		runner: runner,
		now:    time.Now,
		cooldowns: map[state.Mode]time.Duration{
			state.ModeTalkative: DefaultTalkativeCooldown,
			state.ModeNormal:    DefaultNormalCooldown,
		},
		spottedTTL: DefaultSpottedTTL,
		tick:       DefaultTickInterval,
	}
	s.dispatch = func(f func()) { go f() }
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.OrDefault(s.logger, "scheduler")
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// RequestCycle decides whether t may start a cycle. Policy, in order:
//
//  1. A running cycle rejects everything with Busy. A pending automatic
//     cycle rejects automatic triggers but is replaced by a question.
//  2. Automatic triggers are suppressed in quiet mode, and in normal mode
//     unless a spotted signal is latched or the trigger itself is a sighting.
//  3. Automatic triggers within the mode's cooldown of the last successful
//     cycle are rejected with Cooldown.
//
// Questions skip 2 and 3.
func (s *Scheduler) RequestCycle(t observe.Trigger) Admission {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Requested++
	if s.ctx.Err() != nil {
		return s.rejectLocked(t, ReasonClosed)
	}
	now := s.now()

	switch s.slot {
	case slotRunning:
		return s.rejectLocked(t, ReasonBusy)
	case slotPending:
		if t.Automatic() || !s.ownerTrigger.Automatic() {
			return s.rejectLocked(t, ReasonBusy)
		}
		s.logger.Info("question preempts pending cycle", "preempted", s.owner, "trigger", s.ownerTrigger.Kind)
		s.cancelPending()
		s.stats.Preempted++
	}

	if t.Automatic() {
		mode := s.modes.Mode()
		switch mode {
		case state.ModeQuiet:
			return s.rejectLocked(t, ReasonModeSuppressed)
		case state.ModeNormal:
			if t.Kind == observe.KindTimer && !now.Before(s.spottedUntil) {
				return s.rejectLocked(t, ReasonModeSuppressed)
			}
		}
		if cd := s.cooldowns[mode]; !s.lastSuccess.IsZero() && now.Sub(s.lastSuccess) < cd {
			return s.rejectLocked(t, ReasonCooldown)
		}
	}

	id := ulid.Make().String()
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})

	s.slot = slotPending
	s.owner = id
	s.ownerTrigger = t
	s.cancelPending = cancel
	s.stats.Accepted++

	s.wg.Add(1)
	s.dispatch(func() { s.execute(ctx, cancel, id, t, done) })

	s.logger.Debug("cycle admitted", "cycle", id, "trigger", t.Kind)
	return Admission{Accepted: true, CycleID: id, Done: done}
}

func (s *Scheduler) rejectLocked(t observe.Trigger, r Reason) Admission {
	switch r {
	case ReasonBusy:
		s.stats.Busy++
	case ReasonModeSuppressed:
		s.stats.ModeSuppressed++
	case ReasonCooldown:
		s.stats.Cooldown++
	}
	s.logger.Debug("cycle rejected", "trigger", t.Kind, "reason", r)
	return Admission{Reason: r}
}

// execute runs an admitted cycle unless it was preempted before starting.
func (s *Scheduler) execute(ctx context.Context, cancel context.CancelFunc, id string, t observe.Trigger, done chan struct{}) {
	defer s.wg.Done()
	defer close(done)
	defer cancel()

	s.mu.Lock()
	if s.owner != id || ctx.Err() != nil {
		if s.owner == id {
			s.releaseLocked()
		}
		s.mu.Unlock()
		return
	}
	s.slot = slotRunning
	s.cancelPending = nil
	s.mu.Unlock()

	out := observe.Outcome{Status: observe.StatusFailed}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cycle panicked", "cycle", id, "panic", r)
			out = observe.Outcome{Status: observe.StatusFailed, Err: fmt.Errorf("scheduler: cycle panicked: %v", r)}
		}
		s.finish(id, t, out)
	}()
	out = s.runner.Run(ctx, t)
}

// finish releases the slot and records the outcome.
func (s *Scheduler) finish(id string, t observe.Trigger, out observe.Outcome) {
	s.mu.Lock()
	if s.owner == id {
		s.releaseLocked()
	}
	switch {
	case out.Succeeded():
		s.stats.Completed++
		s.lastSuccess = s.now()
		s.spottedUntil = time.Time{}
		s.spottedLabel = ""
	case out.Status == observe.StatusSkipped:
		s.stats.Skipped++
	case out.Status == observe.StatusCanceled:
		s.stats.Canceled++
	default:
		s.stats.Failed++
	}
	s.mu.Unlock()

	s.logger.Debug("cycle finished", "cycle", id, "trigger", t.Kind, "status", out.Status)
	if s.observer != nil {
		s.observer(t, out)
	}
}

func (s *Scheduler) releaseLocked() {
	s.slot = slotIdle
	s.owner = ""
	s.ownerTrigger = observe.Trigger{}
	s.cancelPending = nil
}

// NoteSpotted latches the spotted-object signal for the configured TTL.
func (s *Scheduler) NoteSpotted(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spottedUntil = s.now().Add(s.spottedTTL)
	s.spottedLabel = label
}

// Spotted returns the latched label and whether the signal is active.
func (s *Scheduler) Spotted() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.now().Before(s.spottedUntil) {
		return s.spottedLabel, true
	}
	return "", false
}

// ResetCooldown forgets the last successful cycle time.
func (s *Scheduler) ResetCooldown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSuccess = time.Time{}
}

// Busy reports whether the slot is held.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot != slotIdle
}

// Run issues timer triggers every tick interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Info("timer started", "interval", s.tick)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RequestCycle(observe.Timer())
		}
	}
}

// Wait blocks until every admitted cycle has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Close cancels any in-flight cycle and waits for it to exit.
// Requests after Close are rejected with ReasonClosed.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

// Stats are admission and outcome counters.
type Stats struct {
	Requested      uint64    `json:"requested"`
	Accepted       uint64    `json:"accepted"`
	Busy           uint64    `json:"busy"`
	ModeSuppressed uint64    `json:"mode_suppressed"`
	Cooldown       uint64    `json:"cooldown"`
	Preempted      uint64    `json:"preempted"`
	Completed      uint64    `json:"completed"`
	Skipped        uint64    `json:"skipped"`
	Failed         uint64    `json:"failed"`
	Canceled       uint64    `json:"canceled"`
	Running        bool      `json:"running"`
	LastSuccess    time.Time `json:"last_success,omitempty"`
}

// Stats returns a copy of the counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Running = s.slot != slotIdle
	st.LastSuccess = s.lastSuccess
	return st
}
