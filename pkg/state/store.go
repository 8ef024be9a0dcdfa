// Package state owns the authoritative robot state.
//
// All mutations go through one mutex, so concurrent commands serialize and the
// version counter advances by exactly one per accepted mutation. Readers get
// deep copies; subscribers get diffs carrying only changed fields.
package state

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-alzar/internal/log"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithInitial overrides the process-start state. Version is taken as given.
func WithInitial(rs RobotState) Option {
	return func(s *Store) {
		s.state = rs.Clone()
	}
}

// Store is the single source of truth for RobotState.
type Store struct {
	mu      sync.Mutex
	state   RobotState
	subs    map[uint64]*Subscription
	nextSub uint64

	droneClaimed bool
	logger       *slog.Logger
}

// New creates a Store holding DefaultState unless overridden.
func New(opts ...Option) (*Store, error) {
	s := &Store{
		state: DefaultState(),
		subs:  make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.OrDefault(s.logger, "state")

	if err := validateState(s.state); err != nil {
		return nil, fmt.Errorf("state: invalid initial state: %w", err)
	}
	return s, nil
}

func validateState(rs RobotState) error {
	m := Mutation{
		FieldMode:         rs.Mode,
		FieldCamera:       rs.Camera,
		FieldGPS:          rs.GPS,
		FieldBatteryRobot: rs.BatteryRobot,
		FieldBatteryDrone: rs.BatteryDrone,
		FieldDrone:        rs.Drone,
		FieldDirection:    rs.Direction,
	}
	_, err := normalize(m, true)
	return err
}

// Apply validates and applies m atomically, returning the new version.
// A rejected mutation leaves the state and version untouched.
// An accepted mutation always bumps the version, even when no value changed.
func (s *Store) Apply(m Mutation) (uint64, error) {
	changes, err := normalize(m, false)
	if err != nil {
		return 0, err
	}
	return s.commit(changes), nil
}

// commit applies already-normalized changes under the lock.
func (s *Store) commit(changes map[Field]any) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(changes)
}

func (s *Store) commitLocked(changes map[Field]any) uint64 {
	diff := Diff{Changes: make(map[Field]any, len(changes))}
	for f, v := range changes {
		if assign(&s.state, f, v) {
			diff.Changes[f] = diffValue(v)
		}
	}
	s.state.Version++
	diff.Version = s.state.Version

	s.logger.Debug("state applied", "version", diff.Version, "fields", diff.Fields())
	s.publishLocked(diff)
	return diff.Version
}

// Snapshot returns a point-in-time deep copy of the state.
func (s *Store) Snapshot() RobotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Version returns the current version.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Version
}

// Mode returns the current mode.
func (s *Store) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Mode
}

// Subscription is a stream of diffs from a Store.
// Delivery is non-blocking: when the buffer is full the diff is dropped and
// counted, and the subscriber can detect the gap from Diff.Version.
type Subscription struct {
	C <-chan Diff

	ch      chan Diff
	id      uint64
	store   *Store
	dropped uint64 // guarded by store.mu
	closed  bool   // guarded by store.mu
}

// Subscribe registers a diff subscriber with the given buffer size.
func (s *Store) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Diff, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	sub := &Subscription{C: ch, ch: ch, id: s.nextSub, store: s}
	s.subs[sub.id] = sub
	return sub
}

// SubscribeWithSnapshot atomically registers a subscriber and returns the
// snapshot it is based on, so no diff between the two is lost or duplicated.
func (s *Store) SubscribeWithSnapshot(buffer int) (*Subscription, RobotState) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Diff, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	sub := &Subscription{C: ch, ch: ch, id: s.nextSub, store: s}
	s.subs[sub.id] = sub
	return sub, s.state.Clone()
}

func (s *Store) publishLocked(d Diff) {
	for _, sub := range s.subs {
		select {
		case sub.ch <- d:
		default:
			sub.dropped++
			if sub.dropped == 1 || sub.dropped%100 == 0 {
				s.logger.Warn("subscriber lagging, diff dropped", "subscriber", sub.id, "dropped", sub.dropped)
			}
		}
	}
}

// Dropped returns how many diffs were dropped for this subscriber.
func (sub *Subscription) Dropped() uint64 {
	sub.store.mu.Lock()
	defer sub.store.mu.Unlock()
	return sub.dropped
}

// Close unregisters the subscription and closes C. Safe to call more than once.
func (sub *Subscription) Close() {
	sub.store.mu.Lock()
	defer sub.store.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	delete(sub.store.subs, sub.id)
	close(sub.ch)
}

// DroneWriter is the only path that may change the drone field.
// It is handed out once, to the drone controller.
type DroneWriter struct {
	store *Store
}

// DroneWriter claims the drone writer. A second call returns ErrDroneWriterClaimed.
func (s *Store) DroneWriter() (*DroneWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.droneClaimed {
		return nil, ErrDroneWriterClaimed
	}
	s.droneClaimed = true
	return &DroneWriter{store: s}, nil
}

// Current returns the current drone status.
func (w *DroneWriter) Current() DroneStatus {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	return w.store.state.Drone
}

// Transition moves the drone from one status to another as a compare-and-swap.
// If the current status is not from, nothing changes and a *DroneMismatchError is returned.
func (w *DroneWriter) Transition(from, to DroneStatus) (uint64, error) {
	if !to.Valid() {
		return 0, &FieldError{Field: FieldDrone, Err: fmt.Errorf("%w: %q", ErrInvalidValue, to)}
	}
	s := w.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Drone != from {
		return 0, &DroneMismatchError{Expected: from, Actual: s.state.Drone}
	}
	return s.commitLocked(map[Field]any{FieldDrone: to}), nil
}
