// Package drone implements the drone lifecycle state machine.
//
//	docked -> launching -> airborne -> returning -> docked
//
// Each intermediate state waits for a hardware confirmation raced against a
// configurable timeout. Every transition is a compare-and-swap through the
// state store's drone writer, so it is broadcast with its version bump and a
// rejected command never leaves a partial transition behind.
package drone

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-alzar/internal/log"
	"github.com/teslashibe/go-alzar/pkg/state"
)

// Default confirmation timeouts.
const (
	DefaultLiftoffTimeout = 3 * time.Second
	DefaultLandingTimeout = 5 * time.Second
)

// Announcements appended to the commentary log on lifecycle edges.
const (
	MsgLaunching = "Drone launching."
	MsgAirborne  = "Drone airborne."
	MsgReturning = "Drone returning home."
	MsgDocked    = "Drone docked."
)

// Option configures a Controller.
type Option func(*Controller)

// WithConfirmer sets the hardware confirmation source. Without one the
// controller relies on the timeouts alone.
func WithConfirmer(c Confirmer) Option {
	return func(ctl *Controller) {
		ctl.confirmer = c
	}
}

// WithLiftoffTimeout sets how long to wait for liftoff before declaring airborne.
func WithLiftoffTimeout(d time.Duration) Option {
	return func(ctl *Controller) {
		if d > 0 {
			ctl.liftoffTimeout = d
		}
	}
}

// WithLandingTimeout sets how long to wait for landing before declaring docked.
func WithLandingTimeout(d time.Duration) Option {
	return func(ctl *Controller) {
		if d > 0 {
			ctl.landingTimeout = d
		}
	}
}

// WithAnnouncer sets a callback for lifecycle announcements.
func WithAnnouncer(fn func(text string)) Option {
	return func(ctl *Controller) {
		ctl.announce = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ctl *Controller) {
		ctl.logger = l
	}
}

// Controller governs drone lifecycle transitions.
type Controller struct {
	writer         *state.DroneWriter
	confirmer      Confirmer
	liftoffTimeout time.Duration
	landingTimeout time.Duration
	announce       func(string)
	logger         *slog.Logger

	// mu orders begin against Close
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a controller that owns the given drone writer.
func New(w *state.DroneWriter, opts ...Option) *Controller {
	c := &Controller{
		writer:         w,
		liftoffTimeout: DefaultLiftoffTimeout,
		landingTimeout: DefaultLandingTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = log.OrDefault(c.logger, "drone")
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Status returns the current drone status.
func (c *Controller) Status() state.DroneStatus {
	return c.writer.Current()
}

// Launch starts a launch. It is legal only while docked. The move to airborne
// happens asynchronously after liftoff is confirmed or the timeout elapses.
func (c *Controller) Launch(ctx context.Context) error {
	return c.begin(ctx, phase{
		command: CommandLaunch,
		from:    state.DroneDocked,
		via:     state.DroneLaunching,
		to:      state.DroneAirborne,
		timeout: c.liftoffTimeout,
		start:   MsgLaunching,
		done:    MsgAirborne,
		confirm: c.confirmLiftoff,
	})
}

// ReturnHome recalls the drone. It is legal only while airborne. The move to
// docked happens asynchronously after landing is confirmed or the timeout elapses.
func (c *Controller) ReturnHome(ctx context.Context) error {
	return c.begin(ctx, phase{
		command: CommandReturn,
		from:    state.DroneAirborne,
		via:     state.DroneReturning,
		to:      state.DroneDocked,
		timeout: c.landingTimeout,
		start:   MsgReturning,
		done:    MsgDocked,
		confirm: c.confirmLanding,
	})
}

// Wait blocks until no confirmation wait is in flight.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close abandons pending confirmation waits and waits for them to exit.
// A phase interrupted by Close stays in its intermediate state, and later
// commands fail with ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	c.cancel()
	c.mu.Unlock()
	c.wg.Wait()
}

type phase struct {
	command     Command
	from        state.DroneStatus
	via         state.DroneStatus
	to          state.DroneStatus
	timeout     time.Duration
	start, done string
	confirm     func(context.Context) error
}

type resetter interface {
	reset()
}

func (c *Controller) begin(ctx context.Context, p phase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if r, ok := c.confirmer.(resetter); ok {
		r.reset()
	}

	version, err := c.writer.Transition(p.from, p.via)
	if err != nil {
		var mm *state.DroneMismatchError
		if errors.As(err, &mm) {
			return &TransitionError{From: mm.Actual, Command: p.command}
		}
		return err
	}
	c.logger.Info("drone transition", "command", p.command, "from", p.from, "to", p.via, "version", version)
	c.say(p.start)

	c.wg.Add(1)
	go c.complete(p)
	return nil
}

// complete races the confirmation against the phase timeout, then finishes the transition.
func (c *Controller) complete(p phase) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(c.ctx, p.timeout)
	defer cancel()

	how := "timeout"
	if c.confirmer != nil {
		errCh := make(chan error, 1)
		go func() { errCh <- p.confirm(ctx) }()

		select {
		case err := <-errCh:
			if err == nil {
				how = "confirmed"
			} else if ctx.Err() == nil {
				c.logger.Warn("drone confirmation unavailable, waiting for timeout", "command", p.command, "error", err)
				<-ctx.Done()
			}
		case <-ctx.Done():
		}
	} else {
		<-ctx.Done()
	}

	if c.ctx.Err() != nil {
		c.logger.Info("drone phase abandoned", "command", p.command, "status", p.via)
		return
	}

	version, err := c.writer.Transition(p.via, p.to)
	if err != nil {
		c.logger.Error("drone completion failed", "command", p.command, "error", err)
		return
	}
	c.logger.Info("drone transition", "command", p.command, "from", p.via, "to", p.to, "via", how, "version", version)
	c.say(p.done)
}

func (c *Controller) confirmLiftoff(ctx context.Context) error {
	return c.confirmer.ConfirmLiftoff(ctx)
}

func (c *Controller) confirmLanding(ctx context.Context) error {
	return c.confirmer.ConfirmLanding(ctx)
}

func (c *Controller) say(text string) {
	if c.announce != nil {
		c.announce(text)
	}
}
