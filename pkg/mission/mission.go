// Package mission is the command surface of the companion. It owns the state
// store, commentary log, drone controller, observation pipeline, scheduler and
// broadcaster, and turns dashboard commands and robot events into calls on them.
package mission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-alzar/internal/config"
	"github.com/teslashibe/go-alzar/internal/log"
	"github.com/teslashibe/go-alzar/pkg/commentary"
	"github.com/teslashibe/go-alzar/pkg/drone"
	"github.com/teslashibe/go-alzar/pkg/hub"
	"github.com/teslashibe/go-alzar/pkg/observe"
	"github.com/teslashibe/go-alzar/pkg/scheduler"
	"github.com/teslashibe/go-alzar/pkg/state"
)

// ErrInvalidCommand is returned for a command with a malformed argument.
var ErrInvalidCommand = errors.New("mission: invalid command")

// RobotLink carries intents to the physical robot. Sends are best-effort.
type RobotLink interface {
	SendMove(direction state.Direction) error
	SendDrone(cmd drone.Command) error
}

// SpottedFilter decides whether a detected object deserves commentary.
type SpottedFilter interface {
	Notable(label string, confidence float64, camera state.Camera) bool
}

// Deps are the collaborators a mission is built from. Camera, Vision and
// Language are required.
type Deps struct {
	Camera   observe.CameraSource
	Vision   observe.VisionService
	Language observe.LanguageService
	Geo      observe.GeoContext
	Speech   observe.SpeechOutput
	Topics   observe.TopicExtractor

	// Confirmer supplies liftoff and landing confirmations. Defaults to a
	// fresh Signals that the robot link can feed through Signals().
	Confirmer drone.Confirmer
	Robot     RobotLink
	Notable   SpottedFilter

	// HubObservers see every live message sent to dashboard clients.
	HubObservers []func(hub.Message)
	// CycleObserver is called after every cycle.
	CycleObserver func(observe.Trigger, observe.Outcome)

	Logger *slog.Logger
}

// Mission wires the core components together.
type Mission struct {
	cfg    config.Config
	logger *slog.Logger

	store     *state.Store
	log       *commentary.Log
	signals   *drone.Signals
	drone     *drone.Controller
	pipeline  *observe.Pipeline
	scheduler *scheduler.Scheduler
	hub       *hub.Hub

	robotMu sync.RWMutex
	robot   RobotLink
	notable SpottedFilter

	closeOnce sync.Once
}

// New builds a mission. A failure here means the process cannot start.
func New(deps Deps, cfg config.Config) (*Mission, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mission: %w", err)
	}
	m := &Mission{
		cfg:     cfg,
		logger:  log.OrDefault(deps.Logger, "mission"),
		robot:   deps.Robot,
		notable: deps.Notable,
	}

	store, err := state.New(state.WithLogger(deps.Logger))
	if err != nil {
		return nil, fmt.Errorf("mission: state store: %w", err)
	}
	m.store = store
	m.log = commentary.NewLog(cfg.LogMax)

	writer, err := store.DroneWriter()
	if err != nil {
		return nil, fmt.Errorf("mission: %w", err)
	}
	confirmer := deps.Confirmer
	if confirmer == nil {
		m.signals = drone.NewSignals()
		confirmer = m.signals
	} else if s, ok := confirmer.(*drone.Signals); ok {
		m.signals = s
	}
	m.drone = drone.New(writer,
		drone.WithConfirmer(confirmer),
		drone.WithLiftoffTimeout(cfg.LiftoffTimeout),
		drone.WithLandingTimeout(cfg.LandingTimeout),
		drone.WithAnnouncer(m.system),
		drone.WithLogger(deps.Logger),
	)

	m.pipeline, err = observe.New(observe.Deps{
		State:    store,
		Log:      m.log,
		Camera:   deps.Camera,
		Vision:   deps.Vision,
		Language: deps.Language,
		Geo:      deps.Geo,
		Speech:   deps.Speech,
		Topics:   deps.Topics,
	},
		observe.WithStageTimeout(cfg.StageTimeout),
		observe.WithRetryDelay(cfg.RetryDelay),
		observe.WithSpeechTimeout(cfg.SpeechTimeout),
		observe.WithLogger(deps.Logger),
	)
	if err != nil {
		return nil, fmt.Errorf("mission: %w", err)
	}

	schedOpts := []scheduler.Option{
		scheduler.WithCooldowns(cfg.TalkativeCooldown, cfg.NormalCooldown),
		scheduler.WithSpottedTTL(cfg.SpottedTTL),
		scheduler.WithTickInterval(cfg.TickInterval),
		scheduler.WithLogger(deps.Logger),
	}
	if deps.CycleObserver != nil {
		schedOpts = append(schedOpts, scheduler.WithObserver(deps.CycleObserver))
	}
	m.scheduler = scheduler.New(store, m.pipeline, schedOpts...)

	hubOpts := []hub.Option{
		hub.WithReplaySize(cfg.ReplaySize),
		hub.WithLogger(deps.Logger),
	}
	if obs := deps.HubObservers; len(obs) > 0 {
		hubOpts = append(hubOpts, hub.WithObserver(func(msg hub.Message) {
			for _, fn := range obs {
				fn(msg)
			}
		}))
	}
	m.hub = hub.New("dashboard", hub.Source{State: store, Log: m.log}, hubOpts...)
	return m, nil
}

// Run starts the broadcaster and the timer loop and blocks until ctx is done.
// In-flight work is stopped before it returns.
func (m *Mission) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		m.scheduler.Run(ctx)
	}()
	m.logger.Info("mission running", "mode", m.store.Mode(), "tick", m.cfg.TickInterval)
	wg.Wait()
	m.Close()
	m.logger.Info("mission stopped")
}

// Close cancels any running cycle and pending drone phase and waits for them.
func (m *Mission) Close() {
	m.closeOnce.Do(func() {
		m.scheduler.Close()
		m.drone.Close()
	})
}

// SetRobotLink replaces the robot link. Nil disconnects.
func (m *Mission) SetRobotLink(r RobotLink) {
	m.robotMu.Lock()
	m.robot = r
	m.robotMu.Unlock()
}

func (m *Mission) robotLink() RobotLink {
	m.robotMu.RLock()
	defer m.robotMu.RUnlock()
	return m.robot
}

// system appends a system announcement.
func (m *Mission) system(text string) {
	m.log.Append(commentary.SourceSystem, text)
}

// Store returns the state store.
func (m *Mission) Store() *state.Store { return m.store }

// Log returns the commentary log.
func (m *Mission) Log() *commentary.Log { return m.log }

// Hub returns the dashboard broadcaster.
func (m *Mission) Hub() *hub.Hub { return m.hub }

func (m *Mission) Scheduler() *scheduler.Scheduler { return m.scheduler }

func (m *Mission) Drone() *drone.Controller { return m.drone }

func (m *Mission) Pipeline() *observe.Pipeline { return m.pipeline }

// Signals returns the liftoff/landing signal source, or nil when an external
// confirmer was supplied.
func (m *Mission) Signals() *drone.Signals { return m.signals }

// Snapshot returns the current state.
func (m *Mission) Snapshot() state.RobotState {
	return m.store.Snapshot()
}

// Recent returns the last n commentary entries.
func (m *Mission) Recent(n int) []commentary.Entry {
	return m.log.Recent(n)
}

// Stats aggregates component counters.
type Stats struct {
	Version   uint64          `json:"version"`
	Entries   int             `json:"entries"`
	Topics    []string        `json:"topics"`
	Hub       hub.Stats       `json:"hub"`
	Scheduler scheduler.Stats `json:"scheduler"`
	Liftoffs  uint64          `json:"liftoffs"`
	Landings  uint64          `json:"landings"`
}

// Stats returns a point-in-time view of mission counters.
func (m *Mission) Stats() Stats {
	st := Stats{
		Version:   m.store.Version(),
		Entries:   m.log.Len(),
		Topics:    m.pipeline.Topics(),
		Hub:       m.hub.Stats(),
		Scheduler: m.scheduler.Stats(),
	}
	if m.signals != nil {
		st.Liftoffs, st.Landings = m.signals.Counts()
	}
	return st
}
