package mission

import (
	"context"
	"fmt"
	"strings"

	"github.com/teslashibe/go-alzar/pkg/drone"
	"github.com/teslashibe/go-alzar/pkg/observe"
	"github.com/teslashibe/go-alzar/pkg/scheduler"
	"github.com/teslashibe/go-alzar/pkg/state"
)

// MsgSceneReset is appended when covered topics are cleared.
const MsgSceneReset = "Scene reset."

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
}

// SetMode selects the commentary mode and announces the switch.
func (m *Mission) SetMode(mode string) (uint64, error) {
	md, err := state.ParseMode(mode)
	if err != nil {
		return 0, invalid(err)
	}
	v, err := m.store.Apply(state.Mutation{state.FieldMode: md})
	if err != nil {
		return 0, invalid(err)
	}
	m.system(fmt.Sprintf("Switched to %s mode.", md))
	return v, nil
}

// SetCamera selects which camera the next cycle captures from.
func (m *Mission) SetCamera(camera string) (uint64, error) {
	c, err := state.ParseCamera(camera)
	if err != nil {
		return 0, invalid(err)
	}
	v, err := m.store.Apply(state.Mutation{state.FieldCamera: c})
	if err != nil {
		return 0, invalid(err)
	}
	return v, nil
}

// RequestCommentary asks for a cycle now. A non-empty question is answered;
// an empty one asks for commentary on the current view. Questions pass mode
// and cooldown checks but never interrupt a running cycle.
func (m *Mission) RequestCommentary(question string) scheduler.Admission {
	return m.scheduler.RequestCycle(observe.Question(strings.TrimSpace(question)))
}

// DroneLaunch starts a launch and forwards the command to the robot.
func (m *Mission) DroneLaunch(ctx context.Context) error {
	if err := m.drone.Launch(ctx); err != nil {
		return err
	}
	m.forwardDrone(drone.CommandLaunch)
	return nil
}

// DroneReturn recalls the drone and forwards the command to the robot.
func (m *Mission) DroneReturn(ctx context.Context) error {
	if err := m.drone.ReturnHome(ctx); err != nil {
		return err
	}
	m.forwardDrone(drone.CommandReturn)
	return nil
}

func (m *Mission) forwardDrone(cmd drone.Command) {
	r := m.robotLink()
	if r == nil {
		return
	}
	if err := r.SendDrone(cmd); err != nil {
		m.logger.Warn("forward drone command", "command", cmd, "error", err)
	}
}

// SetTTS enables or disables speech. A cycle already speaking is not cut off.
func (m *Mission) SetTTS(enabled bool) (uint64, error) {
	v, err := m.store.Apply(state.Mutation{state.FieldTTSEnabled: enabled})
	if err != nil {
		return 0, invalid(err)
	}
	return v, nil
}

// Move starts driving in a direction, or stops when direction is nil, empty
// or "stop". Both moving and direction change in a single mutation.
func (m *Mission) Move(direction *string) (uint64, error) {
	dir := state.DirectionNone
	if direction != nil && *direction != "stop" {
		dir = state.Direction(strings.ToLower(strings.TrimSpace(*direction)))
		if !dir.Valid() {
			return 0, invalid(fmt.Errorf("%w: direction %q", state.ErrInvalidValue, *direction))
		}
	}
	v, err := m.store.Apply(state.Mutation{
		state.FieldMoving:    dir != state.DirectionNone,
		state.FieldDirection: dir,
	})
	if err != nil {
		return 0, invalid(err)
	}
	if r := m.robotLink(); r != nil {
		if err := r.SendMove(dir); err != nil {
			m.logger.Warn("forward move", "direction", dir, "error", err)
		}
	}
	return v, nil
}

// ResetScene forgets covered topics and the cooldown clock.
func (m *Mission) ResetScene() {
	m.pipeline.ResetTopics()
	m.scheduler.ResetCooldown()
	m.system(MsgSceneReset)
}

// UpdateGPS records a position fix from the robot.
func (m *Mission) UpdateGPS(fix state.GPSFix) (uint64, error) {
	v, err := m.store.Apply(state.Mutation{state.FieldGPS: fix})
	if err != nil {
		return 0, invalid(err)
	}
	return v, nil
}

// UpdateBattery records battery levels. A nil level is left unchanged.
func (m *Mission) UpdateBattery(robot, drone *int) (uint64, error) {
	mut := state.Mutation{}
	if robot != nil {
		mut[state.FieldBatteryRobot] = *robot
	}
	if drone != nil {
		mut[state.FieldBatteryDrone] = *drone
	}
	if len(mut) == 0 {
		return 0, invalid(state.ErrEmptyMutation)
	}
	v, err := m.store.Apply(mut)
	if err != nil {
		return 0, invalid(err)
	}
	return v, nil
}

// ReportSpotted handles an on-board detection. A notable detection latches the
// spotted signal and requests a spotted cycle. It reports whether the object
// was notable and, if so, the admission decision.
func (m *Mission) ReportSpotted(label string, confidence float64, camera state.Camera) (bool, scheduler.Admission) {
	label = strings.TrimSpace(label)
	if label == "" {
		return false, scheduler.Admission{}
	}
	if m.notable != nil && !m.notable.Notable(label, confidence, camera) {
		m.logger.Debug("spotted object ignored", "label", label, "confidence", confidence)
		return false, scheduler.Admission{}
	}
	m.scheduler.NoteSpotted(label)
	adm := m.scheduler.RequestCycle(observe.Spotted(label))
	m.logger.Info("notable object spotted", "label", label, "accepted", adm.Accepted, "reason", adm.Reason)
	return true, adm
}

// LiftoffConfirmed feeds a liftoff signal from the robot.
func (m *Mission) LiftoffConfirmed() {
	if m.signals != nil {
		m.signals.Liftoff()
	}
}

// LandingConfirmed feeds a landing signal from the robot.
func (m *Mission) LandingConfirmed() {
	if m.signals != nil {
		m.signals.Landing()
	}
}
