package state

import "fmt"

// Mode gates how chatty the companion is.
type Mode string

const (
	ModeQuiet     Mode = "quiet"
	ModeNormal    Mode = "normal"
	ModeTalkative Mode = "talkative"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeQuiet, ModeNormal, ModeTalkative:
		return true
	}
	return false
}

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: mode %q", ErrInvalidValue, s)
	}
	return m, nil
}

// Camera selects the active video source.
type Camera string

const (
	CameraGround Camera = "ground"
	CameraDrone  Camera = "drone"
)

// Valid reports whether c is one of the known cameras.
func (c Camera) Valid() bool {
	return c == CameraGround || c == CameraDrone
}

// ParseCamera converts a string to a Camera.
func ParseCamera(s string) (Camera, error) {
	c := Camera(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: camera %q", ErrInvalidValue, s)
	}
	return c, nil
}

// DroneStatus is the drone lifecycle state. Only the drone controller changes it.
type DroneStatus string

const (
	DroneDocked    DroneStatus = "docked"
	DroneLaunching DroneStatus = "launching"
	DroneAirborne  DroneStatus = "airborne"
	DroneReturning DroneStatus = "returning"
	DroneCharging  DroneStatus = "charging"
)

// Valid reports whether d is one of the five lifecycle values.
func (d DroneStatus) Valid() bool {
	switch d {
	case DroneDocked, DroneLaunching, DroneAirborne, DroneReturning, DroneCharging:
		return true
	}
	return false
}

// Direction is the requested drive direction. The zero value means stopped.
type Direction string

const (
	DirectionNone     Direction = ""
	DirectionForward  Direction = "forward"
	DirectionBackward Direction = "backward"
	DirectionLeft     Direction = "left"
	DirectionRight    Direction = "right"
)

// Valid reports whether d is a known direction (including none).
func (d Direction) Valid() bool {
	switch d {
	case DirectionNone, DirectionForward, DirectionBackward, DirectionLeft, DirectionRight:
		return true
	}
	return false
}

// GPSFix is a position fix from the robot's receiver.
type GPSFix struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy,omitempty"` // meters
}

// Valid reports whether the coordinates are in range.
func (g GPSFix) Valid() bool {
	return g.Lat >= -90 && g.Lat <= 90 && g.Lng >= -180 && g.Lng <= 180 && g.Accuracy >= 0
}

// RobotState is the authoritative robot state. Readers only ever see copies.
type RobotState struct {
	Mode         Mode        `json:"mode"`
	Camera       Camera      `json:"camera"`
	GPS          *GPSFix     `json:"gps,omitempty"`
	BatteryRobot *int        `json:"battery_robot,omitempty"`
	BatteryDrone *int        `json:"battery_drone,omitempty"`
	TTSEnabled   bool        `json:"tts_enabled"`
	Drone        DroneStatus `json:"drone"`
	Moving       bool        `json:"moving"`
	Direction    Direction   `json:"direction,omitempty"`
	Version      uint64      `json:"version"`
}

// DefaultState returns the process-start state.
func DefaultState() RobotState {
	return RobotState{
		Mode:       ModeNormal,
		Camera:     CameraGround,
		TTSEnabled: true,
		Drone:      DroneDocked,
	}
}

// Clone returns a deep copy so callers never share pointer fields with the store.
func (s RobotState) Clone() RobotState {
	out := s
	if s.GPS != nil {
		g := *s.GPS
		out.GPS = &g
	}
	out.BatteryRobot = cloneInt(s.BatteryRobot)
	out.BatteryDrone = cloneInt(s.BatteryDrone)
	return out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Percent returns a pointer to a battery percentage, for building mutations.
func Percent(v int) *int {
	return &v
}
