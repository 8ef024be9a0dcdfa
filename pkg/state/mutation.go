package state

import (
	"fmt"
	"sort"
)

// Field names a mutable RobotState field. The string value is also the wire name.
type Field string

const (
	FieldMode         Field = "mode"
	FieldCamera       Field = "camera"
	FieldGPS          Field = "gps"
	FieldBatteryRobot Field = "battery_robot"
	FieldBatteryDrone Field = "battery_drone"
	FieldTTSEnabled   Field = "tts_enabled"
	FieldDrone        Field = "drone"
	FieldMoving       Field = "moving"
	FieldDirection    Field = "direction"
)

// Fields lists every field in wire order.
var Fields = []Field{
	FieldMode,
	FieldCamera,
	FieldGPS,
	FieldBatteryRobot,
	FieldBatteryDrone,
	FieldTTSEnabled,
	FieldDrone,
	FieldMoving,
	FieldDirection,
}

// Known reports whether f names a RobotState field.
func (f Field) Known() bool {
	for _, k := range Fields {
		if k == f {
			return true
		}
	}
	return false
}

// Mutation is a set of field assignments applied atomically.
//
// Accepted value types per field:
//
//	mode           Mode or string
//	camera         Camera or string
//	gps            GPSFix, *GPSFix, or nil to clear
//	battery_*      int, *int, float64 (JSON numbers), or nil to clear
//	tts_enabled    bool
//	moving         bool
//	direction      Direction, string, or nil for stopped
//
// The drone field is rejected here; it is written through DroneWriter.
type Mutation map[Field]any

// Diff is the minimal change record for one accepted mutation.
// Changes holds normalized values for fields that actually changed; it may be
// empty when a mutation re-asserted current values.
type Diff struct {
	Version uint64        `json:"version"`
	Changes map[Field]any `json:"changes"`
}

// Fields returns the changed field names in wire order.
func (d Diff) Fields() []Field {
	out := make([]Field, 0, len(d.Changes))
	for f := range d.Changes {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return fieldIndex(out[i]) < fieldIndex(out[j]) })
	return out
}

func fieldIndex(f Field) int {
	for i, k := range Fields {
		if k == f {
			return i
		}
	}
	return len(Fields)
}

// normalize validates every assignment and converts values to their canonical type.
// It does not touch the store, so a rejected mutation has no effect.
func normalize(m Mutation, allowDrone bool) (map[Field]any, error) {
	if len(m) == 0 {
		return nil, ErrEmptyMutation
	}
	out := make(map[Field]any, len(m))
	for f, v := range m {
		if !f.Known() {
			return nil, &FieldError{Field: f, Err: ErrUnknownField}
		}
		if f == FieldDrone && !allowDrone {
			return nil, &FieldError{Field: f, Err: ErrReadOnlyField}
		}
		nv, err := normalizeValue(f, v)
		if err != nil {
			return nil, &FieldError{Field: f, Err: err}
		}
		out[f] = nv
	}
	return out, nil
}

func normalizeValue(f Field, v any) (any, error) {
	switch f {
	case FieldMode:
		switch x := v.(type) {
		case Mode:
			if x.Valid() {
				return x, nil
			}
		case string:
			return ParseMode(x)
		}
	case FieldCamera:
		switch x := v.(type) {
		case Camera:
			if x.Valid() {
				return x, nil
			}
		case string:
			return ParseCamera(x)
		}
	case FieldGPS:
		switch x := v.(type) {
		case nil:
			return (*GPSFix)(nil), nil
		case *GPSFix:
			if x == nil {
				return (*GPSFix)(nil), nil
			}
			if x.Valid() {
				g := *x
				return &g, nil
			}
		case GPSFix:
			if x.Valid() {
				return &x, nil
			}
		}
	case FieldBatteryRobot, FieldBatteryDrone:
		return normalizePercent(v)
	case FieldTTSEnabled, FieldMoving:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case FieldDrone:
		if d, ok := v.(DroneStatus); ok && d.Valid() {
			return d, nil
		}
	case FieldDirection:
		switch x := v.(type) {
		case nil:
			return DirectionNone, nil
		case Direction:
			if x.Valid() {
				return x, nil
			}
		case string:
			if d := Direction(x); d.Valid() {
				return d, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %v (%T)", ErrInvalidValue, v, v)
}

func normalizePercent(v any) (any, error) {
	var n int
	switch x := v.(type) {
	case nil:
		return (*int)(nil), nil
	case *int:
		if x == nil {
			return (*int)(nil), nil
		}
		n = *x
	case int:
		n = x
	case float64:
		if x != float64(int(x)) {
			return nil, fmt.Errorf("%w: battery %v is not a whole percentage", ErrInvalidValue, x)
		}
		n = int(x)
	default:
		return nil, fmt.Errorf("%w: %v (%T)", ErrInvalidValue, v, v)
	}
	if n < 0 || n > 100 {
		return nil, fmt.Errorf("%w: battery %d out of range 0-100", ErrInvalidValue, n)
	}
	return &n, nil
}

// assign writes a normalized value into s and reports whether it changed.
func assign(s *RobotState, f Field, v any) bool {
	switch f {
	case FieldMode:
		x := v.(Mode)
		if s.Mode == x {
			return false
		}
		s.Mode = x
	case FieldCamera:
		x := v.(Camera)
		if s.Camera == x {
			return false
		}
		s.Camera = x
	case FieldGPS:
		x := v.(*GPSFix)
		if equalGPS(s.GPS, x) {
			return false
		}
		s.GPS = x
	case FieldBatteryRobot:
		x := v.(*int)
		if equalInt(s.BatteryRobot, x) {
			return false
		}
		s.BatteryRobot = x
	case FieldBatteryDrone:
		x := v.(*int)
		if equalInt(s.BatteryDrone, x) {
			return false
		}
		s.BatteryDrone = x
	case FieldTTSEnabled:
		x := v.(bool)
		if s.TTSEnabled == x {
			return false
		}
		s.TTSEnabled = x
	case FieldDrone:
		x := v.(DroneStatus)
		if s.Drone == x {
			return false
		}
		s.Drone = x
	case FieldMoving:
		x := v.(bool)
		if s.Moving == x {
			return false
		}
		s.Moving = x
	case FieldDirection:
		x := v.(Direction)
		if s.Direction == x {
			return false
		}
		s.Direction = x
	}
	return true
}

// diffValue returns a copy of a normalized value safe to hand to subscribers.
func diffValue(v any) any {
	switch x := v.(type) {
	case *GPSFix:
		if x == nil {
			return x
		}
		g := *x
		return &g
	case *int:
		return cloneInt(x)
	}
	return v
}

func equalGPS(a, b *GPSFix) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
