package notable

import (
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-alzar/pkg/state"
)

func TestNewRejectsBadRules(t *testing.T) {
	tests := []struct {
		name string
		rule string
	}{
		{"blank", "   "},
		{"syntax", "confidence >="},
		{"not boolean", "confidence * 2"},
		{"unknown field", "altitude > 10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.rule); err == nil {
				t.Errorf("New(%q) should fail", tt.rule)
			}
		})
	}
	if _, err := New(""); !errors.Is(err, ErrEmptyRule) {
		t.Errorf("New(\"\") error = %v, want ErrEmptyRule", err)
	}
}

func TestNotable(t *testing.T) {
	tests := []struct {
		name       string
		rule       string
		label      string
		confidence float64
		camera     state.Camera
		want       bool
	}{
		{"above threshold", "confidence >= 0.6", "heron", 0.8, state.CameraGround, true},
		{"below threshold", "confidence >= 0.6", "heron", 0.4, state.CameraGround, false},
		{"excluded label", `label not in ["person", "car"]`, "Person", 0.9, state.CameraGround, false},
		{"allowed label", `label not in ["person", "car"]`, "fox", 0.9, state.CameraGround, true},
		{"drone only", `camera == "drone"`, "deer", 0.5, state.CameraDrone, true},
		{"drone only on ground", `camera == "drone"`, "deer", 0.5, state.CameraGround, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.rule)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if got := f.Notable(tt.label, tt.confidence, tt.camera); got != tt.want {
				t.Errorf("Notable(%q, %v, %s) = %v, want %v", tt.label, tt.confidence, tt.camera, got, tt.want)
			}
		})
	}
}

func TestSinceLast(t *testing.T) {
	now := time.Unix(1000, 0)
	f, err := New("since_last < 0 || since_last > 60", WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}

	if !f.Notable("swan", 0.9, state.CameraGround) {
		t.Fatal("first sighting should be notable")
	}
	now = now.Add(30 * time.Second)
	if f.Notable("swan", 0.9, state.CameraGround) {
		t.Error("repeat within a minute should not be notable")
	}
	if !f.Notable("goose", 0.9, state.CameraGround) {
		t.Error("other labels are independent")
	}
	now = now.Add(31 * time.Second)
	if !f.Notable("swan", 0.9, state.CameraGround) {
		t.Error("repeat after a minute should be notable")
	}

	st := f.Stats()
	if st.Passed != 3 || st.Rejected != 1 || st.Failed != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}
