package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/teslashibe/go-alzar/pkg/commentary"
	"github.com/teslashibe/go-alzar/pkg/state"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "frame message",
			msgType: TypeFrame,
			data:    FrameData{Camera: "ground", Format: "jpeg"},
			wantErr: false,
		},
		{
			name:    "gps message",
			msgType: TypeGPS,
			data:    GPSData{Lat: 37.7, Lng: -122.4},
			wantErr: false,
		},
		{
			name:    "nil data",
			msgType: TypeDroneLaunch,
			data:    nil,
			wantErr: false,
		},
		{
			name:    "unmarshalable data",
			msgType: TypeSpeak,
			data:    make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
		})
	}
}

func TestStateDiffMessage(t *testing.T) {
	msg, err := NewDiffMessage(state.Diff{
		Version: 7,
		Changes: map[state.Field]any{state.FieldCamera: state.CameraDrone, state.FieldBatteryDrone: state.Percent(64)},
	})
	if err != nil {
		t.Fatalf("NewDiffMessage() error = %v", err)
	}
	b, err := msg.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseMessage(b)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if parsed.Type != TypeStateDiff {
		t.Errorf("Type = %v, want %v", parsed.Type, TypeStateDiff)
	}

	var raw struct {
		Version uint64                     `json:"version"`
		Changes map[string]json.RawMessage `json:"changes"`
	}
	if err := parsed.ParseData(&raw); err != nil {
		t.Fatal(err)
	}
	if raw.Version != 7 {
		t.Errorf("version = %d, want 7", raw.Version)
	}
	if string(raw.Changes["camera"]) != `"drone"` {
		t.Errorf("camera = %s", raw.Changes["camera"])
	}
	if string(raw.Changes["battery_drone"]) != `64` {
		t.Errorf("battery_drone = %s", raw.Changes["battery_drone"])
	}
	if len(raw.Changes) != 2 {
		t.Errorf("changes = %v, want only the two changed fields", raw.Changes)
	}
}

func TestStateMessageOmitsUnknownOptionals(t *testing.T) {
	msg, err := NewStateMessage(state.DefaultState())
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"gps", "battery_robot", "battery_drone"} {
		if _, ok := m[k]; ok {
			t.Errorf("%s present before first reading", k)
		}
	}
	if m["mode"] != "normal" || m["drone"] != "docked" {
		t.Errorf("state = %v", m)
	}
}

func TestHistoryMessage(t *testing.T) {
	entries := []commentary.Entry{
		{ID: 1, Text: "first", Source: commentary.SourceCompanion, Timestamp: time.Unix(10, 0)},
		{ID: 2, Text: "second", Source: commentary.SourceSystem, Timestamp: time.Unix(11, 0)},
	}
	msg, err := NewHistoryMessage(entries)
	if err != nil {
		t.Fatal(err)
	}
	var h HistoryData
	if err := msg.ParseData(&h); err != nil {
		t.Fatal(err)
	}
	if len(h.Entries) != 2 || h.Entries[0].ID != 1 || h.Entries[1].Source != commentary.SourceSystem {
		t.Errorf("entries = %+v", h.Entries)
	}

	empty, _ := NewHistoryMessage(nil)
	if string(empty.Data) != `{"entries":[]}` {
		t.Errorf("empty history = %s", empty.Data)
	}
}

func TestAckAndErrorCarryID(t *testing.T) {
	ack, err := NewAckMessage("req-1", AckData{Command: TypeRequestCommentary, Accepted: false, Reason: "busy"})
	if err != nil {
		t.Fatal(err)
	}
	if ack.ID != "req-1" {
		t.Errorf("ack ID = %q", ack.ID)
	}
	data, err := ack.GetAckData()
	if err != nil {
		t.Fatal(err)
	}
	if data.Accepted || data.Reason != "busy" {
		t.Errorf("ack = %+v", data)
	}

	em, err := NewErrorMessage("req-2", TypeDroneLaunch, "invalid_transition", "drone: cannot launch while airborne")
	if err != nil {
		t.Fatal(err)
	}
	ed, err := em.GetErrorData()
	if err != nil {
		t.Fatal(err)
	}
	if em.ID != "req-2" || ed.Code != "invalid_transition" || ed.Command != TypeDroneLaunch {
		t.Errorf("error = %+v / %+v", em, ed)
	}
}

func TestFrameMessage(t *testing.T) {
	jpegData := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10} // Fake JPEG header

	msg, err := NewFrameMessage("drone", jpegData, 1)
	if err != nil {
		t.Fatalf("NewFrameMessage() error = %v", err)
	}

	frameData, err := msg.GetFrameData()
	if err != nil {
		t.Fatalf("GetFrameData() error = %v", err)
	}
	if frameData.Camera != "drone" {
		t.Errorf("Camera = %v, want drone", frameData.Camera)
	}
	if frameData.Format != "jpeg" {
		t.Errorf("Format = %v, want jpeg", frameData.Format)
	}

	decoded, err := frameData.DecodeFrameData()
	if err != nil {
		t.Fatalf("DecodeFrameData() error = %v", err)
	}
	if len(decoded) != len(jpegData) {
		t.Errorf("Decoded length = %v, want %v", len(decoded), len(jpegData))
	}
}

func TestMoveMessage(t *testing.T) {
	msg, err := NewMoveMessage("left")
	if err != nil {
		t.Fatal(err)
	}
	mv, err := msg.GetMoveData()
	if err != nil {
		t.Fatal(err)
	}
	if mv.Direction == nil || *mv.Direction != "left" {
		t.Errorf("Direction = %v, want left", mv.Direction)
	}

	stop, _ := NewMoveMessage("")
	if string(stop.Data) != `{"direction":null}` {
		t.Errorf("stop data = %s", stop.Data)
	}
}

func TestBatteryPartial(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"battery","data":{"drone":42}}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := msg.GetBatteryData()
	if err != nil {
		t.Fatal(err)
	}
	if b.Robot != nil {
		t.Errorf("Robot = %d, want absent", *b.Robot)
	}
	if b.Drone == nil || *b.Drone != 42 {
		t.Errorf("Drone = %v, want 42", b.Drone)
	}
}

func TestPingPongMessage(t *testing.T) {
	pingMsg, err := NewPingMessage("test-123")
	if err != nil {
		t.Fatalf("NewPingMessage() error = %v", err)
	}

	pingData, err := pingMsg.GetPingData()
	if err != nil {
		t.Fatalf("GetPingData() error = %v", err)
	}
	if pingData.ID != "test-123" {
		t.Errorf("ID = %v, want test-123", pingData.ID)
	}
	if pingData.Timestamp == 0 {
		t.Error("ping timestamp should be set")
	}

	now := time.Now().UnixMilli()
	pongMsg, err := NewPongMessage("test-123", pingData.Timestamp, now)
	if err != nil {
		t.Fatalf("NewPongMessage() error = %v", err)
	}
	pongData, err := pongMsg.GetPongData()
	if err != nil {
		t.Fatalf("GetPongData() error = %v", err)
	}
	if pongData.LatencyMs < 0 {
		t.Errorf("LatencyMs = %v, should be >= 0", pongData.LatencyMs)
	}
}

func TestIsCommand(t *testing.T) {
	for _, mt := range []MessageType{TypeSetMode, TypeSetCamera, TypeRequestCommentary, TypeDroneLaunch,
		TypeDroneReturn, TypeSetTTS, TypeMove, TypeResetScene} {
		if !mt.IsCommand() {
			t.Errorf("%s.IsCommand() = false", mt)
		}
	}
	for _, mt := range []MessageType{TypeState, TypeGPS, TypePing, TypeFrame} {
		if mt.IsCommand() {
			t.Errorf("%s.IsCommand() = true", mt)
		}
	}
}

func TestParseInvalidMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:    "invalid json",
			input:   "not json",
			wantErr: true,
		},
		{
			name:    "missing type",
			input:   "{}",
			wantErr: true,
		},
		{
			name:    "valid message",
			input:   `{"type":"set_mode","id":"a1","data":{"mode":"quiet"}}`,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func BenchmarkNewFrameMessage(b *testing.B) {
	jpegData := make([]byte, 100*1024) // 100KB fake JPEG

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NewFrameMessage("ground", jpegData, uint64(i))
	}
}

func BenchmarkParseMessage(b *testing.B) {
	msg, _ := NewFrameMessage("ground", make([]byte, 100*1024), 1)
	bytes, _ := msg.Bytes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ParseMessage(bytes)
	}
}

func TestSpeakAudioMessage(t *testing.T) {
	msg, err := NewSpeakAudioMessage("hello", "mp3", []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	sd, err := msg.GetSpeakData()
	if err != nil {
		t.Fatal(err)
	}
	audio, err := sd.DecodeSpeakData()
	if err != nil {
		t.Fatal(err)
	}
	if sd.Text != "hello" || sd.Format != "mp3" || len(audio) != 3 {
		t.Errorf("speak = %+v, audio %v", sd, audio)
	}
}
