// Package protocol defines the WebSocket message types for dashboard and
// robot-link traffic. Every message is a JSON envelope {type, id, ts, data}.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-alzar/pkg/commentary"
	"github.com/teslashibe/go-alzar/pkg/state"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Server → Dashboard
	TypeState      MessageType = "state"              // Full state snapshot
	TypeStateDiff  MessageType = "state_diff"         // Changed fields + version
	TypeCommentary MessageType = "commentary"         // One new entry
	TypeHistory    MessageType = "commentary_history" // Bounded replay on connect
	TypeAck        MessageType = "ack"                // Command accepted or rejected
	TypeError      MessageType = "error"              // Command failed validation

	// Dashboard → Server (command surface)
	TypeSetMode           MessageType = "set_mode"
	TypeSetCamera         MessageType = "set_camera"
	TypeRequestCommentary MessageType = "request_commentary"
	TypeDroneLaunch       MessageType = "drone_launch"
	TypeDroneReturn       MessageType = "drone_return"
	TypeSetTTS            MessageType = "set_tts"
	TypeMove              MessageType = "move" // also Server → Robot
	TypeResetScene        MessageType = "reset_scene"

	// Robot → Server
	TypeGPS     MessageType = "gps"
	TypeBattery MessageType = "battery"
	TypeLiftoff MessageType = "liftoff"
	TypeLanding MessageType = "landing"
	TypeSpotted MessageType = "spotted"
	TypeFrame   MessageType = "frame"

	// Server → Robot
	TypeDrone MessageType = "drone"
	TypeSpeak MessageType = "speak"

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"` // Client-chosen correlation id, echoed in ack/error
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// IsCommand reports whether t is a dashboard command.
func (t MessageType) IsCommand() bool {
	switch t {
	case TypeSetMode, TypeSetCamera, TypeRequestCommentary, TypeDroneLaunch,
		TypeDroneReturn, TypeSetTTS, TypeMove, TypeResetScene:
		return true
	}
	return false
}

// =============================================================================
// Server → Dashboard Message Types
// =============================================================================

// StateData is a full state snapshot
type StateData = state.RobotState

// DiffData is an incremental state change
type DiffData = state.Diff

// EntryData is one commentary entry
type EntryData = commentary.Entry

// HistoryData is the commentary replay sent on connect
type HistoryData struct {
	Entries []commentary.Entry `json:"entries"`
}

// AckData reports the outcome of a command
type AckData struct {
	Command  MessageType `json:"command"`
	Accepted bool        `json:"accepted"`
	Reason   string      `json:"reason,omitempty"`   // Admission rejection reason
	Version  uint64      `json:"version,omitempty"`  // State version after the command
	CycleID  string      `json:"cycle_id,omitempty"` // Admitted cycle
}

// ErrorData reports a rejected command
type ErrorData struct {
	Command MessageType `json:"command,omitempty"`
	Code    string      `json:"code"` // "invalid_command", "invalid_transition", "bad_message"
	Message string      `json:"message"`
}

// =============================================================================
// Dashboard → Server Message Types
// =============================================================================

// SetModeData selects the commentary mode
type SetModeData struct {
	Mode string `json:"mode"`
}

// SetCameraData selects the active camera
type SetCameraData struct {
	Camera string `json:"camera"`
}

// RequestCommentaryData asks for commentary, optionally answering a question
type RequestCommentaryData struct {
	Question string `json:"question,omitempty"`
}

// SetTTSData toggles speech
type SetTTSData struct {
	Enabled bool `json:"enabled"`
}

// MoveData starts or stops driving. A nil direction stops. Also sent to the robot.
type MoveData struct {
	Direction *string `json:"direction"`
}

// =============================================================================
// Robot → Server Message Types
// =============================================================================

// GPSData is a position fix
type GPSData struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy,omitempty"`
}

// BatteryData carries battery percentages. Absent fields are left unchanged.
type BatteryData struct {
	Robot *int `json:"robot,omitempty"`
	Drone *int `json:"drone,omitempty"`
}

// SpottedData reports an object detected on-board
type SpottedData struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Camera     string  `json:"camera,omitempty"`
}

// FrameData contains a video frame
type FrameData struct {
	Camera  string `json:"camera"` // "ground", "drone"
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Format  string `json:"format"` // "jpeg"
	Data    string `json:"data"`   // base64 encoded
	FrameID uint64 `json:"frame_id,omitempty"`
}

// =============================================================================
// Server → Robot Message Types
// =============================================================================

// DroneCommand forwards a lifecycle command to the drone
type DroneCommand struct {
	Command string `json:"command"` // "launch", "return"
}

// SpeakData asks the robot to say a line. Without audio the robot uses its own voice.
type SpeakData struct {
	Text   string `json:"text"`
	Format string `json:"format,omitempty"` // "mp3", "pcm16"
	Data   string `json:"data,omitempty"`   // base64 encoded audio
}

// DecodeSpeakData decodes the base64 audio data
func (s *SpeakData) DecodeSpeakData() ([]byte, error) {
	return base64.StdEncoding.DecodeString(s.Data)
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
