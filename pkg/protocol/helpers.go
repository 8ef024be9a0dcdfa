package protocol

import (
	"encoding/base64"
	"time"

	"github.com/teslashibe/go-alzar/pkg/commentary"
	"github.com/teslashibe/go-alzar/pkg/state"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewStateMessage creates a full state message
func NewStateMessage(s state.RobotState) (*Message, error) {
	return NewMessage(TypeState, s)
}

// NewDiffMessage creates a state diff message
func NewDiffMessage(d state.Diff) (*Message, error) {
	return NewMessage(TypeStateDiff, d)
}

// NewCommentaryMessage creates a single-entry message
func NewCommentaryMessage(e commentary.Entry) (*Message, error) {
	return NewMessage(TypeCommentary, e)
}

// NewHistoryMessage creates a history replay message
func NewHistoryMessage(entries []commentary.Entry) (*Message, error) {
	if entries == nil {
		entries = []commentary.Entry{}
	}
	return NewMessage(TypeHistory, HistoryData{Entries: entries})
}

// NewAckMessage creates an acknowledgement carrying the request's id
func NewAckMessage(id string, ack AckData) (*Message, error) {
	msg, err := NewMessage(TypeAck, ack)
	if err != nil {
		return nil, err
	}
	msg.ID = id
	return msg, nil
}

// NewErrorMessage creates an error reply carrying the request's id
func NewErrorMessage(id string, command MessageType, code, message string) (*Message, error) {
	msg, err := NewMessage(TypeError, ErrorData{Command: command, Code: code, Message: message})
	if err != nil {
		return nil, err
	}
	msg.ID = id
	return msg, nil
}

// NewFrameMessage creates a frame message from raw JPEG data
func NewFrameMessage(camera string, jpegData []byte, frameID uint64) (*Message, error) {
	return NewMessage(TypeFrame, FrameData{
		Camera:  camera,
		Format:  "jpeg",
		Data:    base64.StdEncoding.EncodeToString(jpegData),
		FrameID: frameID,
	})
}

// NewMoveMessage creates a move command. An empty direction stops.
func NewMoveMessage(direction string) (*Message, error) {
	var d *string
	if direction != "" {
		d = &direction
	}
	return NewMessage(TypeMove, MoveData{Direction: d})
}

// NewDroneMessage creates a drone command message
func NewDroneMessage(command string) (*Message, error) {
	return NewMessage(TypeDrone, DroneCommand{Command: command})
}

// NewSpeakMessage creates a text-only speak message
func NewSpeakMessage(text string) (*Message, error) {
	return NewMessage(TypeSpeak, SpeakData{Text: text})
}

// NewSpeakAudioMessage creates a speak message carrying synthesized audio
func NewSpeakAudioMessage(text, format string, audio []byte) (*Message, error) {
	return NewMessage(TypeSpeak, SpeakData{
		Text:   text,
		Format: format,
		Data:   base64.StdEncoding.EncodeToString(audio),
	})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id, Timestamp: time.Now().UnixMilli()})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetFrameData extracts frame data from a message
func (m *Message) GetFrameData() (*FrameData, error) {
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeFrameData decodes the base64 image data
func (f *FrameData) DecodeFrameData() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.Data)
}

// GetGPSData extracts a position fix from a message
func (m *Message) GetGPSData() (*GPSData, error) {
	var data GPSData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetBatteryData extracts battery levels from a message
func (m *Message) GetBatteryData() (*BatteryData, error) {
	var data BatteryData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetSpottedData extracts a detection from a message
func (m *Message) GetSpottedData() (*SpottedData, error) {
	var data SpottedData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetMoveData extracts a move command from a message
func (m *Message) GetMoveData() (*MoveData, error) {
	var data MoveData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetDroneCommand extracts a drone command from a message
func (m *Message) GetDroneCommand() (*DroneCommand, error) {
	var data DroneCommand
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetSpeakData extracts speak data from a message
func (m *Message) GetSpeakData() (*SpeakData, error) {
	var data SpeakData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetAckData extracts an acknowledgement from a message
func (m *Message) GetAckData() (*AckData, error) {
	var data AckData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetErrorData extracts an error reply from a message
func (m *Message) GetErrorData() (*ErrorData, error) {
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
