// Package hub fans state diffs and commentary entries out to every connected
// viewer using the channel-based fan-out pattern. New subscribers get a full
// snapshot and the recent history before any live event.
package hub

import "github.com/teslashibe/go-alzar/pkg/protocol"

// MessageType indicates the websocket message format
type MessageType int

const (
	// JSONMessage is a JSON-encoded message
	JSONMessage MessageType = iota
	// BinaryMessage is raw binary data
	BinaryMessage
)

// Message represents a message to be delivered to clients
type Message struct {
	Type MessageType
	Kind protocol.MessageType // envelope type, for filtering and observers
	Data []byte
}

// NewJSONMessage encodes a protocol message for delivery
func NewJSONMessage(msg *protocol.Message) (Message, error) {
	data, err := msg.Bytes()
	if err != nil {
		return Message{}, err
	}
	return Message{Type: JSONMessage, Kind: msg.Type, Data: data}, nil
}

// NewBinaryMessage creates a binary message
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}
