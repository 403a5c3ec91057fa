package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypePull    = "PULL"
	TypeState   = "STATE"
	TypePush    = "PUSH"
	TypeAck     = "ACK"
	TypeEvent   = "EVENT"
	TypePing    = "PING"
	TypePong    = "PONG"
)

// Event names carried by EVENT messages.
const (
	EventUpdateStarted = "update_started"
	EventSingleUpdated = "single_updated"
	EventUpdateEnded   = "update_ended"
	EventSessionReset  = "session_reset"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
