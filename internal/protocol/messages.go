package protocol

import "encoding/json"

// Selector addresses one canonical tree on the authority: a session plus the
// namespace rooted inside it.
type Selector struct {
	Session   string `json:"session"`
	Namespace string `json:"namespace"`
}

func (s Selector) Key() string {
	return s.Session + "/" + s.Namespace
}

// HELLO (client -> server)
type HelloMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ClientName      string   `json:"client_name"`
	Selector        Selector `json:"selector"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ClientID        string   `json:"client_id"`
	Selector        Selector `json:"selector"`
	Revision        uint64   `json:"revision"`
}

// PULL (client -> server): request the canonical tree.
type PullMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	ID              string   `json:"id"`
	Selector        Selector `json:"selector"`
}

// STATE (server -> client): reply to PULL.
type StateMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ID              string          `json:"id"`
	Selector        Selector        `json:"selector"`
	Revision        uint64          `json:"revision"`
	Tree            json.RawMessage `json:"tree"`
}

// PUSH (client -> server): replace the canonical tree.
type PushMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ID              string          `json:"id"`
	Selector        Selector        `json:"selector"`
	Tree            json.RawMessage `json:"tree"`
}

// ACK (server -> client): reply to PUSH.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Revision        uint64 `json:"revision,omitempty"`
}

// EVENT (server -> client): authority-driven change stream.
type EventMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Event           string          `json:"event"`
	Selector        Selector        `json:"selector"`
	Revision        uint64          `json:"revision"`
	Path            string          `json:"path,omitempty"`
	Old             json.RawMessage `json:"old,omitempty"`
	New             json.RawMessage `json:"new,omitempty"`
	Tree            json.RawMessage `json:"tree,omitempty"`
}

// PING/PONG: liveness probe.
type PingMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
}

type PongMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
}
