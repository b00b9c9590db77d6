// Package server defines the wire frames, event names and payload shapes
// exchanged with relay clients.
package server

import (
	"bytes"
	"encoding/json"
	"time"
)

// EventName identifies an inbound or outbound event.
type EventName string

// Inbound events handled by a Session, plus the implicit lifecycle events.
const (
	EventConnect     EventName = "connect"
	EventDisconnect  EventName = "disconnect"
	EventMessage     EventName = "message"
	EventJoinRoom    EventName = "join-room"
	EventLeaveRoom   EventName = "leave-room"
	EventRoomMessage EventName = "room-message"
)

// Outbound-only events.
const (
	EventConnected  EventName = "connected"
	EventJoinedRoom EventName = "joined-room"
	EventLeftRoom   EventName = "left-room"
	EventError      EventName = "error"
	EventAck        EventName = "ack"
)

// Envelope fields injected by the server. They always override
// caller-supplied fields of the same name.
const (
	fieldFrom      = "from"
	fieldTimestamp = "timestamp"
	fieldRoom      = "room"
	fieldType      = "type"
)

// timestampLayout renders an ISO-8601 UTC instant with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// InboundFrame is a client-to-server frame. AckID is present when the
// client expects an acknowledgment.
type InboundFrame struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID *uint64         `json:"ackId,omitempty"`
}

// OutboundFrame is a server-to-client frame. Acknowledgments use the "ack"
// event and carry the AckID of the frame they answer.
type OutboundFrame struct {
	Event EventName `json:"event"`
	Data  any       `json:"data,omitempty"`
	AckID *uint64   `json:"ackId,omitempty"`
}

// AckResponse is the reply delivered to a client that requested an ack.
// Room is set on every join-room and leave-room reply, even when the name
// was empty, and on room-message success.
type AckResponse struct {
	Success   bool    `json:"success"`
	Message   string  `json:"message"`
	Error     string  `json:"error,omitempty"`
	Room      *string `json:"room,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// ConnectedEvent is sent to a connection once it is registered.
type ConnectedEvent struct {
	Message   string `json:"message"`
	SocketID  string `json:"socketId"`
	Timestamp string `json:"timestamp"`
}

// RoomEvent is the payload of joined-room and left-room.
type RoomEvent struct {
	Room    string `json:"room"`
	Message string `json:"message"`
}

// ErrorEvent is sent to the originating connection when an unacknowledged
// event fails.
type ErrorEvent struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Envelope is the delivered shape of a message: the caller's payload fields
// plus the server-injected ones.
type Envelope map[string]any

func newEnvelope(payload map[string]any, exclude ...string) Envelope {
	env := make(Envelope, len(payload)+3)
	for k, v := range payload {
		env[k] = v
	}
	for _, k := range exclude {
		delete(env, k)
	}
	return env
}

// decodeObject parses data as a JSON object. Numbers are kept as json.Number
// so they are relayed without loss. It reports false for anything other than
// a non-null object.
func decodeObject(data json.RawMessage) (map[string]any, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
