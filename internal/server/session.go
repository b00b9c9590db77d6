// Package server implements the per-connection session: the event dispatch
// table, envelope construction, and the ack-or-error response rule.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/sparkrelay/internal/logging"
	"github.com/Tyrowin/sparkrelay/internal/room"
)

// Transport is the outbound delivery primitive a Session acts through.
type Transport interface {
	// Emit sends an event to one connection and reports whether it was queued.
	Emit(connID string, event EventName, payload any) bool
	// Broadcast sends an event to every connection and returns the recipient count.
	Broadcast(event EventName, payload any) int
	// BroadcastRoom sends an event to every member of room and returns the recipient count.
	BroadcastRoom(room string, event EventName, payload any) int
}

const (
	msgConnected          = "Connected to server"
	msgMessageSent        = "Message sent successfully"
	msgInvalidMessage     = "Invalid message format"
	msgRoomMessageSent    = "Room message sent successfully"
	msgRoomRequired       = "Room name is required"
	msgJoinFailed         = "Failed to join room"
	msgLeaveFailed        = "Failed to leave room"
	msgMessageFailed      = "Failed to process message"
	msgRoomMessageFailed  = "Failed to process room message"
	msgUnknownEvent       = "Unknown event"
	errInternalServer     = "internal server error"
	errRoomNameNotAString = "room name must be a string"
)

var errNotAString = errors.New(errRoomNameNotAString)

// eventHandler processes one inbound event. Handlers run to completion on the
// hub loop and respond through the Ack or an error event.
type eventHandler struct {
	handle func(s *Session, data json.RawMessage, ack *Ack)
	// failure is the message reported when handle panics.
	failure string
}

var dispatchTable = map[EventName]eventHandler{
	EventMessage:     {handle: (*Session).handleMessage, failure: msgMessageFailed},
	EventJoinRoom:    {handle: (*Session).handleJoinRoom, failure: msgJoinFailed},
	EventLeaveRoom:   {handle: (*Session).handleLeaveRoom, failure: msgLeaveFailed},
	EventRoomMessage: {handle: (*Session).handleRoomMessage, failure: msgRoomMessageFailed},
}

// Session holds the behavior for one authenticated connection. It keeps only
// the connection id and acts through the Transport and room Registry.
type Session struct {
	id        string
	addr      string
	transport Transport
	rooms     *room.Registry
	now       func() time.Time
}

// NewSession creates a Session for the connection identified by id.
func NewSession(id, addr string, transport Transport, rooms *room.Registry) *Session {
	return &Session{
		id:        id,
		addr:      addr,
		transport: transport,
		rooms:     rooms,
		now:       time.Now,
	}
}

// ID returns the connection id.
func (s *Session) ID() string {
	return s.id
}

// Connected announces the assigned connection id to the client. total is the
// number of live connections including this one.
func (s *Session) Connected(total int) {
	logging.LogConnection("Client connected", string(EventConnect), s.id, s.addr, total)
	s.transport.Emit(s.id, EventConnected, ConnectedEvent{
		Message:   msgConnected,
		SocketID:  s.id,
		Timestamp: s.timestamp(),
	})
}

// Disconnected removes the connection from every room and returns the rooms
// it left. total is the number of connections still live.
func (s *Session) Disconnected(reason string, total int) []string {
	left := s.rooms.LeaveAll(s.id)
	logging.LogConnection("Client disconnected", string(EventDisconnect), s.id, s.addr, total,
		zap.String("reason", reason),
		zap.Strings("rooms_left", left),
	)
	return left
}

// Reject answers a frame that was not dispatched, such as one over the rate
// limit, with a failure carrying message.
func (s *Session) Reject(message string, ack *Ack) {
	s.respond(ack, AckResponse{Success: false, Message: message})
}

// TransportError records an error reported by the transport for this
// connection. No recovery is attempted.
func (s *Session) TransportError(err error) {
	logging.Error("Socket error",
		zap.String("socket_id", s.id),
		zap.String("remote_addr", s.addr),
		zap.Error(err),
	)
}

// Dispatch routes an inbound event to its handler. A panic inside a handler
// is logged and answered with the handler's generic failure; it never
// escapes to the caller.
func (s *Session) Dispatch(event EventName, data json.RawMessage, ack *Ack) {
	h, ok := dispatchTable[event]
	if !ok {
		logging.Warn("Unknown event",
			zap.String("socket_id", s.id),
			zap.String("event", string(event)),
		)
		s.respond(ack, AckResponse{Success: false, Message: msgUnknownEvent, Error: string(event)})
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Error("Event handler panicked",
				zap.String("socket_id", s.id),
				zap.String("event", string(event)),
				zap.Any("panic", r),
			)
			s.respond(ack, AckResponse{Success: false, Message: h.failure, Error: errInternalServer})
		}
	}()

	h.handle(s, data, ack)
}

// respond delivers resp through the ack when one was requested. Otherwise a
// failure becomes an error event to this connection only.
func (s *Session) respond(ack *Ack, resp AckResponse) {
	if ack.Requested() {
		ack.Send(resp)
		return
	}
	if !resp.Success {
		s.transport.Emit(s.id, EventError, ErrorEvent{Message: resp.Message, Error: resp.Error})
	}
}

func (s *Session) handleMessage(data json.RawMessage, ack *Ack) {
	payload, ok := decodeObject(data)
	if !ok {
		logging.Warn("Invalid message format", zap.String("socket_id", s.id))
		s.respond(ack, AckResponse{Success: false, Message: msgInvalidMessage})
		return
	}

	logging.Info("Message received",
		zap.String("socket_id", s.id),
		zap.String("message_type", messageType(payload)),
	)

	ts := s.timestamp()
	env := newEnvelope(payload)
	env[fieldFrom] = s.id
	env[fieldTimestamp] = ts

	recipients := s.transport.Broadcast(EventMessage, env)
	logging.Debug("Message broadcasted",
		zap.String("socket_id", s.id),
		zap.Int("recipients", recipients),
	)

	s.respond(ack, AckResponse{Success: true, Message: msgMessageSent, Timestamp: ts})
}

func (s *Session) handleJoinRoom(data json.RawMessage, ack *Ack) {
	name, err := decodeRoomName(data)
	if err == nil {
		err = s.rooms.Join(s.id, name)
	}
	if err != nil {
		logging.Warn("Error joining room",
			zap.String("socket_id", s.id),
			zap.String("room", name),
			zap.Error(err),
		)
		s.respond(ack, AckResponse{Success: false, Room: &name, Message: msgJoinFailed, Error: err.Error()})
		return
	}

	logging.Info("Client joined room", zap.String("socket_id", s.id), zap.String("room", name))

	msg := fmt.Sprintf("Joined room: %s", name)
	s.transport.Emit(s.id, EventJoinedRoom, RoomEvent{Room: name, Message: msg})
	s.respond(ack, AckResponse{Success: true, Room: &name, Message: msg})
}

func (s *Session) handleLeaveRoom(data json.RawMessage, ack *Ack) {
	name, err := decodeRoomName(data)
	if err == nil {
		err = s.rooms.Leave(s.id, name)
	}
	if err != nil {
		logging.Warn("Error leaving room",
			zap.String("socket_id", s.id),
			zap.String("room", name),
			zap.Error(err),
		)
		s.respond(ack, AckResponse{Success: false, Room: &name, Message: msgLeaveFailed, Error: err.Error()})
		return
	}

	logging.Info("Client left room", zap.String("socket_id", s.id), zap.String("room", name))

	msg := fmt.Sprintf("Left room: %s", name)
	s.transport.Emit(s.id, EventLeftRoom, RoomEvent{Room: name, Message: msg})
	s.respond(ack, AckResponse{Success: true, Room: &name, Message: msg})
}

func (s *Session) handleRoomMessage(data json.RawMessage, ack *Ack) {
	payload, _ := decodeObject(data)
	name, _ := payload[fieldRoom].(string)
	if strings.TrimSpace(name) == "" {
		logging.Warn("Room message without room", zap.String("socket_id", s.id))
		s.respond(ack, AckResponse{Success: false, Message: msgRoomRequired})
		return
	}

	logging.Info("Room message received", zap.String("socket_id", s.id), zap.String("room", name))

	ts := s.timestamp()
	env := newEnvelope(payload, fieldRoom)
	env[fieldFrom] = s.id
	env[fieldRoom] = name
	env[fieldTimestamp] = ts

	recipients := s.transport.BroadcastRoom(name, EventRoomMessage, env)
	logging.Debug("Room message broadcasted",
		zap.String("socket_id", s.id),
		zap.String("room", name),
		zap.Int("recipients", recipients),
	)

	s.respond(ack, AckResponse{Success: true, Message: msgRoomMessageSent, Room: &name, Timestamp: ts})
}

func (s *Session) timestamp() string {
	return formatTimestamp(s.now())
}

// decodeRoomName reads a room name sent as a JSON string. Absent or null
// data yields an empty name, which the registry rejects.
func decodeRoomName(data json.RawMessage) (string, error) {
	if len(data) == 0 || string(data) == "null" {
		return "", nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return "", errNotAString
	}
	return name, nil
}

func messageType(payload map[string]any) string {
	if t, ok := payload[fieldType].(string); ok && t != "" {
		return t
	}
	return "unknown"
}
