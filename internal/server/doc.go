// Package server implements the relay's HTTP and WebSocket server.
//
// The implementation is organized into specialized files for the hub loop,
// clients, sessions, wire protocol, routing, and HTTP handlers.
//
// Clients connect to /ws with the project key in the x-project-key header or
// the key query parameter. Every frame is a JSON text message:
//
//	-> {"event": "join-room", "data": "lobby", "ackId": 1}
//	<- {"event": "joined-room", "data": {"room": "lobby", "message": "Joined room: lobby"}}
//	<- {"event": "ack", "ackId": 1, "data": {"success": true, "room": "lobby", "message": "Joined room: lobby"}}
//
// Frames without an ackId are fire-and-forget; their failures arrive as an
// "error" event on the sending connection only.
package server
