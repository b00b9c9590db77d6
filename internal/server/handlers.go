// Package server exposes HTTP handlers, including the authenticated WebSocket
// upgrade and the built-in test page.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/sparkrelay/internal/auth"
	"github.com/Tyrowin/sparkrelay/internal/config"
	"github.com/Tyrowin/sparkrelay/internal/logging"
)

// KeyQueryParam is the query parameter accepted as a fallback credential.
const KeyQueryParam = "key"

const (
	authMethodHeader = "auth"
	authMethodQuery  = "query"
)

// HandshakeRejection is the body returned when a WebSocket handshake fails
// authentication.
type HandshakeRejection struct {
	Message string `json:"message"`
}

// handshakeCredential picks the credential for an upgrade request: the
// x-project-key header first, then the key query parameter.
func handshakeCredential(r *http.Request) (key, method string) {
	if key = r.Header.Get(auth.HeaderName); key != "" {
		return key, authMethodHeader
	}
	if key = r.URL.Query().Get(KeyQueryParam); key != "" {
		return key, authMethodQuery
	}
	return "", ""
}

// NewWebSocketHandler returns the handler for WebSocket upgrade requests. It
// authenticates the handshake, upgrades the connection and registers a new
// Client with hub; the hub launches the pumps.
func NewWebSocketHandler(hub *Hub, cfg *config.Config, origins *config.OriginPolicy) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || origins.Allowed(origin) {
				return true
			}
			logging.Warn("Blocked WebSocket connection from disallowed origin", zap.String("origin", origin))
			return false
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		key, method := handshakeCredential(r)
		if err := auth.Authenticate(key, cfg.ProjectKey); err != nil {
			rejectHandshake(w, r, err, method, key)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Error("WebSocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
			return
		}

		client := NewClient(conn, hub, r.RemoteAddr, cfg)
		logging.Info("Connection authenticated",
			zap.String("socket_id", client.id),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("auth_method", method),
		)

		if !hub.Register(r.Context(), client) {
			logging.Warn("Hub unavailable; closing connection", zap.String("socket_id", client.id))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ReasonServerShutdown))
			_ = conn.Close()
		}
	}
}

func rejectHandshake(w http.ResponseWriter, r *http.Request, err error, method, key string) {
	if key == "" {
		logging.LogAuthRejected("Connection rejected: No key provided", r.RemoteAddr, r.URL.Path, "", "")
	} else {
		logging.LogAuthRejected("Connection rejected: Invalid key", r.RemoteAddr, r.URL.Path, method, auth.KeyPrefix(key, 5))
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(HandshakeRejection{Message: "Authentication failed: " + auth.Reason(err)})
}

// TestPageHandler serves an HTML page for exercising the relay from a browser.
// Browsers cannot set headers on WebSocket requests, so the page passes the
// key as a query parameter.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(testPageHTML)); err != nil {
		logging.Warn("Error writing HTML response", zap.Error(err))
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Spark Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; font-family: monospace; }
        input[type="text"] { width: 220px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
    </style>
</head>
<body>
    <h1>Spark Relay Test</h1>
    <div>
        <input type="text" id="key" placeholder="Project key">
        <button onclick="connect()">Connect</button>
        <button onclick="disconnect()">Disconnect</button>
    </div>
    <div>
        <input type="text" id="room" placeholder="Room">
        <button onclick="emit('join-room', roomName())">Join</button>
        <button onclick="emit('leave-room', roomName())">Leave</button>
    </div>
    <div>
        <input type="text" id="content" placeholder="Message">
        <button onclick="emit('message', {type: 'chat', content: text()})">Send</button>
        <button onclick="emit('room-message', {room: roomName(), type: 'chat', content: text()})">Send to room</button>
    </div>
    <div id="log"></div>
    <script>
        let ws = null;
        let nextAck = 1;
        const logDiv = document.getElementById('log');

        function log(line) {
            const el = document.createElement('div');
            el.textContent = line;
            logDiv.appendChild(el);
            logDiv.scrollTop = logDiv.scrollHeight;
        }
        function roomName() { return document.getElementById('room').value; }
        function text() { return document.getElementById('content').value; }

        function connect() {
            const key = encodeURIComponent(document.getElementById('key').value);
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?key=' + key);
            ws.onopen = () => log('socket open');
            ws.onmessage = (event) => log('<- ' + event.data);
            ws.onclose = (event) => { log('socket closed ' + event.code); ws = null; };
        }
        function disconnect() { if (ws) { ws.close(); } }
        function emit(event, data) {
            if (!ws || ws.readyState !== WebSocket.OPEN) { log('not connected'); return; }
            const frame = {event: event, data: data, ackId: nextAck++};
            ws.send(JSON.stringify(frame));
            log('-> ' + JSON.stringify(frame));
        }
    </script>
</body>
</html>`
