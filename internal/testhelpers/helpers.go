// Package testhelpers provides common utilities for testing the relay server.
//
// It contains helpers for creating test servers, making HTTP requests,
// asserting response properties and speaking the relay's WebSocket frame
// protocol from a test client.
package testhelpers

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/sparkrelay/internal/auth"
)

// ReadTimeout bounds every frame read made through these helpers.
const ReadTimeout = 3 * time.Second

// Frame is the client-side view of a relay frame.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID *uint64         `json:"ackId,omitempty"`
}

// DecodeData unmarshals the frame's data into v.
func (f Frame) DecodeData(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(f.Data, v); err != nil {
		t.Fatalf("Failed to decode %s data %s: %v", f.Event, f.Data, err)
	}
}

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that should be closed after use.
func CreateTestServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// Header pairs are given as alternating names and values.
func MakeRequest(t *testing.T, method, target string, header ...string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, target, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// DecodeJSON reads resp's body into v and closes it.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
}

// WebSocketURL converts a test server's http URL into its /ws endpoint.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

func dial(target string, header http.Header) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	return dialer.Dial(target, header)
}

// ConnectWebSocket dials target presenting key in the x-project-key header.
// An empty key sends no header. On a failed handshake the returned response
// carries the server's body.
func ConnectWebSocket(target, key string) (*websocket.Conn, *http.Response, error) {
	header := http.Header{}
	if key != "" {
		header.Set(auth.HeaderName, key)
	}
	return dial(target, header)
}

// ConnectWebSocketWithQuery dials target presenting key as the key query parameter.
func ConnectWebSocketWithQuery(target, key string) (*websocket.Conn, *http.Response, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, nil, err
	}
	q := u.Query()
	q.Set("key", key)
	u.RawQuery = q.Encode()
	return dial(u.String(), nil)
}

// MustConnect dials with the header credential, waits for the connected
// event and returns the connection with its assigned socket id.
func MustConnect(t *testing.T, target, key string) (*websocket.Conn, string) {
	t.Helper()

	conn, resp, err := ConnectWebSocket(target, key)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	frame := ReadUntilEvent(t, conn, "connected")
	var connected struct {
		SocketID string `json:"socketId"`
	}
	frame.DecodeData(t, &connected)
	if connected.SocketID == "" {
		t.Fatal("connected event carried no socketId")
	}
	return conn, connected.SocketID
}

// AckID returns a pointer to id for use in SendEvent.
func AckID(id uint64) *uint64 {
	return &id
}

// SendEvent writes one event frame. A nil ackID makes it fire-and-forget.
func SendEvent(conn *websocket.Conn, event string, data any, ackID *uint64) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.WriteJSON(Frame{Event: event, Data: raw, AckID: ackID})
}

// MustSendEvent is SendEvent that fails the test on error.
func MustSendEvent(t *testing.T, conn *websocket.Conn, event string, data any, ackID *uint64) {
	t.Helper()
	if err := SendEvent(conn, event, data, ackID); err != nil {
		t.Fatalf("Failed to send %s: %v", event, err)
	}
}

// SendRawMessage sends a raw text frame over the WebSocket connection.
func SendRawMessage(conn *websocket.Conn, data []byte) error {
	return conn.WriteMessage(websocket.TextMessage, data)
}

// ReadFrame reads and decodes the next frame.
func ReadFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("Failed to decode frame %s: %v", raw, err)
	}
	return frame
}

// ReadUntilEvent reads frames until one named event arrives, discarding
// the others.
func ReadUntilEvent(t *testing.T, conn *websocket.Conn, event string) Frame {
	t.Helper()
	for {
		frame := ReadFrame(t, conn)
		if frame.Event == event {
			return frame
		}
	}
}

// ReadAck reads frames until the ack with the given id arrives.
func ReadAck(t *testing.T, conn *websocket.Conn, id uint64) Frame {
	t.Helper()
	for {
		frame := ReadUntilEvent(t, conn, "ack")
		if frame.AckID != nil && *frame.AckID == id {
			return frame
		}
	}
}

// ExpectClosed reads until the server closes the connection and fails the
// test if that does not happen within ReadTimeout.
func ExpectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatal("Expected the server to close the connection")
		}
		return
	}
}

// ReadBody returns resp's body as a string and closes it.
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	return string(body)
}

// Eventually polls cond until it holds or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
