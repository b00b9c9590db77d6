package server_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/sparkrelay/internal/config"
	"github.com/Tyrowin/sparkrelay/internal/server"
	th "github.com/Tyrowin/sparkrelay/internal/testhelpers"
)

const testKey = "integration-test-key"

type ackData struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Error     string `json:"error"`
	Room      string `json:"room"`
	Timestamp string `json:"timestamp"`
}

// startRelay runs a full relay behind an httptest server. The hub and the
// test server are stopped when the test ends.
func startRelay(t *testing.T, mutate func(*config.Config)) (*httptest.Server, *server.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.ProjectKey = testKey
	if mutate != nil {
		mutate(cfg)
	}

	srv := server.New(cfg)
	go srv.Hub().Run()

	ts := th.CreateTestServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Hub().Shutdown(2 * time.Second)
		ts.Close()
	})
	return ts, srv
}

func TestHandshakeAuthentication(t *testing.T) {
	ts, _ := startRelay(t, nil)
	wsURL := th.WebSocketURL(ts.URL)

	t.Run("header key accepted", func(t *testing.T) {
		conn, id := th.MustConnect(t, wsURL, testKey)
		defer conn.Close()
		if id == "" {
			t.Error("Expected a socket id")
		}
	})

	t.Run("query key accepted", func(t *testing.T) {
		conn, resp, err := th.ConnectWebSocketWithQuery(wsURL, testKey)
		if err != nil {
			t.Fatalf("Failed to connect with query key: %v", err)
		}
		defer conn.Close()
		th.AssertStatusCode(t, resp, http.StatusSwitchingProtocols)
		th.ReadUntilEvent(t, conn, "connected")
	})

	t.Run("header preferred over query", func(t *testing.T) {
		conn, resp, err := th.ConnectWebSocket(wsURL+"?key="+testKey, "wrong-key")
		if err == nil {
			conn.Close()
			t.Fatal("Expected handshake to fail when the header key is wrong")
		}
		th.AssertStatusCode(t, resp, http.StatusUnauthorized)
		_ = resp.Body.Close()
	})

	rejections := []struct {
		name    string
		key     string
		message string
	}{
		{name: "missing key", key: "", message: "Authentication failed: Key is required"},
		{name: "invalid key", key: "not-the-key", message: "Authentication failed: Invalid key"},
	}
	for _, tt := range rejections {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := th.ConnectWebSocket(wsURL, tt.key)
			if err == nil {
				conn.Close()
				t.Fatal("Expected handshake to fail")
			}
			if resp == nil {
				t.Fatalf("Expected an HTTP response, got error %v", err)
			}
			th.AssertStatusCode(t, resp, http.StatusUnauthorized)

			var body server.HandshakeRejection
			th.DecodeJSON(t, resp, &body)
			if body.Message != tt.message {
				t.Errorf("Expected message %q, got %q", tt.message, body.Message)
			}
		})
	}
}

func TestDisallowedOriginRejected(t *testing.T) {
	ts, _ := startRelay(t, func(cfg *config.Config) {
		cfg.AllowedOrigins = []string{"http://good.example"}
	})

	header := http.Header{}
	header.Set("x-project-key", testKey)
	header.Set("Origin", "http://evil.example")

	conn, resp, err := websocket.DefaultDialer.Dial(th.WebSocketURL(ts.URL), header)
	if err == nil {
		conn.Close()
		t.Fatal("Expected handshake from a disallowed origin to fail")
	}
	th.AssertStatusCode(t, resp, http.StatusForbidden)
	_ = resp.Body.Close()
}

func TestMessageBroadcastWithAck(t *testing.T) {
	ts, _ := startRelay(t, nil)
	wsURL := th.WebSocketURL(ts.URL)

	c1, id1 := th.MustConnect(t, wsURL, testKey)
	c2, _ := th.MustConnect(t, wsURL, testKey)

	th.MustSendEvent(t, c1, "message", map[string]any{"type": "t", "content": "hi"}, th.AckID(1))

	var got map[string]any
	th.ReadUntilEvent(t, c2, "message").DecodeData(t, &got)
	if got["from"] != id1 || got["content"] != "hi" || got["type"] != "t" {
		t.Errorf("Peer received unexpected envelope %v", got)
	}
	if _, err := time.Parse(time.RFC3339Nano, got["timestamp"].(string)); err != nil {
		t.Errorf("Expected ISO-8601 timestamp, got %v", got["timestamp"])
	}

	th.ReadUntilEvent(t, c1, "message").DecodeData(t, &got)
	if got["from"] != id1 {
		t.Errorf("Sender's copy has from %v, want %s", got["from"], id1)
	}

	var ack ackData
	th.ReadAck(t, c1, 1).DecodeData(t, &ack)
	if !ack.Success || ack.Message != "Message sent successfully" || ack.Timestamp == "" {
		t.Errorf("Unexpected ack %+v", ack)
	}
}

func TestInvalidMessageAck(t *testing.T) {
	ts, _ := startRelay(t, nil)
	c1, _ := th.MustConnect(t, th.WebSocketURL(ts.URL), testKey)

	th.MustSendEvent(t, c1, "message", []int{1, 2}, th.AckID(9))

	var ack ackData
	th.ReadAck(t, c1, 9).DecodeData(t, &ack)
	if ack.Success || ack.Message != "Invalid message format" {
		t.Errorf("Unexpected ack %+v", ack)
	}
}

func TestRoomMessageReachesOnlyMembers(t *testing.T) {
	ts, _ := startRelay(t, nil)
	wsURL := th.WebSocketURL(ts.URL)

	c1, id1 := th.MustConnect(t, wsURL, testKey)
	c2, _ := th.MustConnect(t, wsURL, testKey)

	th.MustSendEvent(t, c1, "join-room", "lobby", th.AckID(1))
	var joined ackData
	th.ReadAck(t, c1, 1).DecodeData(t, &joined)
	if !joined.Success || joined.Room != "lobby" || joined.Message != "Joined room: lobby" {
		t.Fatalf("Unexpected join ack %+v", joined)
	}

	th.MustSendEvent(t, c1, "room-message", map[string]any{"room": "lobby", "content": "x"}, th.AckID(2))
	var env map[string]any
	th.ReadUntilEvent(t, c1, "room-message").DecodeData(t, &env)
	if env["from"] != id1 || env["room"] != "lobby" || env["content"] != "x" {
		t.Errorf("Unexpected room envelope %v", env)
	}
	var sent ackData
	th.ReadAck(t, c1, 2).DecodeData(t, &sent)
	if !sent.Success || sent.Room != "lobby" || sent.Message != "Room message sent successfully" {
		t.Errorf("Unexpected room-message ack %+v", sent)
	}

	// Frames reach each connection in hub order, so the non-member's next
	// frame after the room message must be this global message.
	th.MustSendEvent(t, c1, "message", map[string]any{"content": "marker"}, nil)
	frame := th.ReadFrame(t, c2)
	if frame.Event != "message" {
		t.Fatalf("Non-member received %q before the marker message", frame.Event)
	}
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	ts, _ := startRelay(t, nil)
	wsURL := th.WebSocketURL(ts.URL)

	c1, _ := th.MustConnect(t, wsURL, testKey)
	c2, _ := th.MustConnect(t, wsURL, testKey)

	th.MustSendEvent(t, c2, "join-room", "lobby", th.AckID(1))
	th.ReadAck(t, c2, 1)
	th.MustSendEvent(t, c2, "leave-room", "lobby", th.AckID(2))
	var left ackData
	th.ReadAck(t, c2, 2).DecodeData(t, &left)
	if !left.Success || left.Message != "Left room: lobby" {
		t.Fatalf("Unexpected leave ack %+v", left)
	}

	th.MustSendEvent(t, c1, "room-message", map[string]any{"room": "lobby"}, nil)
	th.MustSendEvent(t, c1, "message", map[string]any{"content": "marker"}, nil)
	if frame := th.ReadFrame(t, c2); frame.Event != "message" {
		t.Fatalf("Former member received %q before the marker message", frame.Event)
	}
}

func TestDisconnectLeavesAllRooms(t *testing.T) {
	ts, srv := startRelay(t, nil)
	wsURL := th.WebSocketURL(ts.URL)

	c1, _ := th.MustConnect(t, wsURL, testKey)
	for i, name := range []string{"A", "B"} {
		th.MustSendEvent(t, c1, "join-room", name, th.AckID(uint64(i+1)))
		th.ReadAck(t, c1, uint64(i+1))
	}
	if got := srv.Hub().Rooms().RoomCount(); got != 2 {
		t.Fatalf("Expected 2 rooms, got %d", got)
	}

	if err := th.CloseWebSocket(c1); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	th.Eventually(t, 2*time.Second, func() bool {
		return srv.Hub().Rooms().RoomCount() == 0 && srv.Hub().ClientCount() == 0
	}, "Expected disconnect to empty every room")
}

func TestInvalidFrames(t *testing.T) {
	ts, _ := startRelay(t, nil)
	c1, _ := th.MustConnect(t, th.WebSocketURL(ts.URL), testKey)

	for _, raw := range []string{"not json", `{"data":{}}`} {
		if err := th.SendRawMessage(c1, []byte(raw)); err != nil {
			t.Fatalf("Failed to send: %v", err)
		}
		var e server.ErrorEvent
		th.ReadUntilEvent(t, c1, "error").DecodeData(t, &e)
		if e.Message != "Invalid frame" {
			t.Errorf("Expected Invalid frame error for %q, got %+v", raw, e)
		}
	}
}

func TestInvalidFrameWithAckIsAnswered(t *testing.T) {
	ts, _ := startRelay(t, nil)
	c1, _ := th.MustConnect(t, th.WebSocketURL(ts.URL), testKey)

	if err := th.SendRawMessage(c1, []byte(`{"data":{},"ackId":4}`)); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	var ack ackData
	th.ReadAck(t, c1, 4).DecodeData(t, &ack)
	if ack.Success || ack.Message != "Invalid frame" {
		t.Errorf("Unexpected ack %+v", ack)
	}
}

func TestJoinFailureCarriesRoom(t *testing.T) {
	ts, _ := startRelay(t, nil)
	c1, _ := th.MustConnect(t, th.WebSocketURL(ts.URL), testKey)

	th.MustSendEvent(t, c1, "join-room", "", th.AckID(3))

	var fields map[string]any
	th.ReadAck(t, c1, 3).DecodeData(t, &fields)
	if room, ok := fields["room"]; !ok || room != "" {
		t.Errorf("Expected empty room in failure ack, got %v", fields)
	}
	if fields["success"] != false || fields["message"] != "Failed to join room" {
		t.Errorf("Unexpected failure ack %v", fields)
	}
}

func TestUnknownEventWithAck(t *testing.T) {
	ts, _ := startRelay(t, nil)
	c1, _ := th.MustConnect(t, th.WebSocketURL(ts.URL), testKey)

	th.MustSendEvent(t, c1, "dance", nil, th.AckID(5))

	var ack ackData
	th.ReadAck(t, c1, 5).DecodeData(t, &ack)
	if ack.Success || ack.Message != "Unknown event" || ack.Error != "dance" {
		t.Errorf("Unexpected ack %+v", ack)
	}
}

func TestRateLimitedFramesAreRejected(t *testing.T) {
	ts, _ := startRelay(t, func(cfg *config.Config) {
		cfg.RateLimit.Burst = 2
		cfg.RateLimit.RefillInterval = time.Hour
	})
	c1, _ := th.MustConnect(t, th.WebSocketURL(ts.URL), testKey)

	for i := 0; i < 3; i++ {
		th.MustSendEvent(t, c1, "message", map[string]any{"n": i}, nil)
	}

	var e server.ErrorEvent
	th.ReadUntilEvent(t, c1, "error").DecodeData(t, &e)
	if e.Message != "Rate limit exceeded" {
		t.Errorf("Expected rate limit error, got %+v", e)
	}
}

func TestRateLimitedFrameWithAckIsAnswered(t *testing.T) {
	ts, srv := startRelay(t, func(cfg *config.Config) {
		cfg.RateLimit.Burst = 1
		cfg.RateLimit.RefillInterval = time.Hour
	})
	c1, id1 := th.MustConnect(t, th.WebSocketURL(ts.URL), testKey)

	th.MustSendEvent(t, c1, "join-room", "a", th.AckID(1))
	th.MustSendEvent(t, c1, "join-room", "b", th.AckID(2))

	var first ackData
	th.ReadAck(t, c1, 1).DecodeData(t, &first)
	if !first.Success {
		t.Errorf("Expected first join to succeed, got %+v", first)
	}

	var limited ackData
	th.ReadAck(t, c1, 2).DecodeData(t, &limited)
	if limited.Success || limited.Message != "Rate limit exceeded" {
		t.Errorf("Expected rate limit failure ack, got %+v", limited)
	}
	if srv.Hub().Rooms().IsMember(id1, "b") {
		t.Error("Rate-limited join-room was applied")
	}
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	ts, srv := startRelay(t, func(cfg *config.Config) {
		cfg.MaxMessageSize = 512
	})
	c1, _ := th.MustConnect(t, th.WebSocketURL(ts.URL), testKey)

	payload := map[string]any{"content": strings.Repeat("x", 2048)}
	th.MustSendEvent(t, c1, "message", payload, nil)

	th.ExpectClosed(t, c1)
	th.Eventually(t, 2*time.Second, func() bool {
		return srv.Hub().ClientCount() == 0
	}, "Expected oversized sender to be disconnected")
}

func TestStatusReportsConnections(t *testing.T) {
	ts, srv := startRelay(t, nil)
	wsURL := th.WebSocketURL(ts.URL)

	c1, _ := th.MustConnect(t, wsURL, testKey)
	th.MustConnect(t, wsURL, testKey)
	th.MustSendEvent(t, c1, "join-room", "lobby", th.AckID(1))
	th.ReadAck(t, c1, 1)

	th.Eventually(t, 2*time.Second, func() bool {
		return srv.Hub().ClientCount() == 2
	}, "Expected two registered clients")

	resp := th.MakeRequest(t, http.MethodGet, ts.URL+"/status")
	th.AssertStatusCode(t, resp, http.StatusOK)
	var status server.StatusResponse
	th.DecodeJSON(t, resp, &status)
	if status.ConnectedClients != 2 || status.Rooms != 1 {
		t.Errorf("Unexpected status %+v", status)
	}
}

func TestShutdownClosesClients(t *testing.T) {
	ts, srv := startRelay(t, nil)
	c1, _ := th.MustConnect(t, th.WebSocketURL(ts.URL), testKey)

	if err := srv.Hub().Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Hub shutdown failed: %v", err)
	}
	th.ExpectClosed(t, c1)

	conn, resp, err := th.ConnectWebSocket(th.WebSocketURL(ts.URL), testKey)
	if err == nil {
		defer conn.Close()
		th.ExpectClosed(t, conn)
	} else if resp != nil {
		_ = resp.Body.Close()
	}
}
