// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/sparkrelay/internal/config"
	"github.com/Tyrowin/sparkrelay/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

const (
	msgRateLimited  = "Rate limit exceeded"
	msgInvalidFrame = "Invalid frame"
)

// Client represents one WebSocket connection. It owns the socket, the
// outbound send buffer and the Session that handles its events.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	closed         bool
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      config.RateLimitConfig
	session        *Session
}

// NewClient creates a Client with a fresh connection id for conn. A nil conn
// yields a client without pumps, which only buffers outbound frames.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, cfg *config.Config) *Client {
	if cfg == nil {
		cfg = config.Default()
	}
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	c := &Client{
		id:             uuid.NewString(),
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
	}
	c.session = NewSession(c.id, addr, hub, hub.Rooms())
	return c
}

// ID returns the connection id assigned at creation.
func (c *Client) ID() string {
	return c.id
}

// GetSendChan returns the client's send channel for reading outgoing frames.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Warn("Error setting initial read deadline", zap.String("socket_id", c.id), zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// disconnectReason classifies a read error into the reason reported to the
// session. Unexpected errors are also reported as transport errors.
func (c *Client) disconnectReason(err error) string {
	if errors.Is(err, websocket.ErrReadLimit) {
		logging.Warn("Frame exceeded maximum size",
			zap.String("socket_id", c.id),
			zap.Int64("max_message_size", c.maxMessageSize),
		)
		return ReasonMessageTooLarge
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return ReasonClientDisconnect
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonPingTimeout
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isExpectedCloseError(err) ||
		websocket.IsCloseError(err, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
		return ReasonTransportClose
	}

	c.session.TransportError(err)
	return ReasonTransportError
}

// checkRateLimit reports whether the next frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter == nil || c.rateLimiter.allow() {
		return true
	}
	logging.Warn("Rate limit exceeded; discarding frame",
		zap.String("socket_id", c.id),
		zap.Int("burst", c.rateLimit.Burst),
		zap.Duration("refill_interval", c.rateLimit.RefillInterval),
	)
	return false
}

// decodeFrame parses a raw frame. A frame that is not JSON or names no event
// is invalid; any ackId it carried is still returned so the failure can be
// acknowledged.
func decodeFrame(raw []byte) (InboundFrame, bool) {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return InboundFrame{AckID: frame.AckID}, false
	}
	return frame, frame.Event != ""
}

// processFrame decodes a raw frame and hands it to the hub loop, either for
// dispatch or to be answered with a failure. It returns false when the hub
// has stopped.
func (c *Client) processFrame(raw []byte) bool {
	frame, valid := decodeFrame(raw)

	if !c.checkRateLimit() {
		return c.hub.reject(c, frame, msgRateLimited)
	}

	if !valid {
		logging.Warn("Invalid frame", zap.String("socket_id", c.id))
		return c.hub.reject(c, frame, msgInvalidFrame)
	}

	logging.Debug("Frame received",
		zap.String("socket_id", c.id),
		zap.String("event", string(frame.Event)),
		zap.Bool("ack", frame.AckID != nil),
	)
	return c.hub.dispatch(c, frame)
}

func (c *Client) readPump() {
	reason := ReasonTransportClose
	defer func() {
		c.hub.disconnect(c, reason)
		c.closeConnection()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			reason = c.disconnectReason(err)
			return
		}

		if !c.processFrame(raw) {
			reason = ReasonServerShutdown
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		logging.Debug("Error closing connection", zap.String("socket_id", c.id), zap.Error(err))
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		logging.Debug("Error setting write deadline", zap.String("socket_id", c.id), zap.Error(err))
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			logging.Warn("Error writing frame", zap.String("socket_id", c.id), zap.Error(err))
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close frame once the hub has removed the client
func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		logging.Debug("Error writing close message", zap.String("socket_id", c.id), zap.Error(err))
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			logging.Debug("Error writing ping", zap.String("socket_id", c.id), zap.Error(err))
		}
		return false
	}
	return true
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
