// Package server coordinates connection registration, inbound event dispatch,
// and outbound delivery for the relay via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/sparkrelay/internal/logging"
	"github.com/Tyrowin/sparkrelay/internal/room"
)

// Disconnect reasons reported to sessions and logs.
const (
	ReasonClientDisconnect = "client namespace disconnect"
	ReasonTransportClose   = "transport close"
	ReasonPingTimeout      = "ping timeout"
	ReasonTransportError   = "transport error"
	ReasonMessageTooLarge  = "message too large"
	ReasonSlowConsumer     = "slow consumer"
	ReasonServerShutdown   = "server shutting down"
)

type inboundEvent struct {
	client *Client
	frame  InboundFrame
	// rejection, when set, answers the frame with this failure instead of
	// dispatching it.
	rejection string
}

type disconnection struct {
	client *Client
	reason string
}

// Hub owns the set of live connections and the room registry. Its Run loop
// is the single place where sessions are connected, events are dispatched and
// disconnections are processed, so each inbound event runs to completion
// before the next one starts.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan disconnection
	inbound    chan inboundEvent
	rooms      *room.Registry
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub that delivers room broadcasts using rooms.
func NewHub(rooms *room.Registry) *Hub {
	if rooms == nil {
		rooms = room.NewRegistry(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan disconnection),
		inbound:    make(chan inboundEvent),
		rooms:      rooms,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Rooms returns the hub's room registry.
func (h *Hub) Rooms() *room.Registry {
	return h.rooms
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Register hands a new client to the hub loop. It returns false if the hub
// has stopped or ctx ends first.
func (h *Hub) Register(ctx context.Context, client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

func (h *Hub) disconnect(client *Client, reason string) {
	select {
	case h.unregister <- disconnection{client: client, reason: reason}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) dispatch(client *Client, frame InboundFrame) bool {
	return h.enqueue(inboundEvent{client: client, frame: frame})
}

// reject queues a failure answer for a frame the client refused to dispatch.
// It shares the inbound queue so the answer keeps its place among the
// connection's other responses.
func (h *Hub) reject(client *Client, frame InboundFrame, message string) bool {
	return h.enqueue(inboundEvent{client: client, frame: frame, rejection: message})
}

func (h *Hub) enqueue(ev inboundEvent) bool {
	select {
	case h.inbound <- ev:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Run starts the hub's main event loop. It should be called in its own
// goroutine and returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				logging.Warn("Received nil client registration; skipping")
				continue
			}
			h.addClient(client)

		case d := <-h.unregister:
			h.removeClient(d.client, d.reason)

		case ev := <-h.inbound:
			h.handleInbound(ev)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()

	if client.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			client.writePump()
		}()
		go func() {
			defer h.wg.Done()
			client.readPump()
		}()
	}

	client.session.Connected(clientCount)
}

// removeClient unregisters client, closes its send channel and runs the
// session's disconnect handling. It is a no-op for clients already removed.
// Only the Run goroutine calls it.
func (h *Hub) removeClient(client *Client, reason string) {
	if client == nil {
		return
	}

	h.mutex.Lock()
	current, ok := h.clients[client.id]
	if !ok || current != client {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.id)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)

	client.session.Disconnected(reason, clientCount)
}

func (h *Hub) handleInbound(ev inboundEvent) {
	h.mutex.RLock()
	_, registered := h.clients[ev.client.id]
	h.mutex.RUnlock()
	if !registered {
		return
	}

	ack := NoAck()
	if ev.frame.AckID != nil {
		ackID := *ev.frame.AckID
		client := ev.client
		ack = AckWith(func(resp AckResponse) {
			h.deliver([]*Client{client}, OutboundFrame{Event: EventAck, AckID: &ackID, Data: resp})
		})
	}

	if ev.rejection != "" {
		ev.client.session.Reject(ev.rejection, ack)
		return
	}
	ev.client.session.Dispatch(ev.frame.Event, ev.frame.Data, ack)
}

// Emit sends event to the connection with the given id. Emit, Broadcast and
// BroadcastRoom may remove slow consumers, so they are called only from the
// Run goroutine, through a Session.
func (h *Hub) Emit(connID string, event EventName, payload any) bool {
	h.mutex.RLock()
	client, ok := h.clients[connID]
	h.mutex.RUnlock()
	if !ok {
		return false
	}
	return h.deliver([]*Client{client}, OutboundFrame{Event: event, Data: payload}) == 1
}

// Broadcast sends event to every registered connection, the sender included.
func (h *Hub) Broadcast(event EventName, payload any) int {
	return h.deliver(h.getClientSnapshot(), OutboundFrame{Event: event, Data: payload})
}

// BroadcastRoom sends event to every member of room.
func (h *Hub) BroadcastRoom(roomName string, event EventName, payload any) int {
	members := h.rooms.MembersOf(roomName)
	if len(members) == 0 {
		return 0
	}

	h.mutex.RLock()
	targets := make([]*Client, 0, len(members))
	for _, id := range members {
		if client, ok := h.clients[id]; ok {
			targets = append(targets, client)
		}
	}
	h.mutex.RUnlock()

	return h.deliver(targets, OutboundFrame{Event: event, Data: payload})
}

// deliver encodes frame once and queues it for every target. Targets whose
// send buffer is full are disconnected. It returns the number of targets the
// frame was queued for.
func (h *Hub) deliver(targets []*Client, frame OutboundFrame) int {
	if len(targets) == 0 {
		return 0
	}

	data, err := json.Marshal(frame)
	if err != nil {
		logging.Error("Failed to encode outbound frame",
			zap.String("event", string(frame.Event)),
			zap.Error(err),
		)
		return 0
	}

	delivered := 0
	var failed []*Client
	for _, client := range targets {
		if h.safeSend(client, data) {
			delivered++
		} else {
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(failed)
	return delivered
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Recovered from panic in safeSend", zap.Any("panic", r))
		}
	}()

	// Hold the lock during the entire send operation to prevent races with close
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	current, exists := h.clients[client.id]
	if !exists || current != client || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients disconnects clients whose send buffer overflowed.
func (h *Hub) removeFailedClients(clients []*Client) {
	for _, client := range clients {
		h.mutex.RLock()
		current, exists := h.clients[client.id]
		h.mutex.RUnlock()
		if !exists || current != client {
			continue
		}
		logging.Warn("Dropping client with full send buffer",
			zap.String("socket_id", client.id),
			zap.String("remote_addr", client.addr),
		)
		h.removeClient(client, ReasonSlowConsumer)
	}
}

// shutdownClients removes every client; their write pumps then send a close
// frame and close the socket.
func (h *Hub) shutdownClients() {
	logging.Info("Shutting down all client connections...")

	clients := h.getClientSnapshot()
	for _, client := range clients {
		h.removeClient(client, ReasonServerShutdown)
	}

	logging.Info("Closed client connections", zap.Int("count", len(clients)))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	logging.Info("Initiating hub shutdown...")

	h.cancel()

	select {
	case <-h.done:
	case <-time.After(timeout):
		logging.Warn("Hub loop did not stop before timeout")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		logging.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
