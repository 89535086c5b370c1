package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"samvad-chat/internal/chat"
	"samvad-chat/pkg/logger"

	"github.com/gorilla/websocket"
)

var ErrHubClosed = errors.New("hub is shutting down")

type Config struct {
	SendBuffer     int
	MaxMessageSize int64
	// RequireAuth rejects send_message from connections without a user id.
	RequireAuth bool
}

type Stats struct {
	Connections   int                `json:"connections"`
	Rooms         int                `json:"rooms"`
	InFlightSends int                `json:"in_flight_sends"`
	Messages      chat.PipelineStats `json:"messages"`
}

// Hub owns the live side of the chat: it attaches upgraded connections to the
// registry and hands their sends to the dispatcher.
type Hub struct {
	registry   *chat.Registry
	pipeline   *chat.Pipeline
	dispatcher *chat.Dispatcher
	members    chat.MembershipDirectory
	cfg        Config

	mu      sync.Mutex
	clients map[*Client]struct{}
	closing bool
	pumps   sync.WaitGroup
}

func NewHub(registry *chat.Registry, pipeline *chat.Pipeline, dispatcher *chat.Dispatcher, members chat.MembershipDirectory, cfg Config) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 8192
	}

	return &Hub{
		registry:   registry,
		pipeline:   pipeline,
		dispatcher: dispatcher,
		members:    members,
		cfg:        cfg,
		clients:    make(map[*Client]struct{}),
	}
}

// Serve takes ownership of conn and runs it until either side closes. userID
// is the authenticated user, or zero for an unauthenticated connection.
func (h *Hub) Serve(conn *websocket.Conn, userID int64) error {
	c := newClient(h, conn, userID)

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server closing"), time.Now().Add(writeWait))
		conn.Close()
		return ErrHubClosed
	}
	c.handle = h.registry.Register(c)
	h.clients[c] = struct{}{}
	h.pumps.Add(2)
	h.mu.Unlock()

	logger.Info("Connection %s opened (user %d)", c.handle, userID)

	go func() {
		defer h.pumps.Done()
		c.writePump()
	}()
	go func() {
		defer h.pumps.Done()
		c.readPump()
	}()
	return nil
}

// detach runs once per client when its read pump exits.
func (h *Hub) detach(c *Client) {
	h.registry.Unregister(c.handle)
	c.cancel()
	c.close()

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	logger.Info("Connection %s closed", c.handle)
}

// Shutdown refuses new connections, closes the open ones and waits for
// in-flight sends to finish persisting.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	open := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		open = append(open, c)
	}
	h.mu.Unlock()

	logger.Info("Closing %d WebSocket connections", len(open))
	for _, c := range open {
		c.close()
	}

	if err := h.dispatcher.Shutdown(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Stats() Stats {
	return Stats{
		Connections:   h.registry.ConnectionCount(),
		Rooms:         h.registry.RoomCount(),
		InFlightSends: h.dispatcher.InFlight(),
		Messages:      h.pipeline.Stats(),
	}
}
