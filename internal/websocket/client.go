package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"samvad-chat/internal/chat"
	"samvad-chat/internal/models"
	"samvad-chat/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("send buffer full")
)

// Client is one live WebSocket connection. It is registered with the hub's
// registry for as long as its read pump runs.
//
// Each send_message frame is submitted to the dispatcher on its own, so two
// frames sent back to back by one client may be stored in either order.
// Ordering is per group, not per sender.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	handle chat.Handle
	userID int64
	send   chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, userID int64) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, hub.cfg.SendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Deliver queues payload for the write pump without blocking.
func (c *Client) Deliver(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		// Slow consumer: flush what is queued, then drop the connection.
		c.closed = true
		close(c.send)
		return errSendBufferFull
	}
}

// close stops delivery and lets the write pump flush a close frame.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket error on %s: %v", c.handle, err)
			}
			return
		}
		c.handleFrame(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("Write error on %s: %v", c.handle, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(raw []byte) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.sendError(fmt.Errorf("%w: malformed frame", chat.ErrInvalidMessage))
		return
	}

	switch env.Event {
	case models.EventJoinGroup:
		c.join(env.Data)
	case models.EventLeaveGroup:
		groupID, err := models.ParseGroupID(env.Data)
		if err != nil {
			c.sendError(fmt.Errorf("%w: %v", chat.ErrInvalidMessage, err))
			return
		}
		c.hub.registry.Leave(c.handle, groupID)
	case models.EventSendMessage:
		c.submit(env.Data)
	default:
		c.sendError(fmt.Errorf("%w: unknown event %q", chat.ErrInvalidMessage, env.Event))
	}
}

func (c *Client) join(data json.RawMessage) {
	groupID, err := models.ParseGroupID(data)
	if err != nil {
		c.sendError(fmt.Errorf("%w: %v", chat.ErrInvalidMessage, err))
		return
	}

	// Authenticated connections may only watch groups they belong to.
	if c.userID != 0 {
		member, err := c.hub.members.VerifyMembership(c.ctx, groupID, c.userID)
		if err != nil {
			logger.Error("Membership check for user %d in group %d failed: %v", c.userID, groupID, err)
			c.sendError(chat.ErrStorage)
			return
		}
		if !member {
			c.sendError(chat.ErrNotAMember)
			return
		}
	}

	c.hub.registry.Join(c.handle, groupID)
	c.sendEvent(models.EventJoined, models.JoinedPayload{GroupID: groupID})
}

func (c *Client) submit(data json.RawMessage) {
	var req models.SendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(fmt.Errorf("%w: malformed send_message payload", chat.ErrInvalidMessage))
		return
	}

	if c.userID == 0 && c.hub.cfg.RequireAuth {
		c.sendError(fmt.Errorf("%w: authentication required to send", chat.ErrInvalidMessage))
		return
	}
	if c.userID != 0 {
		switch req.UserID {
		case 0:
			req.UserID = c.userID
		case c.userID:
		default:
			c.sendError(fmt.Errorf("%w: user_id does not match the authenticated user", chat.ErrInvalidMessage))
			return
		}
	}

	err := c.hub.dispatcher.Submit(c.ctx, func() {
		if _, err := c.hub.pipeline.Send(c.ctx, req); err != nil {
			c.sendError(err)
		}
	})
	if err != nil {
		c.sendError(err)
	}
}

func (c *Client) sendError(err error) {
	c.sendEvent(models.EventMessageError, models.ErrorPayload{Error: chat.PublicError(err)})
}

func (c *Client) sendEvent(event models.EventType, data any) {
	frame, err := models.EncodeEvent(event, data)
	if err != nil {
		logger.Error("Error encoding %s for %s: %v", event, c.handle, err)
		return
	}
	if err := c.Deliver(frame); err != nil {
		logger.Debug("Dropping %s for %s: %v", event, c.handle, err)
	}
}
