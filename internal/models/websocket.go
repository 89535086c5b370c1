package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type EventType string

const (
	// client -> server
	EventJoinGroup   EventType = "join_group"
	EventLeaveGroup  EventType = "leave_group"
	EventSendMessage EventType = "send_message"

	// server -> client
	EventNewMessage   EventType = "new_message"
	EventMessageError EventType = "message_error"
	EventJoined       EventType = "joined"
)

// Envelope is the frame exchanged over the WebSocket in both directions.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type SendMessageRequest struct {
	GroupID     int64  `json:"group_id"`
	UserID      int64  `json:"user_id"`
	Message     string `json:"message"`
	IsAnonymous bool   `json:"is_anonymous,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

type JoinedPayload struct {
	GroupID int64 `json:"group_id"`
}

// EncodeEvent marshals data into a complete envelope frame.
func EncodeEvent(event EventType, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// ParseGroupID decodes a scalar group id sent either as a JSON number or a
// numeric string.
func ParseGroupID(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("group id must be a number")
		}
		n = json.Number(strings.TrimSpace(s))
	}

	id, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid group id %q", n.String())
	}
	return id, nil
}
