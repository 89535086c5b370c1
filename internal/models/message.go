package models

import "time"

// Message is a persisted chat message. ID, Seq and CreatedAt are assigned by
// the store in the insert transaction. IsAnonymous is the effective flag: it
// is only set when the sender asked for it and the group allows it.
type Message struct {
	ID          int64     `json:"id"`
	Seq         int64     `json:"seq"`
	GroupID     int64     `json:"group_id"`
	UserID      int64     `json:"user_id"`
	Body        string    `json:"message"`
	IsAnonymous bool      `json:"is_anonymous"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuthoredMessage is a history row joined with its author's identity.
type AuthoredMessage struct {
	Message
	Author Identity
}

// OutboundMessage is the enriched message shape delivered to clients on both
// the live and the history path.
type OutboundMessage struct {
	ID          int64     `json:"id"`
	Seq         int64     `json:"seq"`
	GroupID     int64     `json:"group_id"`
	UserID      int64     `json:"user_id"`
	Message     string    `json:"message"`
	IsAnonymous bool      `json:"is_anonymous"`
	DisplayName string    `json:"display_name"`
	Username    string    `json:"username"`
	CreatedAt   time.Time `json:"created_at"`
}

type HistoryResponse struct {
	Messages []*OutboundMessage `json:"messages"`
}
