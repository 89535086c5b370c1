package chat

import (
	"context"

	"samvad-chat/internal/models"
)

// MembershipDirectory answers group access questions.
type MembershipDirectory interface {
	VerifyMembership(ctx context.Context, groupID, userID int64) (bool, error)
	GroupAllowsAnonymity(ctx context.Context, groupID int64) (bool, error)
}

// IdentityResolver returns the handle and display name shown for a user. A
// user that does not exist yields an error matching models.ErrUnknownIdentity.
type IdentityResolver interface {
	DisplayIdentity(ctx context.Context, userID int64) (*models.Identity, error)
}

// MessageStore is the durable, per-group ordered message log.
type MessageStore interface {
	// AppendMessage persists msg and returns it with ID, Seq and CreatedAt set.
	AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
	// ListRecentMessages returns at most limit messages, newest first.
	ListRecentMessages(ctx context.Context, groupID int64, limit int) ([]*models.AuthoredMessage, error)
}

// Broadcaster fans a payload out to the live subscribers of a group.
type Broadcaster interface {
	Broadcast(groupID int64, payload []byte) int
}
