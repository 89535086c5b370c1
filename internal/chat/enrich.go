package chat

import "samvad-chat/internal/models"

// AnonymousName replaces both the handle and the display name of masked senders.
const AnonymousName = "Anonymous"

// Enrich turns a persisted message into its outbound shape. It is the only
// place masking is decided, for both live delivery and history. The author id
// is kept as stored.
func Enrich(msg *models.Message, author models.Identity) *models.OutboundMessage {
	out := &models.OutboundMessage{
		ID:          msg.ID,
		Seq:         msg.Seq,
		GroupID:     msg.GroupID,
		UserID:      msg.UserID,
		Message:     msg.Body,
		IsAnonymous: msg.IsAnonymous,
		DisplayName: author.DisplayName,
		Username:    author.Username,
		CreatedAt:   msg.CreatedAt,
	}

	if msg.IsAnonymous {
		out.DisplayName = AnonymousName
		out.Username = AnonymousName
	}

	return out
}
