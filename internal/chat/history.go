package chat

import (
	"context"
	"fmt"

	"samvad-chat/internal/models"
)

// History serves the recent messages of a group, oldest first, with the same
// enrichment and anonymity masking as live delivery.
type History struct {
	store        MessageStore
	defaultLimit int
	maxLimit     int
}

func NewHistory(store MessageStore, defaultLimit, maxLimit int) *History {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	if maxLimit < defaultLimit {
		maxLimit = defaultLimit
	}
	return &History{store: store, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// Limit normalizes a requested page size: non-positive means the default,
// anything above the cap is clamped.
func (h *History) Limit(requested int) int {
	switch {
	case requested <= 0:
		return h.defaultLimit
	case requested > h.maxLimit:
		return h.maxLimit
	default:
		return requested
	}
}

// ListRecent returns up to limit of the newest messages in groupID, in
// ascending seq order. Access control is the caller's job.
func (h *History) ListRecent(ctx context.Context, groupID int64, limit int) ([]*models.OutboundMessage, error) {
	rows, err := h.store.ListRecentMessages(ctx, groupID, h.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to load history for group %d: %w", groupID, err)
	}

	out := make([]*models.OutboundMessage, len(rows))
	for i, row := range rows {
		msg := row.Message
		out[len(rows)-1-i] = Enrich(&msg, row.Author)
	}
	return out, nil
}
