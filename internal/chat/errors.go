package chat

import "errors"

var (
	// ErrInvalidMessage: empty or malformed body. Reported to the sender only.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrNotAMember: sender is not a member of the group, or either id is unknown.
	ErrNotAMember = errors.New("not a member of this group")
	// ErrStorage: the message could not be persisted and was not broadcast.
	ErrStorage = errors.New("failed to store message")
	// ErrOverloaded: no send slot became free within the queue timeout.
	ErrOverloaded = errors.New("server busy, try again")
)

// PublicError maps an error from the send path to the text reported back in a
// message_error event. Storage details stay in the server log.
func PublicError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidMessage):
		return err.Error()
	case errors.Is(err, ErrNotAMember):
		return ErrNotAMember.Error()
	case errors.Is(err, ErrOverloaded):
		return ErrOverloaded.Error()
	case errors.Is(err, ErrStorage):
		return ErrStorage.Error()
	default:
		return "internal error"
	}
}

func isStorageError(err error) bool {
	return errors.Is(err, ErrStorage)
}
