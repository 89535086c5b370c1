package chat

import "sync"

type groupLock struct {
	mu   sync.Mutex
	refs int
}

// sequencer serializes the persist-then-broadcast step per group so that
// broadcasts leave in the order the store assigned. Locks are created on
// demand and dropped once no sender holds or waits on them.
type sequencer struct {
	mu    sync.Mutex
	locks map[int64]*groupLock
}

func newSequencer() *sequencer {
	return &sequencer{locks: make(map[int64]*groupLock)}
}

// lock blocks until the caller owns groupID and returns the matching unlock.
func (s *sequencer) lock(groupID int64) func() {
	s.mu.Lock()
	l, ok := s.locks[groupID]
	if !ok {
		l = &groupLock{}
		s.locks[groupID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, groupID)
		}
		s.mu.Unlock()
	}
}

func (s *sequencer) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
