package chat

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSequencerSerializesPerGroup(t *testing.T) {
	s := newSequencer()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.lock(1)
			defer unlock()

			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, 0, s.size(), "idle locks are released")
}

func TestSequencerGroupsAreIndependent(t *testing.T) {
	s := newSequencer()

	unlock := s.lock(1)
	defer unlock()

	done := make(chan struct{})
	go func() {
		release := s.lock(2)
		release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on group 2 blocked behind group 1")
	}
	assert.Equal(t, 1, s.size())
}
