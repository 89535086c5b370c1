package chat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherRunsTasks(t *testing.T) {
	d := NewDispatcher(4, time.Second)

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Submit(context.Background(), func() { ran.Add(1) }))
	}

	require.NoError(t, d.Shutdown(context.Background()))
	assert.Equal(t, int32(10), ran.Load())
	assert.Equal(t, 0, d.InFlight())
}

func TestDispatcherOverloaded(t *testing.T) {
	d := NewDispatcher(1, 20*time.Millisecond)

	release := make(chan struct{})
	require.NoError(t, d.Submit(context.Background(), func() { <-release }))
	assert.Equal(t, 1, d.InFlight())

	err := d.Submit(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrOverloaded)

	close(release)
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestDispatcherSubmitHonorsCallerContext(t *testing.T) {
	d := NewDispatcher(1, time.Minute)

	release := make(chan struct{})
	require.NoError(t, d.Submit(context.Background(), func() { <-release }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Submit(ctx, func() {}), ErrOverloaded)

	close(release)
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestDispatcherShutdown(t *testing.T) {
	d := NewDispatcher(2, time.Second)

	release := make(chan struct{})
	require.NoError(t, d.Submit(context.Background(), func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)

	assert.ErrorIs(t, d.Submit(context.Background(), func() {}), ErrOverloaded,
		"no new work after shutdown")

	close(release)
	assert.NoError(t, d.Shutdown(context.Background()))
}
