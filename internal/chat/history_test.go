package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"samvad-chat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	MessageStore
	err error
}

func (s failingStore) ListRecentMessages(context.Context, int64, int) ([]*models.AuthoredMessage, error) {
	return nil, s.err
}

func TestHistoryLimit(t *testing.T) {
	h := NewHistory(nil, 50, 200)

	tests := []struct {
		requested int
		want      int
	}{
		{0, 50},
		{-3, 50},
		{1, 1},
		{120, 120},
		{200, 200},
		{5000, 200},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.requested), func(t *testing.T) {
			assert.Equal(t, tt.want, h.Limit(tt.requested))
		})
	}
}

func TestHistoryListRecentOldestFirst(t *testing.T) {
	p, store, _ := newTestPipeline(t)
	h := NewHistory(store, 50, 200)

	for i := 1; i <= 5; i++ {
		_, err := p.Send(context.Background(), models.SendMessageRequest{
			GroupID: openGroup,
			UserID:  alice,
			Message: fmt.Sprintf("msg %d", i),
		})
		require.NoError(t, err)
	}

	got, err := h.ListRecent(context.Background(), openGroup, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, []string{"msg 3", "msg 4", "msg 5"},
		[]string{got[0].Message, got[1].Message, got[2].Message})
	assert.Equal(t, int64(3), got[0].Seq)
	assert.Equal(t, int64(5), got[2].Seq)
	assert.Equal(t, "Alice A.", got[0].DisplayName)
}

func TestHistoryThenLiveIsContiguous(t *testing.T) {
	p, store, registry := newTestPipeline(t)
	h := NewHistory(store, 50, 200)
	ctx := context.Background()

	send := func(body string) {
		t.Helper()
		_, err := p.Send(ctx, models.SendMessageRequest{GroupID: openGroup, UserID: bob, Message: body})
		require.NoError(t, err)
	}

	for i := 1; i <= 3; i++ {
		send(fmt.Sprintf("before %d", i))
	}

	past, err := h.ListRecent(ctx, openGroup, 0)
	require.NoError(t, err)

	live := &recordingSubscriber{}
	registry.Join(registry.Register(live), openGroup)

	for i := 1; i <= 2; i++ {
		send(fmt.Sprintf("after %d", i))
	}

	var seqs []int64
	for _, m := range past {
		seqs = append(seqs, m.Seq)
	}
	for _, payload := range live.received() {
		seqs = append(seqs, decodeNewMessage(t, payload).Seq)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seqs)
}

func TestHistoryMasksLikeLiveDelivery(t *testing.T) {
	p, store, registry := newTestPipeline(t)
	h := NewHistory(store, 50, 200)

	sub := &recordingSubscriber{}
	registry.Join(registry.Register(sub), anonymousGroup)

	_, err := p.Send(context.Background(), models.SendMessageRequest{
		GroupID: anonymousGroup, UserID: alice, Message: "masked", IsAnonymous: true,
	})
	require.NoError(t, err)
	_, err = p.Send(context.Background(), models.SendMessageRequest{
		GroupID: anonymousGroup, UserID: bob, Message: "named",
	})
	require.NoError(t, err)

	history, err := h.ListRecent(context.Background(), anonymousGroup, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)

	live := sub.received()
	require.Len(t, live, 2)
	for i := range history {
		assert.Equal(t, decodeNewMessage(t, live[i]), *history[i])
	}

	assert.Equal(t, AnonymousName, history[0].DisplayName)
	assert.Equal(t, alice, history[0].UserID)
	assert.Equal(t, "Bob B.", history[1].DisplayName)
}

func TestHistoryEmptyGroup(t *testing.T) {
	_, store, _ := newTestPipeline(t)
	h := NewHistory(store, 50, 200)

	got, err := h.ListRecent(context.Background(), openGroup, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHistoryStoreError(t *testing.T) {
	dbErr := errors.New("timeout")
	h := NewHistory(failingStore{err: dbErr}, 50, 200)

	_, err := h.ListRecent(context.Background(), openGroup, 10)
	assert.ErrorIs(t, err, dbErr)
}
