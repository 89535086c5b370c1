package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"samvad-chat/internal/chat"
	"samvad-chat/internal/models"
	"samvad-chat/internal/testhelpers"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const readTimeout = 2 * time.Second

func newTestHub(t *testing.T) (*Hub, *testhelpers.FakeStore, *httptest.Server) {
	t.Helper()
	return newTestHubWithConfig(t, Config{SendBuffer: 16, MaxMessageSize: 4096})
}

func newTestHubWithConfig(t *testing.T, cfg Config) (*Hub, *testhelpers.FakeStore, *httptest.Server) {
	t.Helper()

	store := testhelpers.NewFakeStore()
	store.AddUser(1, "alice", "Alice")
	store.AddUser(2, "bob", "Bob")
	store.AddUser(3, "carol", "Carol")
	store.AddGroup(10, false, 1, 2)
	store.AddGroup(20, true, 1, 2, 3)

	registry := chat.NewRegistry()
	pipeline := chat.NewPipeline(store, store, store, registry, chat.PipelineConfig{
		MaxBodyLength:  100,
		PersistTimeout: time.Second,
	})
	hub := NewHub(registry, pipeline, chat.NewDispatcher(8, time.Second), store, cfg)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		userID, _ := strconv.ParseInt(r.URL.Query().Get("user"), 10, 64)
		_ = hub.Serve(conn, userID)
	}))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		srv.Close()
	})

	return hub, store, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	conn, err := testhelpers.ConnectWebSocket(testhelpers.ToWebSocketURL(srv.URL, "/ws"+query), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func joinGroup(t *testing.T, conn *websocket.Conn, groupID int64) {
	t.Helper()
	testhelpers.SendEvent(t, conn, models.EventJoinGroup, groupID)
	env := testhelpers.ReadEvent(t, conn, readTimeout)
	require.Equal(t, models.EventJoined, env.Event, "data: %s", env.Data)
}

func readMessage(t *testing.T, conn *websocket.Conn) models.OutboundMessage {
	t.Helper()
	env := testhelpers.ReadEvent(t, conn, readTimeout)
	require.Equal(t, models.EventNewMessage, env.Event, "data: %s", env.Data)
	var msg models.OutboundMessage
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	return msg
}

func readError(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	env := testhelpers.ReadEvent(t, conn, readTimeout)
	require.Equal(t, models.EventMessageError, env.Event, "data: %s", env.Data)
	var payload models.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	return payload.Error
}

func TestHubSendReachesRoom(t *testing.T) {
	hub, store, srv := newTestHub(t)

	sender := dial(t, srv, "")
	member := dial(t, srv, "")
	elsewhere := dial(t, srv, "")

	joinGroup(t, sender, 10)
	joinGroup(t, member, 10)
	joinGroup(t, elsewhere, 20)

	testhelpers.SendEvent(t, sender, models.EventSendMessage, models.SendMessageRequest{
		GroupID: 10,
		UserID:  1,
		Message: "hello group",
	})

	for _, conn := range []*websocket.Conn{sender, member} {
		msg := readMessage(t, conn)
		assert.Equal(t, "hello group", msg.Message)
		assert.Equal(t, "Alice", msg.DisplayName)
		assert.Equal(t, int64(1), msg.Seq)
	}
	testhelpers.ExpectNoEvent(t, elsewhere, 200*time.Millisecond)

	assert.Len(t, store.Messages(10), 1)
	assert.Equal(t, 3, hub.Stats().Connections)
}

func TestHubGroupIDAsString(t *testing.T) {
	_, _, srv := newTestHub(t)
	conn := dial(t, srv, "")

	testhelpers.SendEvent(t, conn, models.EventJoinGroup, "10")
	env := testhelpers.ReadEvent(t, conn, readTimeout)
	require.Equal(t, models.EventJoined, env.Event)

	var joined models.JoinedPayload
	require.NoError(t, json.Unmarshal(env.Data, &joined))
	assert.Equal(t, int64(10), joined.GroupID)
}

func TestHubErrorsOnlyToSender(t *testing.T) {
	_, store, srv := newTestHub(t)

	outsider := dial(t, srv, "")
	member := dial(t, srv, "")
	joinGroup(t, outsider, 10)
	joinGroup(t, member, 10)

	testhelpers.SendEvent(t, outsider, models.EventSendMessage, models.SendMessageRequest{
		GroupID: 10,
		UserID:  3,
		Message: "can I post?",
	})

	assert.Equal(t, chat.ErrNotAMember.Error(), readError(t, outsider))
	testhelpers.ExpectNoEvent(t, member, 200*time.Millisecond)
	assert.Zero(t, store.AppendCalls())
}

func TestHubRejectsBadFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `hello`},
		{"unknown event", `{"event":"typing","data":1}`},
		{"bad group id", `{"event":"join_group","data":"ten"}`},
		{"bad send payload", `{"event":"send_message","data":"text"}`},
		{"empty body", `{"event":"send_message","data":{"group_id":10,"user_id":1,"message":""}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, srv := newTestHub(t)
			conn := dial(t, srv, "")

			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.frame)))
			assert.Contains(t, readError(t, conn), chat.ErrInvalidMessage.Error())
		})
	}
}

func TestHubAuthenticatedConnection(t *testing.T) {
	_, store, srv := newTestHub(t)

	alice := dial(t, srv, "?user=1")
	joinGroup(t, alice, 10)

	// user_id is filled in from the connection.
	testhelpers.SendEvent(t, alice, models.EventSendMessage, map[string]any{
		"group_id": 10,
		"message":  "implicit sender",
	})
	msg := readMessage(t, alice)
	assert.Equal(t, int64(1), msg.UserID)

	testhelpers.SendEvent(t, alice, models.EventSendMessage, models.SendMessageRequest{
		GroupID: 10,
		UserID:  2,
		Message: "spoofed",
	})
	assert.Contains(t, readError(t, alice), "does not match")
	assert.Len(t, store.Messages(10), 1)

	carol := dial(t, srv, "?user=3")
	testhelpers.SendEvent(t, carol, models.EventJoinGroup, 10)
	assert.Equal(t, chat.ErrNotAMember.Error(), readError(t, carol))
}

func TestHubBackToBackSendsShareOneOrder(t *testing.T) {
	_, _, srv := newTestHub(t)

	sender := dial(t, srv, "")
	member := dial(t, srv, "")
	joinGroup(t, sender, 10)
	joinGroup(t, member, 10)

	for _, body := range []string{"first", "second"} {
		testhelpers.SendEvent(t, sender, models.EventSendMessage, models.SendMessageRequest{
			GroupID: 10,
			UserID:  1,
			Message: body,
		})
	}

	// Either body may win seq 1, but both connections see the same sequence.
	var views [2][]models.OutboundMessage
	for i, conn := range []*websocket.Conn{sender, member} {
		views[i] = []models.OutboundMessage{readMessage(t, conn), readMessage(t, conn)}
		assert.Equal(t, int64(1), views[i][0].Seq)
		assert.Equal(t, int64(2), views[i][1].Seq)
	}
	assert.Equal(t, views[0][0].Message, views[1][0].Message)
	assert.ElementsMatch(t, []string{"first", "second"}, []string{views[0][0].Message, views[0][1].Message})
}

func TestHubRequireAuthRejectsUnauthenticatedSends(t *testing.T) {
	_, store, srv := newTestHubWithConfig(t, Config{SendBuffer: 16, MaxMessageSize: 4096, RequireAuth: true})

	guest := dial(t, srv, "")
	joinGroup(t, guest, 10)
	testhelpers.SendEvent(t, guest, models.EventSendMessage, models.SendMessageRequest{
		GroupID: 10,
		UserID:  1,
		Message: "posing as alice",
	})
	assert.Contains(t, readError(t, guest), "authentication required")
	assert.Empty(t, store.Messages(10))

	alice := dial(t, srv, "?user=1")
	joinGroup(t, alice, 10)
	testhelpers.SendEvent(t, alice, models.EventSendMessage, map[string]any{
		"group_id": 10,
		"message":  "signed in",
	})
	msg := readMessage(t, alice)
	assert.Equal(t, "signed in", msg.Message)
	assert.Equal(t, "signed in", readMessage(t, guest).Message, "guests can still listen")
}

func TestHubAnonymousDelivery(t *testing.T) {
	_, _, srv := newTestHub(t)

	sender := dial(t, srv, "")
	watcher := dial(t, srv, "")
	joinGroup(t, sender, 20)
	joinGroup(t, watcher, 20)

	testhelpers.SendEvent(t, sender, models.EventSendMessage, models.SendMessageRequest{
		GroupID:     20,
		UserID:      3,
		Message:     "guess who",
		IsAnonymous: true,
	})

	for _, conn := range []*websocket.Conn{sender, watcher} {
		msg := readMessage(t, conn)
		assert.True(t, msg.IsAnonymous)
		assert.Equal(t, chat.AnonymousName, msg.DisplayName)
		assert.Equal(t, chat.AnonymousName, msg.Username)
	}
}

func TestHubLeaveStopsDelivery(t *testing.T) {
	_, _, srv := newTestHub(t)

	sender := dial(t, srv, "")
	leaver := dial(t, srv, "")
	joinGroup(t, sender, 10)
	joinGroup(t, leaver, 10)

	testhelpers.SendEvent(t, leaver, models.EventLeaveGroup, 10)
	// A round trip through the leaver's read loop guarantees the leave landed.
	joinGroup(t, leaver, 20)

	testhelpers.SendEvent(t, sender, models.EventSendMessage, models.SendMessageRequest{
		GroupID: 10,
		UserID:  2,
		Message: "after leave",
	})
	readMessage(t, sender)
	testhelpers.ExpectNoEvent(t, leaver, 200*time.Millisecond)
}

func TestHubDisconnectUnregisters(t *testing.T) {
	hub, _, srv := newTestHub(t)

	conn := dial(t, srv, "")
	joinGroup(t, conn, 10)
	require.Equal(t, 1, hub.registry.RoomSize(10))

	require.NoError(t, testhelpers.CloseWebSocket(conn))

	assert.Eventually(t, func() bool {
		return hub.Stats().Connections == 0 && hub.registry.RoomSize(10) == 0
	}, readTimeout, 10*time.Millisecond)
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub, _, srv := newTestHub(t)

	conn := dial(t, srv, "")
	joinGroup(t, conn, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, hub.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, hub.Stats().Connections)

	late := dial(t, srv, "")
	require.NoError(t, late.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
}
