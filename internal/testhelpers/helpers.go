// Package testhelpers provides in-memory fakes and WebSocket utilities shared by
// the package tests.
package testhelpers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"samvad-chat/internal/database"
	"samvad-chat/internal/models"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
)

var ErrUnknownUser = fmt.Errorf("user: %w", database.ErrNotFound)

type fakeGroup struct {
	group   models.Group
	members map[int64]time.Time
	lastSeq int64
}

var _ database.Database = (*FakeStore)(nil)

// FakeStore is an in-memory database.Database: users, groups, memberships and
// the per-group message log.
type FakeStore struct {
	mu       sync.Mutex
	users    map[int64]*models.User
	groups   map[int64]*fakeGroup
	messages map[int64][]models.Message
	nextID   int64

	appendErr  error
	appendHook func(msg *models.Message)
	appends    int
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		users:    make(map[int64]*models.User),
		groups:   make(map[int64]*fakeGroup),
		messages: make(map[int64][]models.Message),
	}
}

func (s *FakeStore) AddUser(id int64, username, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &models.User{ID: id, Username: username, DisplayName: displayName, CreatedAt: time.Now()}
}

func (s *FakeStore) AddGroup(id int64, anonymous bool, members ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := &fakeGroup{
		group:   models.Group{ID: id, Name: fmt.Sprintf("group-%d", id), AnonymousEnabled: anonymous, CreatedAt: time.Now()},
		members: make(map[int64]time.Time),
	}
	if len(members) > 0 {
		g.group.CreatedBy = members[0]
	}
	for _, m := range members {
		g.members[m] = time.Now()
	}
	s.groups[id] = g
}

// FailAppends makes every following AppendMessage return err. Pass nil to reset.
func (s *FakeStore) FailAppends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}

// OnAppend runs hook before each append is recorded, outside the store lock.
func (s *FakeStore) OnAppend(hook func(msg *models.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendHook = hook
}

func (s *FakeStore) id() int64 {
	s.nextID++
	return s.nextID + 1000
}

func (s *FakeStore) CreateUser(_ context.Context, req *models.RegisterRequest) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == req.Username {
			return nil, fmt.Errorf("username %q: %w", req.Username, database.ErrConflict)
		}
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Username
	}
	u := &models.User{
		ID:           s.id(),
		Username:     req.Username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	s.users[u.ID] = u
	out := *u
	return &out, nil
}

func (s *FakeStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrUnknownUser
}

func (s *FakeStore) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUnknownUser
	}
	out := *u
	out.PasswordHash = ""
	return &out, nil
}

func (s *FakeStore) DisplayIdentity(_ context.Context, userID int64) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %w", models.ErrUnknownIdentity, ErrUnknownUser)
	}
	identity := u.Identity()
	return &identity, nil
}

func (s *FakeStore) CreateGroup(_ context.Context, req *models.CreateGroupRequest, creatorID int64) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := &fakeGroup{
		group: models.Group{
			ID:               s.id(),
			Name:             req.Name,
			CreatedBy:        creatorID,
			AnonymousEnabled: req.AnonymousEnabled,
			CreatedAt:        time.Now(),
		},
		members: map[int64]time.Time{creatorID: time.Now()},
	}
	s.groups[g.group.ID] = g
	out := g.group
	return &out, nil
}

func (s *FakeStore) GetGroupByID(_ context.Context, id int64) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, fmt.Errorf("group: %w", database.ErrNotFound)
	}
	out := g.group
	return &out, nil
}

func (s *FakeStore) ListUserGroups(_ context.Context, userID int64) ([]*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Group{}
	for _, g := range s.groups {
		if _, ok := g.members[userID]; ok {
			group := g.group
			group.MemberCount = len(g.members)
			out = append(out, &group)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *FakeStore) GroupAllowsAnonymity(_ context.Context, groupID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return false, fmt.Errorf("group: %w", database.ErrNotFound)
	}
	return g.group.AnonymousEnabled, nil
}

func (s *FakeStore) DeleteGroup(_ context.Context, groupID, actorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("group: %w", database.ErrNotFound)
	}
	if g.group.CreatedBy != actorID {
		return fmt.Errorf("only the group creator can delete it: %w", database.ErrForbidden)
	}
	delete(s.groups, groupID)
	delete(s.messages, groupID)
	return nil
}

func (s *FakeStore) AddMembership(_ context.Context, groupID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("group: %w", database.ErrNotFound)
	}
	if _, ok := g.members[userID]; !ok {
		g.members[userID] = time.Now()
	}
	return nil
}

func (s *FakeStore) VerifyMembership(_ context.Context, groupID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return false, nil
	}
	_, member := g.members[userID]
	return member, nil
}

func (s *FakeStore) GetGroupMembers(_ context.Context, groupID int64) ([]*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.Member{}
	g, ok := s.groups[groupID]
	if !ok {
		return out, nil
	}
	for userID, joined := range g.members {
		u, ok := s.users[userID]
		if !ok {
			continue
		}
		out = append(out, &models.Member{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName, JoinedAt: joined})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *FakeStore) Ping(context.Context) error { return nil }

func (s *FakeStore) Close() error { return nil }

func (s *FakeStore) AppendMessage(_ context.Context, msg *models.Message) (*models.Message, error) {
	s.mu.Lock()
	hook := s.appendHook
	s.mu.Unlock()

	if hook != nil {
		hook(msg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends++

	if s.appendErr != nil {
		return nil, s.appendErr
	}
	g, ok := s.groups[msg.GroupID]
	if !ok {
		return nil, fmt.Errorf("group: %w", database.ErrNotFound)
	}

	g.lastSeq++
	stored := *msg
	stored.ID = s.id()
	stored.Seq = g.lastSeq
	stored.CreatedAt = time.Now().UTC()
	s.messages[msg.GroupID] = append(s.messages[msg.GroupID], stored)

	out := stored
	return &out, nil
}

func (s *FakeStore) ListRecentMessages(_ context.Context, groupID int64, limit int) ([]*models.AuthoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.messages[groupID]
	out := make([]*models.AuthoredMessage, 0, limit)
	for i := len(stored) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, &models.AuthoredMessage{
			Message: stored[i],
			Author:  s.identity(stored[i].UserID),
		})
	}
	return out, nil
}

func (s *FakeStore) identity(userID int64) models.Identity {
	if u, ok := s.users[userID]; ok {
		return u.Identity()
	}
	return models.Identity{}
}

// Messages returns the stored messages of a group in seq order.
func (s *FakeStore) Messages(groupID int64) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]models.Message(nil), s.messages[groupID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (s *FakeStore) AppendCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

// ToWebSocketURL rewrites an httptest server URL to its ws:// form.
func ToWebSocketURL(serverURL, path string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + path
}

// ConnectWebSocket dials url with a local Origin header.
func ConnectWebSocket(url string, header http.Header) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	if header == nil {
		header = http.Header{}
	}
	if header.Get("Origin") == "" {
		header.Set("Origin", "http://localhost:8080")
	}

	conn, resp, err := dialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendEvent writes one envelope frame.
func SendEvent(t *testing.T, conn *websocket.Conn, event models.EventType, data any) {
	t.Helper()
	frame, err := models.EncodeEvent(event, data)
	if err != nil {
		t.Fatalf("Failed to encode %s: %v", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("Failed to write %s: %v", event, err)
	}
}

// ReadEvent reads the next envelope, failing the test after timeout.
func ReadEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) models.Envelope {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("Failed to decode envelope %q: %v", raw, err)
	}
	return env
}

// ExpectNoEvent asserts nothing arrives on conn within wait. The read
// deadline error leaves conn unusable for further reads.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	if _, raw, err := conn.ReadMessage(); err == nil {
		t.Fatalf("Expected no event, got %s", raw)
	}
}

// CloseWebSocket sends a close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
