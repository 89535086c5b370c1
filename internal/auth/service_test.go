package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"samvad-chat/internal/config"
	"samvad-chat/internal/database"
	"samvad-chat/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memoryUsers struct {
	mu     sync.Mutex
	byName map[string]*models.User
	nextID int64
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byName: make(map[string]*models.User)}
}

func (m *memoryUsers) CreateUser(_ context.Context, req *models.RegisterRequest) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byName[req.Username]; ok {
		return nil, fmt.Errorf("username %q: %w", req.Username, database.ErrConflict)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Username
	}

	m.nextID++
	user := &models.User{
		ID:           m.nextID,
		Username:     req.Username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	m.byName[req.Username] = user
	copied := *user
	return &copied, nil
}

func (m *memoryUsers) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byName[username]
	if !ok {
		return nil, fmt.Errorf("user: %w", database.ErrNotFound)
	}
	copied := *user
	return &copied, nil
}

func (m *memoryUsers) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.byName {
		if user.ID == id {
			copied := *user
			copied.PasswordHash = ""
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("user: %w", database.ErrNotFound)
}

func newTestService() (*Service, *memoryUsers) {
	users := newMemoryUsers()
	return NewService(users, config.JWTConfig{
		Secret:    []byte("test-secret"),
		ExpiresIn: time.Hour,
	}), users
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	reg, err := svc.Register(ctx, &models.RegisterRequest{
		Username: "  priya ",
		Password: "correct horse",
	})
	require.NoError(t, err)
	assert.Equal(t, "priya", reg.User.Username)
	assert.Equal(t, "priya", reg.User.DisplayName, "display name defaults to username")
	assert.Empty(t, reg.User.PasswordHash)
	assert.NotEmpty(t, reg.Token)

	login, err := svc.Login(ctx, &models.LoginRequest{Username: "priya", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, login.User.ID)
	assert.Empty(t, login.User.PasswordHash)

	user, err := svc.GetUserFromToken(ctx, login.Token)
	require.NoError(t, err)
	assert.Equal(t, "priya", user.Username)
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		req  models.RegisterRequest
	}{
		{"missing username", models.RegisterRequest{Password: "long enough"}},
		{"missing password", models.RegisterRequest{Username: "ravi"}},
		{"short username", models.RegisterRequest{Username: "ab", Password: "long enough"}},
		{"bad characters", models.RegisterRequest{Username: "ravi kumar", Password: "long enough"}},
		{"short password", models.RegisterRequest{Username: "ravi", Password: "short"}},
		{"long password", models.RegisterRequest{Username: "ravi", Password: strings.Repeat("p", 73)}},
		{"long display name", models.RegisterRequest{Username: "ravi", Password: "long enough", DisplayName: strings.Repeat("r", 101)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService()
			req := tt.req
			_, err := svc.Register(context.Background(), &req)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, &models.RegisterRequest{Username: "meera", Password: "password1"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, &models.RegisterRequest{Username: "meera", Password: "password2"})
	assert.ErrorIs(t, err, database.ErrConflict)
}

func TestLoginFailures(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Register(ctx, &models.RegisterRequest{Username: "arjun", Password: "password1"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, &models.LoginRequest{Username: "arjun", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, &models.LoginRequest{Username: "nobody", Password: "password1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenRejects(t *testing.T) {
	svc, users := newTestService()
	ctx := context.Background()

	reg, err := svc.Register(ctx, &models.RegisterRequest{Username: "kavya", Password: "password1"})
	require.NoError(t, err)

	other := NewService(users, config.JWTConfig{Secret: []byte("other-secret"), ExpiresIn: time.Hour})
	_, err = other.ValidateToken(reg.Token)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong secret")

	expired := NewService(users, config.JWTConfig{Secret: []byte("test-secret"), ExpiresIn: time.Hour})
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = expired.ValidateToken(reg.Token)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: reg.User.ID})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.ValidateToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")

	_, err = svc.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGetUserFromTokenDeletedUser(t *testing.T) {
	svc, users := newTestService()
	ctx := context.Background()

	reg, err := svc.Register(ctx, &models.RegisterRequest{Username: "deleted", Password: "password1"})
	require.NoError(t, err)

	users.mu.Lock()
	delete(users.byName, "deleted")
	users.mu.Unlock()

	_, err = svc.GetUserFromToken(ctx, reg.Token)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}
