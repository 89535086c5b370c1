package database

import (
	"context"
	"errors"

	"samvad-chat/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("already exists")
	ErrForbidden = errors.New("forbidden")
)

// Pool is the subset of *pgxpool.Pool the repositories use. pgxmock pools
// satisfy it as well.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type UserRepository interface {
	CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	DisplayIdentity(ctx context.Context, userID int64) (*models.Identity, error)
}

type GroupRepository interface {
	CreateGroup(ctx context.Context, req *models.CreateGroupRequest, creatorID int64) (*models.Group, error)
	GetGroupByID(ctx context.Context, id int64) (*models.Group, error)
	ListUserGroups(ctx context.Context, userID int64) ([]*models.Group, error)
	GroupAllowsAnonymity(ctx context.Context, groupID int64) (bool, error)
	DeleteGroup(ctx context.Context, groupID, actorID int64) error
}

type MembershipRepository interface {
	AddMembership(ctx context.Context, groupID, userID int64) error
	VerifyMembership(ctx context.Context, groupID, userID int64) (bool, error)
	GetGroupMembers(ctx context.Context, groupID int64) ([]*models.Member, error)
}

type MessageRepository interface {
	AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
	ListRecentMessages(ctx context.Context, groupID int64, limit int) ([]*models.AuthoredMessage, error)
}

type Database interface {
	UserRepository
	GroupRepository
	MembershipRepository
	MessageRepository
	Close() error
}
