package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"samvad-chat/internal/database"
	"samvad-chat/internal/models"
)

var ErrInvalidInput = errors.New("invalid input")

// GroupStore is the repository surface group management runs on.
type GroupStore interface {
	database.GroupRepository
	database.MembershipRepository
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

type GroupService struct {
	db GroupStore
}

func NewGroupService(db GroupStore) *GroupService {
	return &GroupService{db: db}
}

func (s *GroupService) CreateGroup(ctx context.Context, req *models.CreateGroupRequest, creatorID int64) (*models.Group, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(req.Name) > 100 {
		return nil, fmt.Errorf("%w: group name must be at most 100 characters", ErrInvalidInput)
	}

	return s.db.CreateGroup(ctx, req, creatorID)
}

func (s *GroupService) ListUserGroups(ctx context.Context, userID int64) ([]*models.Group, error) {
	return s.db.ListUserGroups(ctx, userID)
}

// RequireMember returns database.ErrForbidden unless userID belongs to groupID.
// Unknown groups look the same as groups the user is not in.
func (s *GroupService) RequireMember(ctx context.Context, groupID, userID int64) error {
	member, err := s.db.VerifyMembership(ctx, groupID, userID)
	if err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if !member {
		return fmt.Errorf("not a member of group %d: %w", groupID, database.ErrForbidden)
	}
	return nil
}

// AddMember adds the user named username to groupID. Only existing members
// may add people.
func (s *GroupService) AddMember(ctx context.Context, groupID, actorID int64, username string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}

	if err := s.RequireMember(ctx, groupID, actorID); err != nil {
		return nil, err
	}

	user, err := s.db.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	if err := s.db.AddMembership(ctx, groupID, user.ID); err != nil {
		return nil, err
	}

	user.PasswordHash = ""
	return user, nil
}

func (s *GroupService) GetMembers(ctx context.Context, groupID, userID int64) ([]*models.Member, error) {
	if err := s.RequireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}
	return s.db.GetGroupMembers(ctx, groupID)
}

func (s *GroupService) DeleteGroup(ctx context.Context, groupID, actorID int64) error {
	return s.db.DeleteGroup(ctx, groupID, actorID)
}
