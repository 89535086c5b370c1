package database

import (
	"context"
	"errors"
	"fmt"

	"samvad-chat/internal/models"
	"samvad-chat/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

const uniqueViolation = "23505"

type PostgresDB struct {
	pool Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

// NewWithPool wraps an existing pool, e.g. a pgxmock pool in tests.
func NewWithPool(pool Pool) *PostgresDB {
	return &PostgresDB{pool: pool}
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// User Repository Implementation
func (db *PostgresDB) CreateUser(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Username
	}

	query := `
		INSERT INTO users (username, password_hash, display_name, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, username, display_name, created_at`

	user := &models.User{PasswordHash: string(hash)}
	err = db.pool.QueryRow(ctx, query, req.Username, string(hash), displayName).Scan(
		&user.ID, &user.Username, &user.DisplayName, &user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("username %q: %w", req.Username, ErrConflict)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

func (db *PostgresDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT id, username, display_name, password_hash, created_at FROM users WHERE username = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, username).Scan(
		&user.ID, &user.Username, &user.DisplayName, &user.PasswordHash, &user.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, "user")
	}

	return user, nil
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT id, username, display_name, created_at FROM users WHERE id = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.DisplayName, &user.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, "user")
	}

	return user, nil
}

func (db *PostgresDB) DisplayIdentity(ctx context.Context, userID int64) (*models.Identity, error) {
	query := `SELECT username, display_name FROM users WHERE id = $1`

	identity := &models.Identity{}
	if err := db.pool.QueryRow(ctx, query, userID).Scan(&identity.Username, &identity.DisplayName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %w", models.ErrUnknownIdentity, ErrNotFound)
		}
		return nil, notFound(err, "user")
	}
	return identity, nil
}

// Group Repository Implementation
func (db *PostgresDB) CreateGroup(ctx context.Context, req *models.CreateGroupRequest, creatorID int64) (*models.Group, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `
		INSERT INTO chat_groups (name, created_by, anonymous_enabled, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, name, created_by, anonymous_enabled, created_at`

	group := &models.Group{}
	err = tx.QueryRow(ctx, query, req.Name, creatorID, req.AnonymousEnabled).Scan(
		&group.ID, &group.Name, &group.CreatedBy, &group.AnonymousEnabled, &group.CreatedAt,
	)
	if err != nil {
		rollback(ctx, tx)
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	// The creator is always a member
	if _, err := tx.Exec(ctx, addMembershipQuery, group.ID, creatorID); err != nil {
		rollback(ctx, tx)
		return nil, fmt.Errorf("failed to add creator membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit group: %w", err)
	}

	group.MemberCount = 1
	return group, nil
}

func (db *PostgresDB) GetGroupByID(ctx context.Context, id int64) (*models.Group, error) {
	query := `SELECT id, name, created_by, anonymous_enabled, created_at FROM chat_groups WHERE id = $1`

	group := &models.Group{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&group.ID, &group.Name, &group.CreatedBy, &group.AnonymousEnabled, &group.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, "group")
	}

	return group, nil
}

func (db *PostgresDB) ListUserGroups(ctx context.Context, userID int64) ([]*models.Group, error) {
	query := `
		SELECT g.id, g.name, g.created_by, g.anonymous_enabled, g.created_at,
		       (SELECT COUNT(*) FROM group_members WHERE group_id = g.id) AS member_count
		FROM chat_groups g
		INNER JOIN group_members gm ON g.id = gm.group_id
		WHERE gm.user_id = $1
		ORDER BY g.created_at DESC`

	rows, err := db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	groups := []*models.Group{}
	for rows.Next() {
		group := &models.Group{}
		if err := rows.Scan(&group.ID, &group.Name, &group.CreatedBy, &group.AnonymousEnabled, &group.CreatedAt, &group.MemberCount); err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}

	return groups, rows.Err()
}

func (db *PostgresDB) GroupAllowsAnonymity(ctx context.Context, groupID int64) (bool, error) {
	var allowed bool
	err := db.pool.QueryRow(ctx, `SELECT anonymous_enabled FROM chat_groups WHERE id = $1`, groupID).Scan(&allowed)
	if err != nil {
		return false, notFound(err, "group")
	}
	return allowed, nil
}

// DeleteGroup removes a group created by actorID. Memberships and messages
// go with it through ON DELETE CASCADE.
func (db *PostgresDB) DeleteGroup(ctx context.Context, groupID, actorID int64) error {
	var createdBy int64
	err := db.pool.QueryRow(ctx, `SELECT created_by FROM chat_groups WHERE id = $1`, groupID).Scan(&createdBy)
	if err != nil {
		return notFound(err, "group")
	}

	if createdBy != actorID {
		return fmt.Errorf("only the group creator can delete it: %w", ErrForbidden)
	}

	if _, err := db.pool.Exec(ctx, `DELETE FROM chat_groups WHERE id = $1`, groupID); err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return nil
}

// Membership Repository Implementation
const addMembershipQuery = `
	INSERT INTO group_members (group_id, user_id, joined_at) VALUES ($1, $2, NOW())
	ON CONFLICT (group_id, user_id) DO NOTHING`

func (db *PostgresDB) AddMembership(ctx context.Context, groupID, userID int64) error {
	if _, err := db.pool.Exec(ctx, addMembershipQuery, groupID, userID); err != nil {
		return fmt.Errorf("failed to add membership: %w", err)
	}
	return nil
}

func (db *PostgresDB) VerifyMembership(ctx context.Context, groupID, userID int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`

	var exists bool
	err := db.pool.QueryRow(ctx, query, groupID, userID).Scan(&exists)
	return exists, err
}

func (db *PostgresDB) GetGroupMembers(ctx context.Context, groupID int64) ([]*models.Member, error) {
	query := `
		SELECT u.id, u.username, u.display_name, gm.joined_at
		FROM group_members gm
		JOIN users u ON gm.user_id = u.id
		WHERE gm.group_id = $1
		ORDER BY u.username`

	rows, err := db.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := []*models.Member{}
	for rows.Next() {
		member := &models.Member{}
		if err := rows.Scan(&member.ID, &member.Username, &member.DisplayName, &member.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, member)
	}

	return members, rows.Err()
}

// Message Repository Implementation

// AppendMessage persists msg and fills in its ID, Seq and CreatedAt. Bumping
// the group's counter takes the group row lock, so concurrent appends to one
// group are serialized and Seq follows commit order.
func (db *PostgresDB) AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	stored := *msg
	err = tx.QueryRow(ctx,
		`UPDATE chat_groups SET last_message_seq = last_message_seq + 1 WHERE id = $1 RETURNING last_message_seq`,
		msg.GroupID,
	).Scan(&stored.Seq)
	if err != nil {
		rollback(ctx, tx)
		return nil, notFound(err, "group")
	}

	query := `
		INSERT INTO messages (group_id, seq, user_id, message, is_anonymous, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at`

	err = tx.QueryRow(ctx, query, stored.GroupID, stored.Seq, stored.UserID, stored.Body, stored.IsAnonymous).Scan(
		&stored.ID, &stored.CreatedAt,
	)
	if err != nil {
		rollback(ctx, tx)
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}

	return &stored, nil
}

// ListRecentMessages returns up to limit messages of a group, newest first.
func (db *PostgresDB) ListRecentMessages(ctx context.Context, groupID int64, limit int) ([]*models.AuthoredMessage, error) {
	query := `
		SELECT m.id, m.seq, m.group_id, m.user_id, m.message, m.is_anonymous, m.created_at,
		       u.username, u.display_name
		FROM messages m
		INNER JOIN users u ON m.user_id = u.id
		WHERE m.group_id = $1
		ORDER BY m.seq DESC
		LIMIT $2`

	rows, err := db.pool.Query(ctx, query, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.AuthoredMessage{}
	for rows.Next() {
		msg := &models.AuthoredMessage{}
		if err := rows.Scan(
			&msg.ID, &msg.Seq, &msg.GroupID, &msg.UserID, &msg.Body, &msg.IsAnonymous, &msg.CreatedAt,
			&msg.Author.Username, &msg.Author.DisplayName,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		logger.Error("Error rolling back transaction: %v", err)
	}
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
