package database

import (
	"context"
	"fmt"

	"samvad-chat/pkg/logger"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		username      VARCHAR(50) UNIQUE NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		display_name  VARCHAR(100) NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS chat_groups (
		id                BIGSERIAL PRIMARY KEY,
		name              VARCHAR(100) NOT NULL,
		created_by        BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		anonymous_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		last_message_seq  BIGINT NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id  BIGINT NOT NULL REFERENCES chat_groups(id) ON DELETE CASCADE,
		user_id   BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (group_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members (user_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id           BIGSERIAL PRIMARY KEY,
		group_id     BIGINT NOT NULL REFERENCES chat_groups(id) ON DELETE CASCADE,
		seq          BIGINT NOT NULL,
		user_id      BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		message      TEXT NOT NULL,
		is_anonymous BOOLEAN NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (group_id, seq)
	)`,
}

// EnsureSchema creates the tables if they do not exist yet.
func (db *PostgresDB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	logger.Info("Database schema is up to date")
	return nil
}
