package models

import "time"

type Group struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	CreatedBy        int64     `json:"created_by"`
	AnonymousEnabled bool      `json:"anonymous_enabled"`
	CreatedAt        time.Time `json:"created_at"`
	MemberCount      int       `json:"member_count,omitempty"`
}

type CreateGroupRequest struct {
	Name             string `json:"name"`
	AnonymousEnabled bool   `json:"anonymous_enabled"`
}

type AddMemberRequest struct {
	Username string `json:"username"`
}

type Member struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}
