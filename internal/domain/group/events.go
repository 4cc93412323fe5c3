package group

import "time"

const (
	EventGroupCreated  = "GroupCreated"
	EventMemberJoined  = "GroupMemberJoined"
	EventMemberLeft    = "GroupMemberLeft"
	EventMemberRemoved = "GroupMemberRemoved"
	EventGroupDeleted  = "GroupDeleted"
)

// GroupCreated is emitted when a group is created. The owner is its first member.
type GroupCreated struct {
	GroupID     string    `json:"group_id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type MemberJoined struct {
	GroupID  string    `json:"group_id"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

type MemberLeft struct {
	GroupID string    `json:"group_id"`
	UserID  string    `json:"user_id"`
	LeftAt  time.Time `json:"left_at"`
}

// MemberRemoved is emitted when the owner or an admin removes someone
type MemberRemoved struct {
	GroupID   string    `json:"group_id"`
	UserID    string    `json:"user_id"`
	RemovedBy string    `json:"removed_by"`
	RemovedAt time.Time `json:"removed_at"`
}

type GroupDeleted struct {
	GroupID   string    `json:"group_id"`
	DeletedAt time.Time `json:"deleted_at"`
}
