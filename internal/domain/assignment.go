package domain

import "time"

// Assignment grants one user read access to one chat within one session.
// At most one active assignment exists per (session, chat, user) triple;
// unassignment deactivates rather than deletes.
type Assignment struct {
	ID           int64
	SessionID    string
	ChatID       string
	UserID       string
	Active       bool
	AssignedAt   time.Time
	UnassignedAt *time.Time
}

// Role determines how the read gateway filters data for a caller.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleAssignee Role = "assignee"
)

// Restricted reports whether the role is limited to assigned chats.
func (r Role) Restricted() bool {
	return r == RoleAssignee
}

// Caller identifies who is asking on the read path.
type Caller struct {
	UserID string
	Role   Role
}
