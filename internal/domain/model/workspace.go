package model

import (
	"fmt"
	"time"
)

// Workspace is the narrow view of a workspace the job pipeline needs:
// identity plus the owning project used for membership checks.
type Workspace struct {
	ID        string    `json:"id"         db:"id"`
	ProjectID string    `json:"project_id" db:"project_id"`
	Name      string    `json:"name"       db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Role is a member's role within a project.
type Role string

const (
	// RoleOwner can do everything including member management.
	RoleOwner Role = "owner"
	// RoleCollaborator can read and write project resources.
	RoleCollaborator Role = "collaborator"
	// RoleViewer has read-only access.
	RoleViewer Role = "viewer"
)

// Permission names an action checked against a Role.
type Permission string

const (
	// PermissionRead allows viewing resources.
	PermissionRead Permission = "read"
	// PermissionWrite allows creating and modifying resources.
	PermissionWrite Permission = "write"
	// PermissionDelete allows removing resources.
	PermissionDelete Permission = "delete"
	// PermissionManage allows member management.
	PermissionManage Permission = "manage"
)

// Valid returns true if the Role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleCollaborator || r == RoleViewer
}

// Permits reports whether the role allows the given action.
func (r Role) Permits(p Permission) bool {
	switch p {
	case PermissionRead:
		return r.Valid()
	case PermissionWrite:
		return r == RoleOwner || r == RoleCollaborator
	case PermissionDelete, PermissionManage:
		return r == RoleOwner
	default:
		return false
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for Role.
func (r *Role) UnmarshalText(text []byte) error {
	v := Role(text)
	if !v.Valid() {
		return fmt.Errorf("invalid role: %q", string(text))
	}
	*r = v
	return nil
}

// ProjectMember records a user's membership and role within a project.
type ProjectMember struct {
	ID        string    `json:"id"         db:"id"`
	ProjectID string    `json:"project_id" db:"project_id"`
	UserID    string    `json:"user_id"    db:"user_id"`
	Role      Role      `json:"role"       db:"role"`
	InvitedAt time.Time `json:"invited_at" db:"invited_at"`
}
