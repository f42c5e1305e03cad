package group

import (
	"strings"
	"time"
	"unicode/utf8"

	"unilink/backend/apperr"
)

type Kind string

const (
	KindClass      Kind = "class"
	KindAttendance Kind = "attendance"
)

func (k Kind) Valid() bool {
	return k == KindClass || k == KindAttendance
}

type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleMember MemberRole = "member"
)

// Group is a class or attendance cohort together with per-viewer fields.
type Group struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	Kind          Kind       `json:"kind"`
	JoinCode      string     `json:"join_code,omitempty"`
	OwnerID       int64      `json:"owner_id"`
	OwnerUsername string     `json:"owner_username"`
	MemberCount   int        `json:"member_count"`
	MyRole        MemberRole `json:"my_role,omitempty"` // empty when the viewer is not a member
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Member is a profile enrolled in a group.
type Member struct {
	ProfileID int64      `json:"profile_id"`
	Username  string     `json:"username"`
	FullName  string     `json:"full_name"`
	Role      MemberRole `json:"role"`
	UserRole  string     `json:"user_role"` // student or teacher
	AvatarKey string     `json:"-"`
	AvatarURL string     `json:"avatar_url"`
	JoinedAt  time.Time  `json:"joined_at"`
}

const (
	maxNameLen        = 100
	maxDescriptionLen = 1000
)

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Invalid("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return "", apperr.Invalid("name is too long")
	}
	return name, nil
}

func validateDescription(desc string) (string, error) {
	desc = strings.TrimSpace(desc)
	if utf8.RuneCountInString(desc) > maxDescriptionLen {
		return "", apperr.Invalid("description is too long")
	}
	return desc, nil
}
