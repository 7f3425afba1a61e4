package models

import (
	"fmt"
	"time"
)

type Channel struct {
	ID          string
	Name        string
	DisplayName string
	IsPrivate   bool
	IsArchived  bool
	MaxMembers  int
	MemberCount int
}

// Full reports whether the channel has reached its member cap. A zero cap is unlimited.
func (c Channel) Full() bool {
	return c.MaxMembers > 0 && c.MemberCount >= c.MaxMembers
}

// MemberRole is ordered: a larger rank outranks a smaller one.
type MemberRole int

const (
	RoleMember MemberRole = iota + 1
	RoleModerator
	RoleAdmin
)

func ParseMemberRole(s string) (MemberRole, error) {
	switch s {
	case "member":
		return RoleMember, nil
	case "moderator":
		return RoleModerator, nil
	case "admin":
		return RoleAdmin, nil
	}
	return 0, fmt.Errorf("unknown membership role %q", s)
}

func (r MemberRole) Rank() int {
	if r < RoleMember || r > RoleAdmin {
		return 0
	}
	return int(r)
}

func (r MemberRole) String() string {
	switch r {
	case RoleMember:
		return "member"
	case RoleModerator:
		return "moderator"
	case RoleAdmin:
		return "admin"
	}
	return "unknown"
}

// Promoted returns the next role up, or false when already at the top.
func (r MemberRole) Promoted() (MemberRole, bool) {
	if r.Rank() == 0 || r == RoleAdmin {
		return r, false
	}
	return r + 1, true
}

// Demoted returns the next role down, or false when already a plain member.
func (r MemberRole) Demoted() (MemberRole, bool) {
	if r.Rank() == 0 || r == RoleMember {
		return r, false
	}
	return r - 1, true
}

type Membership struct {
	ChannelID string
	UserID    string
	JoinedAt  time.Time
	Role      MemberRole
	Muted     bool
}
