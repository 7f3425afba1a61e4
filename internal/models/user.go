package models

import "time"

// Global permission names granted through the user's directory role.
const (
	PermissionDeleteMessages = "can_delete_messages"
	PermissionBanUsers       = "can_ban_users"
	PermissionCreateChannels = "can_create_channels"
)

type Permissions map[string]bool

func (p Permissions) Has(name string) bool {
	return p[name]
}

type User struct {
	ID           string
	Username     string
	DisplayName  string
	PasswordHash []byte
	RoleName     string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile is the public projection attached to realtime events.
type Profile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

func (u User) Profile() Profile {
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	return Profile{ID: u.ID, Username: u.Username, DisplayName: name}
}
