package models

import (
	"fmt"
	"time"
)

type InterfaceKind string

const (
	InterfaceWeb InterfaceKind = "web"
	InterfaceCLI InterfaceKind = "cli"
	InterfaceAPI InterfaceKind = "api"
)

func ParseInterfaceKind(s string) (InterfaceKind, error) {
	switch InterfaceKind(s) {
	case InterfaceWeb, InterfaceCLI, InterfaceAPI:
		return InterfaceKind(s), nil
	case "":
		return InterfaceWeb, nil
	}
	return "", fmt.Errorf("unknown interface kind %q", s)
}

type Session struct {
	ID           string
	UserID       string
	TokenID      string
	Interface    InterfaceKind
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
	Revoked      bool
	RevokedAt    *time.Time
}

// Active reports whether the session may still authenticate requests.
func (s Session) Active(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}
