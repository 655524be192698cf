package models

import (
	"strings"
	"time"
)

// User is the identity record. Roles are loaded through the user_roles join
// table; the slice is the authoritative in-memory view of the relation and is
// persisted as a whole on Save.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Enabled      bool
	Locked       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLoginAt  *time.Time
	Roles        []Role
}

// HasRole reports whether the user holds the named role. The comparison is
// case-insensitive, matching the upper-cased storage form.
func (u *User) HasRole(name string) bool {
	name = strings.ToUpper(name)
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// RoleNames returns the names of the user's roles in storage order.
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}
