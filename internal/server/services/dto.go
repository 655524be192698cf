package services

import (
	"time"

	"github.com/binhnvh/usermgmt/internal/server/models"
)

// UserDto is the public-facing projection of a user. The password hash never
// leaves the service layer.
type UserDto struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	FirstName   string     `json:"firstName,omitempty"`
	LastName    string     `json:"lastName,omitempty"`
	Enabled     bool       `json:"enabled"`
	Locked      bool       `json:"locked"`
	Roles       []string   `json:"roles"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// PermissionDto is the public-facing projection of a reference permission.
type PermissionDto struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// AuthResult is the composed login response. Roles is extracted from the
// authority set baked into the token, so it always matches the token.
type AuthResult struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	Roles       []string  `json:"roles"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// NewUser carries the fields accepted at registration and admin creation.
// Enabled/Locked are admin-only overrides; registration leaves them nil.
type NewUser struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Roles     []string
	Enabled   *bool
	Locked    *bool
}

// UserUpdate carries a full profile update. Password is re-hashed only when
// non-empty; Roles replaces the role set only when non-nil.
type UserUpdate struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Enabled   *bool
	Locked    *bool
	Roles     []string
}

func mapUserToDto(user *models.User) *UserDto {
	return &UserDto{
		ID:          user.ID,
		Username:    user.Username,
		Email:       user.Email,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		Enabled:     user.Enabled,
		Locked:      user.Locked,
		Roles:       user.RoleNames(),
		CreatedAt:   user.CreatedAt,
		UpdatedAt:   user.UpdatedAt,
		LastLoginAt: user.LastLoginAt,
	}
}
