package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasRole(t *testing.T) {
	u := &User{Roles: []Role{{Name: "USER"}, {Name: "ADMIN"}}}

	assert.True(t, u.HasRole("ADMIN"))
	assert.True(t, u.HasRole("admin"))
	assert.False(t, u.HasRole("AUDITOR"))

	empty := &User{}
	assert.False(t, empty.HasRole("USER"))
}

func TestRoleNames(t *testing.T) {
	u := &User{Roles: []Role{{Name: "USER"}, {Name: "ADMIN"}}}
	assert.Equal(t, []string{"USER", "ADMIN"}, u.RoleNames())

	empty := &User{}
	assert.Empty(t, empty.RoleNames())
}
