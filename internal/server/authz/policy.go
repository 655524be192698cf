// Package authz derives effective permission sets from the user/role graph
// and evaluates access rules against them. The caller's verified claims are
// always an explicit argument; there is no ambient security context.
package authz

import (
	"sort"
	"strings"

	"github.com/binhnvh/usermgmt/internal/server/models"
)

// RolePrefix marks role-derived entries in an authority set.
const RolePrefix = "ROLE_"

// EffectivePermissions derives the authority set for a user: one
// ROLE_<NAME> entry per role plus the raw name of every permission attached
// to those roles. Duplicates collapse; the result is sorted so issued tokens
// are deterministic.
func EffectivePermissions(user *models.User) []string {
	set := make(map[string]struct{})

	for _, role := range user.Roles {
		set[RolePrefix+strings.ToUpper(role.Name)] = struct{}{}
		for _, p := range role.Permissions {
			set[p.Name] = struct{}{}
		}
	}

	result := make([]string, 0, len(set))
	for authority := range set {
		result = append(result, authority)
	}
	sort.Strings(result)
	return result
}

// RolesFromAuthorities extracts the role names from an authority set by
// filtering on the ROLE_ prefix and stripping it. Order is preserved.
func RolesFromAuthorities(authorities []string) []string {
	roles := make([]string, 0, len(authorities))
	for _, a := range authorities {
		if strings.HasPrefix(a, RolePrefix) {
			roles = append(roles, strings.TrimPrefix(a, RolePrefix))
		}
	}
	return roles
}
