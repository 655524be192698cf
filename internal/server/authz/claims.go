package authz

import "strings"

// ClaimSet is a verified caller identity: the token subject plus the
// authority set baked into the token at issuance. Authorization decisions
// use only this value and a subject-identity match, never a store lookup.
type ClaimSet struct {
	Subject     string
	authorities map[string]struct{}
}

// NewClaimSet builds a ClaimSet from a subject and its authority list.
func NewClaimSet(subject string, authorities []string) ClaimSet {
	set := make(map[string]struct{}, len(authorities))
	for _, a := range authorities {
		set[a] = struct{}{}
	}
	return ClaimSet{Subject: subject, authorities: set}
}

// Has reports whether the authority is present in the claim set.
func (c ClaimSet) Has(authority string) bool {
	_, ok := c.authorities[authority]
	return ok
}

// HasRole reports whether the claim set carries ROLE_<NAME> for the given
// role name (case-insensitive).
func (c ClaimSet) HasRole(name string) bool {
	return c.Has(RolePrefix + strings.ToUpper(name))
}

// Authorities returns the claim set's authorities in unspecified order.
func (c ClaimSet) Authorities() []string {
	result := make([]string, 0, len(c.authorities))
	for a := range c.authorities {
		result = append(result, a)
	}
	return result
}
