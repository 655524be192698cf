package authz

import "github.com/binhnvh/usermgmt/internal/common"

// Predicate is an access rule evaluated against the caller's claims and the
// username of the record the request targets (empty when the route has no
// subject).
type Predicate func(claims ClaimSet, subject string) bool

// HasRole allows callers holding ROLE_<NAME>.
func HasRole(name string) Predicate {
	return func(claims ClaimSet, _ string) bool {
		return claims.HasRole(name)
	}
}

// HasPermission allows callers holding the raw permission authority.
func HasPermission(name string) Predicate {
	return func(claims ClaimSet, _ string) bool {
		return claims.Has(name)
	}
}

// IsSubject allows callers acting on their own record.
func IsSubject() Predicate {
	return func(claims ClaimSet, subject string) bool {
		return subject != "" && claims.Subject == subject
	}
}

// AnyOf allows the request if any predicate allows it.
func AnyOf(predicates ...Predicate) Predicate {
	return func(claims ClaimSet, subject string) bool {
		for _, p := range predicates {
			if p(claims, subject) {
				return true
			}
		}
		return false
	}
}

// Table maps route patterns to the predicate a caller must satisfy.
// Patterns without an entry are denied: the table fails closed.
type Table map[string]Predicate

// Authorize evaluates the rule for the pattern. It returns ErrorForbidden
// when the rule denies the caller or when no rule exists for the pattern.
func (t Table) Authorize(pattern string, claims ClaimSet, subject string) error {
	rule, ok := t[pattern]
	if !ok {
		return common.ErrorForbidden
	}
	if !rule(claims, subject) {
		return common.ErrorForbidden
	}
	return nil
}
