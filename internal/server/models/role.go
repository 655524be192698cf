package models

// Role is a named authorization group. Role names are stored upper-cased;
// lookups upper-case their input before hitting the store.
type Role struct {
	ID          string
	Name        string
	Description string
	Permissions []Permission
}

// Permission is a named capability attached to roles through the
// role_permissions join table.
type Permission struct {
	ID          string
	Name        string
	Description string
}
