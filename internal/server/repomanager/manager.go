// Package repomanager wires repositories to database handles. Repositories
// are bound per-handle so the same code runs against *sql.DB or a
// transaction from dbx.WithTx.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/binhnvh/usermgmt/internal/dbx"
	"github.com/binhnvh/usermgmt/internal/server/repositories/permissions"
	"github.com/binhnvh/usermgmt/internal/server/repositories/roles"
	"github.com/binhnvh/usermgmt/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Roles(db dbx.DBTX) roles.Repository
	Permissions(db dbx.DBTX) permissions.Repository
}
