package users

import (
	"context"
	"time"

	"github.com/binhnvh/usermgmt/internal/server/models"
)

// Repository is the credential store contract for users. Save is an upsert:
// it assigns an id on first insert and returns the persisted record with
// derived timestamps. UpdateLastLogin is an atomic partial update that does
// not load the aggregate; it reports the number of rows touched so callers
// can detect a concurrent delete.
//
// FindByIDForUpdate locks the user row for the rest of the transaction.
// Read-modify-write flows that rewrite the role relation must use it, so two
// concurrent mutations serialize on the row instead of overwriting each
// other's role set.
type Repository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByIDForUpdate(ctx context.Context, id string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	Save(ctx context.Context, user *models.User) (*models.User, error)
	Delete(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) (int64, error)
}
