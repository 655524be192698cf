package roles

import (
	"context"

	"github.com/binhnvh/usermgmt/internal/server/models"
)

// Repository looks up reference role data. Roles are seeded out-of-band;
// the auth core only reads them. Callers upper-case names before lookup.
type Repository interface {
	FindByName(ctx context.Context, name string) (*models.Role, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
}
