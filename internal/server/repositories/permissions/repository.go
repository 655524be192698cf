package permissions

import (
	"context"

	"github.com/binhnvh/usermgmt/internal/server/models"
)

// Repository looks up reference permission data.
type Repository interface {
	FindByName(ctx context.Context, name string) (*models.Permission, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
}
