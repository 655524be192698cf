package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/binhnvh/usermgmt/internal/common"
	"github.com/binhnvh/usermgmt/internal/dbx"
	"github.com/binhnvh/usermgmt/internal/logging"
	"github.com/binhnvh/usermgmt/internal/server/models"
	"github.com/binhnvh/usermgmt/internal/server/password"
	"github.com/binhnvh/usermgmt/internal/server/repomanager"
)

// UserService implements the administrative user management surface:
// lookups, CRUD, enable/lock toggles, role mutation, and password change.
// Role mutations run read-modify-write inside a transaction so concurrent
// administrators cannot lose each other's updates.
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hasher      *password.Hasher
	logger      logging.Logger
}

// NewUserService constructs a UserService.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, hasher *password.Hasher, logger logging.Logger) *UserService {
	return &UserService{
		db:          db,
		repomanager: m,
		hasher:      hasher,
		logger:      logger.With("module", "user_service"),
	}
}

func (s *UserService) GetUserByID(ctx context.Context, id string) (*UserDto, error) {
	user, err := s.findUser(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return mapUserToDto(user), nil
}

func (s *UserService) GetUserByUsername(ctx context.Context, username string) (*UserDto, error) {
	user, err := s.repomanager.Users(s.db).FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: username %s", common.ErrorNotFound, username)
		}
		return nil, common.ErrorInternal
	}
	return mapUserToDto(user), nil
}

func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*UserDto, error) {
	user, err := s.repomanager.Users(s.db).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: email %s", common.ErrorNotFound, email)
		}
		return nil, common.ErrorInternal
	}
	return mapUserToDto(user), nil
}

// GetPermission looks up a reference permission by name. Permission names are
// stored verbatim, so the lookup is case-sensitive.
func (s *UserService) GetPermission(ctx context.Context, name string) (*PermissionDto, error) {
	p, err := s.repomanager.Permissions(s.db).FindByName(ctx, name)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: permission %s", common.ErrorNotFound, name)
		}
		return nil, common.ErrorInternal
	}
	return &PermissionDto{ID: p.ID, Name: p.Name, Description: p.Description}, nil
}

// ListUsers returns a page of users ordered by username.
func (s *UserService) ListUsers(ctx context.Context, limit, offset int) ([]*UserDto, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	users, err := s.repomanager.Users(s.db).List(ctx, limit, offset)
	if err != nil {
		return nil, common.ErrorInternal
	}

	result := make([]*UserDto, 0, len(users))
	for _, u := range users {
		result = append(result, mapUserToDto(u))
	}
	return result, nil
}

// UpdateUser replaces the user's profile. Username and email uniqueness are
// re-checked only when they change; a non-empty password is re-hashed; a
// non-nil role list replaces the role set entirely.
func (s *UserService) UpdateUser(ctx context.Context, id string, input UserUpdate) (*UserDto, error) {
	if !usernamePattern.MatchString(input.Username) {
		return nil, fmt.Errorf("%w: username", common.ErrorValidation)
	}
	if !strings.Contains(input.Email, "@") {
		return nil, fmt.Errorf("%w: email", common.ErrorValidation)
	}
	if input.Roles != nil && len(input.Roles) == 0 {
		return nil, fmt.Errorf("%w: roles", common.ErrorValidation)
	}
	if input.Password != "" && len(input.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password", common.ErrorValidation)
	}

	var hash string
	if input.Password != "" {
		var err error
		if hash, err = s.hasher.Hash(input.Password); err != nil {
			return nil, common.ErrorInternal
		}
	}

	var updated *models.User
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)

		user, err := s.findUserForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}

		if user.Username != input.Username {
			if exists, err := repo.ExistsByUsername(ctx, input.Username); err != nil {
				return common.ErrorInternal
			} else if exists {
				return fmt.Errorf("%w: username %s", common.ErrorAlreadyExists, input.Username)
			}
		}
		if user.Email != input.Email {
			if exists, err := repo.ExistsByEmail(ctx, input.Email); err != nil {
				return common.ErrorInternal
			} else if exists {
				return fmt.Errorf("%w: email %s", common.ErrorAlreadyExists, input.Email)
			}
		}

		user.Username = input.Username
		user.Email = input.Email
		user.FirstName = input.FirstName
		user.LastName = input.LastName
		if hash != "" {
			user.PasswordHash = hash
		}
		if input.Enabled != nil {
			user.Enabled = *input.Enabled
		}
		if input.Locked != nil {
			user.Locked = *input.Locked
		}

		if input.Roles != nil {
			resolved, err := s.resolveRoleNames(ctx, tx, input.Roles)
			if err != nil {
				return err
			}
			user.Roles = resolved
		}

		updated, err = repo.Save(ctx, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	return mapUserToDto(updated), nil
}

// DeleteUser removes the user record and, through the relation table, its
// role assignments.
func (s *UserService) DeleteUser(ctx context.Context, id string) error {
	repo := s.repomanager.Users(s.db)

	user, err := s.findUser(ctx, s.db, id)
	if err != nil {
		return err
	}

	if err := repo.Delete(ctx, user); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("%w: user id %s", common.ErrorNotFound, id)
		}
		return common.ErrorInternal
	}

	s.logger.Info(ctx, "user deleted", "user_id", id)
	return nil
}

func (s *UserService) SetEnabled(ctx context.Context, id string, enabled bool) (*UserDto, error) {
	return s.patchUser(ctx, id, func(user *models.User) error {
		user.Enabled = enabled
		return nil
	})
}

func (s *UserService) SetLocked(ctx context.Context, id string, locked bool) (*UserDto, error) {
	return s.patchUser(ctx, id, func(user *models.User) error {
		user.Locked = locked
		return nil
	})
}

// AddRole attaches the named role to the user. Adding an already-held role
// is a no-op that still returns the current projection. The user row is
// locked for the transaction so concurrent mutations cannot overwrite each
// other's role set.
func (s *UserService) AddRole(ctx context.Context, id, roleName string) (*UserDto, error) {
	var updated *models.User
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		user, err := s.findUserForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}

		role, err := s.findRole(ctx, tx, roleName)
		if err != nil {
			return err
		}

		if !user.HasRole(role.Name) {
			user.Roles = append(user.Roles, *role)
		}

		updated, err = s.repomanager.Users(tx).Save(ctx, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return mapUserToDto(updated), nil
}

// RemoveRole detaches the named role. Removing the last remaining role is
// refused with ErrorForbidden before the store is touched; the cardinality
// check runs against the locked row, so a concurrent removal cannot slip a
// user past it.
func (s *UserService) RemoveRole(ctx context.Context, id, roleName string) (*UserDto, error) {
	var updated *models.User
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		user, err := s.findUserForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}

		role, err := s.findRole(ctx, tx, roleName)
		if err != nil {
			return err
		}

		if len(user.Roles) <= 1 && user.HasRole(role.Name) {
			return fmt.Errorf("%w: cannot remove the only role from a user", common.ErrorForbidden)
		}

		kept := user.Roles[:0]
		for _, r := range user.Roles {
			if r.ID != role.ID {
				kept = append(kept, r)
			}
		}
		user.Roles = kept

		updated, err = s.repomanager.Users(tx).Save(ctx, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return mapUserToDto(updated), nil
}

// ChangePassword re-hashes the password after confirming the current one.
// A wrong current password is ErrorForbidden, distinct from an unknown user.
// The check-and-rotate runs on the locked row: Save persists the whole
// aggregate, so an unlocked write here could clobber a concurrent role change.
func (s *UserService) ChangePassword(ctx context.Context, id, currentPassword, newPassword string) (*UserDto, error) {
	if len(newPassword) < minPasswordLength {
		return nil, fmt.Errorf("%w: password", common.ErrorValidation)
	}

	dto, err := s.patchUser(ctx, id, func(user *models.User) error {
		if !s.hasher.Matches(currentPassword, user.PasswordHash) {
			return fmt.Errorf("%w: current password is incorrect", common.ErrorForbidden)
		}

		hash, err := s.hasher.Hash(newPassword)
		if err != nil {
			return common.ErrorInternal
		}
		user.PasswordHash = hash
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "password changed", "user_id", id)
	return dto, nil
}

func (s *UserService) findUser(ctx context.Context, db dbx.DBTX, id string) (*models.User, error) {
	user, err := s.repomanager.Users(db).FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: user id %s", common.ErrorNotFound, id)
		}
		return nil, common.ErrorInternal
	}
	return user, nil
}

// findUserForUpdate is findUser with a row lock; db must be a transaction.
func (s *UserService) findUserForUpdate(ctx context.Context, db dbx.DBTX, id string) (*models.User, error) {
	user, err := s.repomanager.Users(db).FindByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: user id %s", common.ErrorNotFound, id)
		}
		return nil, common.ErrorInternal
	}
	return user, nil
}

func (s *UserService) findRole(ctx context.Context, db dbx.DBTX, name string) (*models.Role, error) {
	role, err := s.repomanager.Roles(db).FindByName(ctx, strings.ToUpper(name))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: role %s", common.ErrorNotFound, name)
		}
		return nil, common.ErrorInternal
	}
	return role, nil
}

func (s *UserService) resolveRoleNames(ctx context.Context, db dbx.DBTX, names []string) ([]models.Role, error) {
	resolved := make([]models.Role, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		upper := strings.ToUpper(name)
		if _, ok := seen[upper]; ok {
			continue
		}
		seen[upper] = struct{}{}

		role, err := s.findRole(ctx, db, upper)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, *role)
	}
	return resolved, nil
}

func (s *UserService) patchUser(ctx context.Context, id string, mutate func(*models.User) error) (*UserDto, error) {
	var updated *models.User
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		user, err := s.findUserForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := mutate(user); err != nil {
			return err
		}

		updated, err = s.repomanager.Users(tx).Save(ctx, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return mapUserToDto(updated), nil
}
