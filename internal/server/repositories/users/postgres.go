package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/binhnvh/usermgmt/internal/common"
	"github.com/binhnvh/usermgmt/internal/dbx"
	"github.com/binhnvh/usermgmt/internal/server/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, username, email, password_hash, first_name, last_name,
	 enabled, locked, created_at, updated_at, last_login_at`

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, "id = $1", id)
}

// FindByIDForUpdate reads the user under a row lock. Only meaningful inside a
// transaction; the lock is held until commit or rollback.
func (r *PostgresRepository) FindByIDForUpdate(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, "id = $1 FOR UPDATE", id)
}

func (r *PostgresRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findOne(ctx, "username = $1", username)
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, "email = $1", email)
}

func (r *PostgresRepository) findOne(ctx context.Context, where string, arg any) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where

	user, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if err := r.loadRoles(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

func (r *PostgresRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, "username", username)
}

func (r *PostgresRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, "email", email)
}

func (r *PostgresRepository) exists(ctx context.Context, column string, arg any) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE ` + column + ` = $1)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY username LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	for _, user := range result {
		if err := r.loadRoles(ctx, user); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// Save inserts the user when it has no id and updates it otherwise, then
// rewrites the user_roles relation to match user.Roles. The uniqueness
// constraints on username and email are the authoritative duplicate guard;
// their violations surface as ErrorAlreadyExists naming the field.
func (r *PostgresRepository) Save(ctx context.Context, user *models.User) (*models.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()

		query :=
			`INSERT INTO users (id, username, email, password_hash, first_name, last_name, enabled, locked)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING created_at, updated_at`

		err := r.db.QueryRowContext(ctx, query,
			user.ID, user.Username, user.Email, user.PasswordHash,
			user.FirstName, user.LastName, user.Enabled, user.Locked).
			Scan(&user.CreatedAt, &user.UpdatedAt)
		if err != nil {
			return nil, translateConstraint(err)
		}
	} else {
		query :=
			`UPDATE users
			 SET username = $2, email = $3, password_hash = $4, first_name = $5,
			     last_name = $6, enabled = $7, locked = $8, updated_at = now()
			 WHERE id = $1
			 RETURNING created_at, updated_at`

		err := r.db.QueryRowContext(ctx, query,
			user.ID, user.Username, user.Email, user.PasswordHash,
			user.FirstName, user.LastName, user.Enabled, user.Locked).
			Scan(&user.CreatedAt, &user.UpdatedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, common.ErrorNotFound
			}
			return nil, translateConstraint(err)
		}
	}

	if err := r.saveRoles(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, user *models.User) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, user.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateLastLogin(ctx context.Context, userID string, at time.Time) (int64, error) {
	query := `UPDATE users SET last_login_at = $2 WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, userID, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return affected, nil
}

// saveRoles rewrites the join records for the user to match user.Roles.
func (r *PostgresRepository) saveRoles(ctx context.Context, user *models.User) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, user.ID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	for _, role := range user.Roles {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`, user.ID, role.ID)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) loadRoles(ctx context.Context, user *models.User) error {
	query :=
		`SELECT r.id, r.name, r.description, p.id, p.name, p.description
		 FROM user_roles ur
		 JOIN roles r ON r.id = ur.role_id
		 LEFT JOIN role_permissions rp ON rp.role_id = r.id
		 LEFT JOIN permissions p ON p.id = rp.permission_id
		 WHERE ur.user_id = $1
		 ORDER BY r.name, p.name`

	rows, err := r.db.QueryContext(ctx, query, user.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	user.Roles = nil
	var current *models.Role

	for rows.Next() {
		var role models.Role
		var permID, permName, permDescription sql.NullString

		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &permID, &permName, &permDescription); err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		if current == nil || current.ID != role.ID {
			user.Roles = append(user.Roles, role)
			current = &user.Roles[len(user.Roles)-1]
		}
		if permID.Valid {
			current.Permissions = append(current.Permissions, models.Permission{
				ID:          permID.String,
				Name:        permName.String,
				Description: permDescription.String,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var lastLogin sql.NullTime

	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.FirstName, &user.LastName, &user.Enabled, &user.Locked,
		&user.CreatedAt, &user.UpdatedAt, &lastLogin)
	if err != nil {
		return nil, err
	}

	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLoginAt = &t
	}
	return user, nil
}

// translateConstraint maps a postgres unique violation to ErrorAlreadyExists
// naming the conflicting field.
func translateConstraint(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "users_username_key":
			return fmt.Errorf("%w: username", common.ErrorAlreadyExists)
		case "users_email_key":
			return fmt.Errorf("%w: email", common.ErrorAlreadyExists)
		}
		return common.ErrorAlreadyExists
	}
	return fmt.Errorf("db error: %w", err)
}
