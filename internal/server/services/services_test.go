package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/binhnvh/usermgmt/internal/common"
	"github.com/binhnvh/usermgmt/internal/dbx"
	"github.com/binhnvh/usermgmt/internal/logging"
	"github.com/binhnvh/usermgmt/internal/server/config"
	"github.com/binhnvh/usermgmt/internal/server/models"
	"github.com/binhnvh/usermgmt/internal/server/password"
	permissionsrepo "github.com/binhnvh/usermgmt/internal/server/repositories/permissions"
	rolesrepo "github.com/binhnvh/usermgmt/internal/server/repositories/roles"
	usersrepo "github.com/binhnvh/usermgmt/internal/server/repositories/users"
	"golang.org/x/crypto/bcrypt"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func testHasher() *password.Hasher {
	return password.NewHasher(bcrypt.MinCost)
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testConfig() *config.Config {
	return &config.Config{
		SecretKey:             "k",
		TokenValidityDuration: time.Hour,
		BcryptCost:            bcrypt.MinCost,
	}
}

func mustHash(t *testing.T, plaintext string) string {
	t.Helper()
	h, err := testHasher().Hash(plaintext)
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	return h
}

// --- in-memory fakes ---

type fakeUsersRepo struct {
	byID map[string]*models.User
	seq  int

	saveErr      error
	lastLoginOut int64
	lastLoginErr error
	lockedReads  int
}

func newFakeUsersRepo(users ...*models.User) *fakeUsersRepo {
	f := &fakeUsersRepo{byID: make(map[string]*models.User), lastLoginOut: 1}
	for _, u := range users {
		f.byID[u.ID] = cloneUser(u)
	}
	return f
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.Roles = append([]models.Role(nil), u.Roles...)
	for i := range c.Roles {
		c.Roles[i].Permissions = append([]models.Permission(nil), u.Roles[i].Permissions...)
	}
	return &c
}

func (f *fakeUsersRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	if u, ok := f.byID[id]; ok {
		return cloneUser(u), nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) FindByIDForUpdate(ctx context.Context, id string) (*models.User, error) {
	f.lockedReads++
	return f.FindByID(ctx, id)
}

func (f *fakeUsersRepo) FindByUsername(_ context.Context, username string) (*models.User, error) {
	for _, u := range f.byID {
		if u.Username == username {
			return cloneUser(u), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range f.byID {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, err := f.FindByUsername(ctx, username)
	return err == nil, nil
}

func (f *fakeUsersRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := f.FindByEmail(ctx, email)
	return err == nil, nil
}

func (f *fakeUsersRepo) List(_ context.Context, limit, offset int) ([]*models.User, error) {
	var result []*models.User
	for _, u := range f.byID {
		result = append(result, cloneUser(u))
	}
	if offset > len(result) {
		offset = len(result)
	}
	result = result[offset:]
	if limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (f *fakeUsersRepo) Save(_ context.Context, user *models.User) (*models.User, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	if user.ID == "" {
		f.seq++
		user.ID = fmt.Sprintf("u%03d", f.seq)
		user.CreatedAt = time.Now()
	}
	user.UpdatedAt = time.Now()
	f.byID[user.ID] = cloneUser(user)
	return cloneUser(user), nil
}

func (f *fakeUsersRepo) Delete(_ context.Context, user *models.User) error {
	if _, ok := f.byID[user.ID]; !ok {
		return common.ErrorNotFound
	}
	delete(f.byID, user.ID)
	return nil
}

func (f *fakeUsersRepo) UpdateLastLogin(_ context.Context, userID string, at time.Time) (int64, error) {
	if f.lastLoginErr != nil {
		return 0, f.lastLoginErr
	}
	if f.lastLoginOut == 1 {
		if u, ok := f.byID[userID]; ok {
			u.LastLoginAt = &at
		}
	}
	return f.lastLoginOut, nil
}

type fakeRolesRepo struct {
	byName map[string]*models.Role
}

func newFakeRolesRepo(roles ...*models.Role) *fakeRolesRepo {
	f := &fakeRolesRepo{byName: make(map[string]*models.Role)}
	for _, r := range roles {
		f.byName[r.Name] = r
	}
	return f
}

func (f *fakeRolesRepo) FindByName(_ context.Context, name string) (*models.Role, error) {
	if r, ok := f.byName[name]; ok {
		c := *r
		c.Permissions = append([]models.Permission(nil), r.Permissions...)
		return &c, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeRolesRepo) ExistsByName(ctx context.Context, name string) (bool, error) {
	_, ok := f.byName[name]
	return ok, nil
}

type fakePermissionsRepo struct {
	byName map[string]*models.Permission
}

func newFakePermissionsRepo(perms ...*models.Permission) *fakePermissionsRepo {
	f := &fakePermissionsRepo{byName: make(map[string]*models.Permission)}
	for _, p := range perms {
		f.byName[p.Name] = p
	}
	return f
}

func (f *fakePermissionsRepo) FindByName(_ context.Context, name string) (*models.Permission, error) {
	if p, ok := f.byName[name]; ok {
		c := *p
		return &c, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakePermissionsRepo) ExistsByName(ctx context.Context, name string) (bool, error) {
	_, ok := f.byName[name]
	return ok, nil
}

type fakeRepoManager struct {
	users       *fakeUsersRepo
	roles       *fakeRolesRepo
	permissions *fakePermissionsRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) usersrepo.Repository          { return m.users }
func (m *fakeRepoManager) Roles(dbx.DBTX) rolesrepo.Repository          { return m.roles }
func (m *fakeRepoManager) Permissions(dbx.DBTX) permissionsrepo.Repository {
	return m.permissions
}

// --- canned reference data ---

func userRole() *models.Role {
	return &models.Role{
		ID:   "r-user",
		Name: "USER",
		Permissions: []models.Permission{
			{ID: "p-read", Name: "user:read"},
		},
	}
}

func adminRole() *models.Role {
	return &models.Role{
		ID:   "r-admin",
		Name: "ADMIN",
		Permissions: []models.Permission{
			{ID: "p-read", Name: "user:read"},
			{ID: "p-write", Name: "user:write"},
		},
	}
}

func aliceUser(t *testing.T) *models.User {
	return &models.User{
		ID:           "u-alice",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: mustHash(t, "p12345678"),
		Enabled:      true,
		Roles:        []models.Role{*userRole()},
	}
}
