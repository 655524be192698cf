package users

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/binhnvh/usermgmt/internal/common"
	"github.com/binhnvh/usermgmt/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

const (
	qFindByUsername = `(?s)^SELECT\s+id,\s*username,\s*email,\s*password_hash.*FROM\s+users\s+WHERE\s+username\s*=\s*\$1\s*$`
	qFindByID       = `(?s)^SELECT\s+id,\s*username,\s*email,\s*password_hash.*FROM\s+users\s+WHERE\s+id\s*=\s*\$1\s*$`
	qLoadRoles      = `(?s)^\s*SELECT\s+r\.id,\s*r\.name,\s*r\.description,\s*p\.id.*FROM\s+user_roles\s+ur`
	qInsertUser     = `(?s)^INSERT\s+INTO\s+users\s*\(id,\s*username,\s*email,\s*password_hash.*RETURNING\s+created_at,\s*updated_at\s*$`
	qUpdateUser     = `(?s)^UPDATE\s+users\s+SET\s+username\s*=\s*\$2.*RETURNING\s+created_at,\s*updated_at\s*$`
	qDeleteRoles    = `(?s)^DELETE\s+FROM\s+user_roles\s+WHERE\s+user_id\s*=\s*\$1\s*$`
	qInsertRole     = `(?s)^INSERT\s+INTO\s+user_roles\s*\(user_id,\s*role_id\)\s*VALUES\s*\(\$1,\s*\$2\)\s*$`
)

func userRows(id, username string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash", "first_name", "last_name",
		"enabled", "locked", "created_at", "updated_at", "last_login_at",
	}).AddRow(id, username, username+"@example.com", "$2a$hash", "", "", true, false, now, now, nil)
}

func emptyRoleRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"r.id", "r.name", "r.description", "p.id", "p.name", "p.description"})
}

func TestFindByUsername_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qFindByUsername).WithArgs("alice").WillReturnRows(userRows("u-1", "alice"))

	roleRows := emptyRoleRows().
		AddRow("r-1", "USER", "Default role", "p-1", "user:read", "Read access").
		AddRow("r-1", "USER", "Default role", "p-2", "user:write", "Write access")
	mock.ExpectQuery(qLoadRoles).WithArgs("u-1").WillReturnRows(roleRows)

	got, err := repo.FindByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("FindByUsername error: %v", err)
	}
	if got.ID != "u-1" || got.Username != "alice" {
		t.Fatalf("unexpected user: %+v", got)
	}
	if len(got.Roles) != 1 || got.Roles[0].Name != "USER" {
		t.Fatalf("unexpected roles: %+v", got.Roles)
	}
	if len(got.Roles[0].Permissions) != 2 {
		t.Fatalf("unexpected permissions: %+v", got.Roles[0].Permissions)
	}
}

func TestFindByUsername_RoleWithoutPermissions(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qFindByUsername).WithArgs("alice").WillReturnRows(userRows("u-1", "alice"))

	roleRows := emptyRoleRows().AddRow("r-2", "AUDITOR", "No grants yet", nil, nil, nil)
	mock.ExpectQuery(qLoadRoles).WithArgs("u-1").WillReturnRows(roleRows)

	got, err := repo.FindByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("FindByUsername error: %v", err)
	}
	if len(got.Roles) != 1 || len(got.Roles[0].Permissions) != 0 {
		t.Fatalf("unexpected roles: %+v", got.Roles)
	}
}

func TestFindByIDForUpdate_LocksRow(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*username,\s*email,\s*password_hash.*FROM\s+users\s+WHERE\s+id\s*=\s*\$1\s+FOR\s+UPDATE\s*$`
	mock.ExpectQuery(q).WithArgs("u-1").WillReturnRows(userRows("u-1", "alice"))
	mock.ExpectQuery(qLoadRoles).WithArgs("u-1").WillReturnRows(emptyRoleRows())

	got, err := repo.FindByIDForUpdate(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("FindByIDForUpdate error: %v", err)
	}
	if got.ID != "u-1" {
		t.Fatalf("unexpected user: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindByUsername_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qFindByUsername).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByUsername(context.Background(), "ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestFindByID_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qFindByID).WithArgs("u-1").WillReturnError(errors.New("db down"))

	_, err := repo.FindByID(context.Background(), "u-1")
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestExistsByUsername(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+EXISTS\s*\(SELECT\s+1\s+FROM\s+users\s+WHERE\s+username\s*=\s*\$1\)\s*$`
	mock.ExpectQuery(q).WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.ExistsByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ExistsByUsername error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
}

func TestSave_Insert(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(qInsertUser).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(qDeleteRoles).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(qInsertRole).WillReturnResult(sqlmock.NewResult(0, 1))

	user := &models.User{
		Username: "alice", Email: "alice@example.com", PasswordHash: "$2a$hash",
		Enabled: true,
		Roles:   []models.Role{{ID: "r-1", Name: "USER"}},
	}

	got, err := repo.Save(context.Background(), user)
	if err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if got.ID == "" {
		t.Fatal("expected generated id")
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps, got %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSave_Insert_DuplicateUsername(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qInsertUser).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"})

	_, err := repo.Save(context.Background(), &models.User{Username: "alice", Email: "alice@example.com"})
	if !errors.Is(err, common.ErrorAlreadyExists) {
		t.Fatalf("want common.ErrorAlreadyExists, got %v", err)
	}
	if !regexp.MustCompile(`username`).MatchString(err.Error()) {
		t.Fatalf("error should name the field, got %v", err)
	}
}

func TestSave_Insert_DuplicateEmail(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qInsertUser).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	_, err := repo.Save(context.Background(), &models.User{Username: "alice", Email: "alice@example.com"})
	if !errors.Is(err, common.ErrorAlreadyExists) {
		t.Fatalf("want common.ErrorAlreadyExists, got %v", err)
	}
	if !regexp.MustCompile(`email`).MatchString(err.Error()) {
		t.Fatalf("error should name the field, got %v", err)
	}
}

func TestSave_Update(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	created := time.Now().Add(-time.Hour)
	updated := time.Now()
	mock.ExpectQuery(qUpdateUser).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(created, updated))
	mock.ExpectExec(qDeleteRoles).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(qInsertRole).WillReturnResult(sqlmock.NewResult(0, 1))

	user := &models.User{
		ID: "u-1", Username: "alice", Email: "alice@example.com",
		Roles: []models.Role{{ID: "r-1", Name: "USER"}},
	}

	got, err := repo.Save(context.Background(), user)
	if err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if !got.UpdatedAt.Equal(updated) {
		t.Fatalf("expected refreshed updated_at, got %+v", got)
	}
}

func TestSave_Update_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qUpdateUser).WillReturnError(sql.ErrNoRows)

	_, err := repo.Save(context.Background(), &models.User{ID: "ghost", Username: "ghost"})
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestDelete_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^DELETE\s+FROM\s+users\s+WHERE\s+id\s*=\s*\$1\s*$`
	mock.ExpectExec(q).WithArgs("u-1").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Delete(context.Background(), &models.User{ID: "u-1"}); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
}

func TestDelete_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^DELETE\s+FROM\s+users\s+WHERE\s+id\s*=\s*\$1\s*$`
	mock.ExpectExec(q).WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), &models.User{ID: "ghost"})
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestUpdateLastLogin(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+users\s+SET\s+last_login_at\s*=\s*\$2\s+WHERE\s+id\s*=\s*\$1\s*$`
	at := time.Now()
	mock.ExpectExec(q).WithArgs("u-1", at).WillReturnResult(sqlmock.NewResult(0, 1))

	affected, err := repo.UpdateLastLogin(context.Background(), "u-1", at)
	if err != nil {
		t.Fatalf("UpdateLastLogin error: %v", err)
	}
	if affected != 1 {
		t.Fatalf("unexpected rows affected: %d", affected)
	}
}

func TestUpdateLastLogin_Missing(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+users\s+SET\s+last_login_at\s*=\s*\$2\s+WHERE\s+id\s*=\s*\$1\s*$`
	at := time.Now()
	mock.ExpectExec(q).WithArgs("ghost", at).WillReturnResult(sqlmock.NewResult(0, 0))

	affected, err := repo.UpdateLastLogin(context.Background(), "ghost", at)
	if err != nil {
		t.Fatalf("UpdateLastLogin error: %v", err)
	}
	if affected != 0 {
		t.Fatalf("unexpected rows affected: %d", affected)
	}
}

func TestList(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*username.*FROM\s+users\s+ORDER\s+BY\s+username\s+LIMIT\s+\$1\s+OFFSET\s+\$2\s*$`
	rows := userRows("u-1", "alice")
	now := time.Now()
	rows.AddRow("u-2", "bob", "bob@example.com", "$2a$hash", "", "", true, false, now, now, nil)

	mock.ExpectQuery(q).WithArgs(20, 0).WillReturnRows(rows)
	mock.ExpectQuery(qLoadRoles).WithArgs("u-1").WillReturnRows(emptyRoleRows())
	mock.ExpectQuery(qLoadRoles).WithArgs("u-2").WillReturnRows(emptyRoleRows())

	got, err := repo.List(context.Background(), 20, 0)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("unexpected result: %+v", got)
	}
}
