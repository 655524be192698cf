// Package httpapi exposes the authentication and user management operations
// over HTTP/JSON. Access rules are table-driven: every protected route has an
// entry in the policy table, evaluated against the caller's verified claims
// before the handler runs.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/binhnvh/usermgmt/internal/logging"
	"github.com/binhnvh/usermgmt/internal/server/authz"
	"github.com/binhnvh/usermgmt/internal/server/services"
)

// Route patterns double as policy table keys; http.Request.Pattern reports
// the matched pattern, so the table stays in lockstep with the mux.
const (
	patternLogin    = "POST /api/auth/login"
	patternRegister = "POST /api/auth/register"
	patternValidate = "GET /api/auth/validate"

	patternListUsers      = "GET /api/users"
	patternCreateUser     = "POST /api/users"
	patternGetUser        = "GET /api/users/{id}"
	patternUserByUsername = "GET /api/users/username/{username}"
	patternUserByEmail    = "GET /api/users/email/{email}"
	patternUpdateUser     = "PUT /api/users/{id}"
	patternDeleteUser     = "DELETE /api/users/{id}"
	patternEnableUser     = "PATCH /api/users/{id}/enable"
	patternLockUser       = "PATCH /api/users/{id}/lock"
	patternAddRole        = "PUT /api/users/{id}/roles/{name}"
	patternRemoveRole     = "DELETE /api/users/{id}/roles/{name}"
	patternChangePassword = "POST /api/users/{id}/change-password"

	patternGetPermission = "GET /api/permissions/{name}"
)

// AuthProvider is the auth orchestrator surface the boundary consumes.
type AuthProvider interface {
	Login(ctx context.Context, username, password string) (*services.AuthResult, error)
	Register(ctx context.Context, input services.NewUser) (*services.UserDto, error)
	ValidateToken(tokenString string) bool
	Authenticate(tokenString string) (authz.ClaimSet, error)
}

// UserProvider is the user management surface the boundary consumes.
type UserProvider interface {
	GetUserByID(ctx context.Context, id string) (*services.UserDto, error)
	GetUserByUsername(ctx context.Context, username string) (*services.UserDto, error)
	GetUserByEmail(ctx context.Context, email string) (*services.UserDto, error)
	ListUsers(ctx context.Context, limit, offset int) ([]*services.UserDto, error)
	UpdateUser(ctx context.Context, id string, input services.UserUpdate) (*services.UserDto, error)
	DeleteUser(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) (*services.UserDto, error)
	SetLocked(ctx context.Context, id string, locked bool) (*services.UserDto, error)
	AddRole(ctx context.Context, id, roleName string) (*services.UserDto, error)
	RemoveRole(ctx context.Context, id, roleName string) (*services.UserDto, error)
	ChangePassword(ctx context.Context, id, currentPassword, newPassword string) (*services.UserDto, error)
	GetPermission(ctx context.Context, name string) (*services.PermissionDto, error)
}

type Server struct {
	address string
	logger  logging.Logger
	auth    AuthProvider
	users   UserProvider
	policy  authz.Table
}

func NewServer(address string, logger logging.Logger, auth AuthProvider, users UserProvider) *Server {
	return &Server{
		address: address,
		logger:  logger.With("module", "http_server"),
		auth:    auth,
		users:   users,
		policy:  defaultPolicy(),
	}
}

// defaultPolicy is the access rule table for the user management surface.
// Authentication endpoints are public and carry no entry.
func defaultPolicy() authz.Table {
	admin := authz.HasRole("ADMIN")
	adminOrSelf := authz.AnyOf(admin, authz.IsSubject())

	return authz.Table{
		patternListUsers:      admin,
		patternCreateUser:     admin,
		patternGetUser:        adminOrSelf,
		patternUserByUsername: admin,
		patternUserByEmail:    admin,
		patternUpdateUser:     adminOrSelf,
		patternDeleteUser:     admin,
		patternEnableUser:     admin,
		patternLockUser:       admin,
		patternAddRole:        admin,
		patternRemoveRole:     admin,
		patternChangePassword: adminOrSelf,
		patternGetPermission:  admin,
	}
}

// Handler builds the route table. Exported so tests can drive the mux
// through httptest without a listening socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(patternLogin, s.handleLogin)
	mux.HandleFunc(patternRegister, s.handleRegister)
	mux.HandleFunc(patternValidate, s.handleValidate)

	mux.HandleFunc(patternListUsers, s.requireAuth(s.handleListUsers))
	mux.HandleFunc(patternCreateUser, s.requireAuth(s.handleCreateUser))
	mux.HandleFunc(patternGetUser, s.requireAuth(s.handleGetUser))
	mux.HandleFunc(patternUserByUsername, s.requireAuth(s.handleGetUserByUsername))
	mux.HandleFunc(patternUserByEmail, s.requireAuth(s.handleGetUserByEmail))
	mux.HandleFunc(patternUpdateUser, s.requireAuth(s.handleUpdateUser))
	mux.HandleFunc(patternDeleteUser, s.requireAuth(s.handleDeleteUser))
	mux.HandleFunc(patternEnableUser, s.requireAuth(s.handleEnableUser))
	mux.HandleFunc(patternLockUser, s.requireAuth(s.handleLockUser))
	mux.HandleFunc(patternAddRole, s.requireAuth(s.handleAddRole))
	mux.HandleFunc(patternRemoveRole, s.requireAuth(s.handleRemoveRole))
	mux.HandleFunc(patternChangePassword, s.requireAuth(s.handleChangePassword))
	mux.HandleFunc(patternGetPermission, s.requireAuth(s.handleGetPermission))

	return s.logRequests(mux)
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
