// Package services contains server-side business logic. This file implements
// AuthService, the single entry point for login, registration, and token
// validation.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/binhnvh/usermgmt/internal/common"
	"github.com/binhnvh/usermgmt/internal/dbx"
	"github.com/binhnvh/usermgmt/internal/logging"
	"github.com/binhnvh/usermgmt/internal/server/authz"
	"github.com/binhnvh/usermgmt/internal/server/config"
	"github.com/binhnvh/usermgmt/internal/server/models"
	"github.com/binhnvh/usermgmt/internal/server/password"
	"github.com/binhnvh/usermgmt/internal/server/repomanager"
	"github.com/binhnvh/usermgmt/internal/server/token"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,50}$`)

const minPasswordLength = 8

// AuthService composes the credential store, the password hasher, the
// authorization policy, and the token service.
type AuthService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	hasher        *password.Hasher
	logger        logging.Logger
	jwtSecret     []byte
	tokenValidity time.Duration
}

// NewAuthService constructs an AuthService using repositories and server config.
func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, hasher *password.Hasher, logger logging.Logger, cfg *config.Config) *AuthService {
	return &AuthService{
		db:            db,
		repomanager:   m,
		hasher:        hasher,
		logger:        logger.With("module", "auth_service"),
		jwtSecret:     []byte(cfg.SecretKey),
		tokenValidity: cfg.TokenValidityDuration,
	}
}

// Login resolves the principal by username (falling back to email), verifies
// the credentials, updates the last-login time best-effort, and issues a
// token carrying the effective permission set. Any credential failure is
// ErrorUnauthorized; the caller never learns whether the username or the
// password was wrong.
func (s *AuthService) Login(ctx context.Context, username, pass string) (*AuthResult, error) {
	repo := s.repomanager.Users(s.db)

	user, err := repo.FindByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorInternal
		}
		user, err = repo.FindByEmail(ctx, username)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return nil, common.ErrorUnauthorized
			}
			return nil, common.ErrorInternal
		}
	}

	if !s.verifyCredentials(user, pass) {
		return nil, common.ErrorUnauthorized
	}

	// Advisory telemetry: a lost update here means the user raced a delete,
	// which the next request will surface on its own.
	affected, err := repo.UpdateLastLogin(ctx, user.ID, time.Now())
	if err != nil {
		s.logger.Error(ctx, "last login update failed", "user_id", user.ID, "error", err.Error())
	} else if affected == 0 {
		s.logger.Warn(ctx, "last login update touched no rows", "user_id", user.ID)
	}

	authorities := authz.EffectivePermissions(user)

	accessToken, err := token.Generate(user.Username, authorities, s.jwtSecret, s.tokenValidity)
	if err != nil {
		return nil, common.ErrorInternal
	}

	expiresAt, err := token.Expiry(accessToken, s.jwtSecret)
	if err != nil {
		return nil, common.ErrorInternal
	}

	return &AuthResult{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		UserID:      user.ID,
		Username:    user.Username,
		Email:       user.Email,
		Roles:       authz.RolesFromAuthorities(authorities),
		ExpiresAt:   expiresAt,
	}, nil
}

// verifyCredentials is the credential-verification step behind Login.
// Disabled and locked accounts fail it the same way a bad password does.
func (s *AuthService) verifyCredentials(user *models.User, pass string) bool {
	if !user.Enabled || user.Locked {
		return false
	}
	return s.hasher.Matches(pass, user.PasswordHash)
}

// Register creates a user from the supplied fields. Uniqueness pre-checks
// give a friendly Conflict error; the schema constraints remain the
// authoritative guard and surface identically through Save. Requested role
// names resolve case-insensitively, defaulting to USER when none are given.
func (s *AuthService) Register(ctx context.Context, input NewUser) (*UserDto, error) {
	if err := validateNewUser(input); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, common.ErrorInternal
	}

	var saved *models.User
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)

		if exists, err := repo.ExistsByUsername(ctx, input.Username); err != nil {
			return common.ErrorInternal
		} else if exists {
			return fmt.Errorf("%w: username %s", common.ErrorAlreadyExists, input.Username)
		}

		if exists, err := repo.ExistsByEmail(ctx, input.Email); err != nil {
			return common.ErrorInternal
		} else if exists {
			return fmt.Errorf("%w: email %s", common.ErrorAlreadyExists, input.Email)
		}

		resolved, err := s.resolveRoles(ctx, tx, input.Roles)
		if err != nil {
			return err
		}

		user := &models.User{
			Username:     input.Username,
			Email:        input.Email,
			PasswordHash: hash,
			FirstName:    input.FirstName,
			LastName:     input.LastName,
			Enabled:      true,
			Locked:       false,
			Roles:        resolved,
		}
		if input.Enabled != nil {
			user.Enabled = *input.Enabled
		}
		if input.Locked != nil {
			user.Locked = *input.Locked
		}

		saved, err = repo.Save(ctx, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "user registered", "user_id", saved.ID, "username", saved.Username)
	return mapUserToDto(saved), nil
}

// ValidateToken reports whether the token verifies. Pure delegate to the
// token service.
func (s *AuthService) ValidateToken(tokenString string) bool {
	return token.Validate(tokenString, s.jwtSecret)
}

// Authenticate parses and verifies a bearer token, returning the caller's
// claim set for explicit authorization checks downstream.
func (s *AuthService) Authenticate(tokenString string) (authz.ClaimSet, error) {
	claims, err := token.Parse(tokenString, s.jwtSecret)
	if err != nil {
		return authz.ClaimSet{}, common.ErrorUnauthorized
	}
	return authz.NewClaimSet(claims.Subject, claims.Authorities), nil
}

// resolveRoles maps role names to reference roles, upper-casing before
// lookup. An empty list resolves to the default USER role. Unknown names
// are ErrorNotFound naming the role; they are never silently dropped.
func (s *AuthService) resolveRoles(ctx context.Context, db dbx.DBTX, names []string) ([]models.Role, error) {
	if len(names) == 0 {
		names = []string{"USER"}
	}

	repo := s.repomanager.Roles(db)

	resolved := make([]models.Role, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		upper := strings.ToUpper(name)
		if _, ok := seen[upper]; ok {
			continue
		}
		seen[upper] = struct{}{}

		role, err := repo.FindByName(ctx, upper)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return nil, fmt.Errorf("%w: role %s", common.ErrorNotFound, name)
			}
			return nil, common.ErrorInternal
		}
		resolved = append(resolved, *role)
	}
	return resolved, nil
}

func validateNewUser(input NewUser) error {
	if !usernamePattern.MatchString(input.Username) {
		return fmt.Errorf("%w: username", common.ErrorValidation)
	}
	if !strings.Contains(input.Email, "@") {
		return fmt.Errorf("%w: email", common.ErrorValidation)
	}
	if len(input.Password) < minPasswordLength {
		return fmt.Errorf("%w: password", common.ErrorValidation)
	}
	return nil
}
