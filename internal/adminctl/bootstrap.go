package adminctl

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/binhnvh/usermgmt/internal/logging"
	"github.com/binhnvh/usermgmt/internal/server/config"
	"github.com/binhnvh/usermgmt/internal/server/password"
	"github.com/binhnvh/usermgmt/internal/server/repomanager"
	"github.com/binhnvh/usermgmt/internal/server/services"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Run prompts for the admin account details on in/out, then creates the
// account with the ADMIN and USER roles. Registration-level validation
// applies, so a weak password or taken username fails the same way it would
// over the API.
func Run(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {

	slogger := slog.New(slog.NewTextHandler(out, nil))
	logger := logging.NewSlogLogger(slogger)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db init error: %w", err)
	}
	defer db.Close()

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}

	hasher := password.NewHasher(cfg.BcryptCost)
	auth := services.NewAuthService(db, rm, hasher, logger, cfg)

	reader := bufio.NewReader(in)

	username, err := GetSimpleText(reader, "Admin username", out)
	if err != nil {
		return err
	}

	email, err := GetSimpleText(reader, "Admin email", out)
	if err != nil {
		return err
	}

	pw, err := GetPassword("Admin password", out)
	if err != nil {
		return err
	}

	confirm, err := GetPassword("Confirm password", out)
	if err != nil {
		return err
	}
	if string(pw) != string(confirm) {
		return fmt.Errorf("passwords do not match")
	}

	dto, err := auth.Register(ctx, services.NewUser{
		Username: username,
		Email:    email,
		Password: string(pw),
		Roles:    []string{"ADMIN", "USER"},
	})
	if err != nil {
		return fmt.Errorf("admin creation failed: %w", err)
	}

	fmt.Fprintf(out, "Created admin %s (%s)\n", dto.Username, dto.ID)
	return nil
}
