package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/rsvpbot/internal/upgrade"
)

var migrationsDir string

// resolveMigrationsDir prefers the flag, then RSVPBOT_MIGRATIONS_DIR, then
// ./migrations, then migrations/ next to the binary.
func resolveMigrationsDir() string {
	if migrationsDir != "" {
		return migrationsDir
	}
	if v := os.Getenv("RSVPBOT_MIGRATIONS_DIR"); v != "" {
		return v
	}
	if info, err := os.Stat("migrations"); err == nil && info.IsDir() {
		return "migrations"
	}
	exe, err := os.Executable()
	if err != nil {
		return "migrations"
	}
	return filepath.Join(filepath.Dir(exe), "migrations")
}

// eventSchemaDSN returns the managed-mode DSN. The event schema only lives in
// Postgres; standalone SQLite creates its table on open.
func eventSchemaDSN() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	if !cfg.IsManagedMode() {
		return "", errors.New("migrations apply to managed mode only: set database.mode to \"managed\" and RSVPBOT_POSTGRES_DSN")
	}
	return cfg.Database.PostgresDSN, nil
}

// withMigrator opens a migrator over the event schema, runs fn and reports
// the resulting version.
func withMigrator(action string, fn func(m *migrate.Migrate) error) error {
	dsn, err := eventSchemaDSN()
	if err != nil {
		return err
	}
	m, err := migrate.New("file://"+resolveMigrationsDir(), dsn)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", action, err)
	}
	v, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read version: %w", err)
	}
	slog.Info(action+" complete", "version", v, "dirty", dirty, "required", upgrade.RequiredSchemaVersion)
	return nil
}

// checkTargetVersion rejects versions this binary has no migration for.
func checkTargetVersion(arg string) (uint, error) {
	v, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", arg, err)
	}
	if uint(v) > upgrade.RequiredSchemaVersion {
		return 0, fmt.Errorf("version %d is above the event schema version %d", v, upgrade.RequiredSchemaVersion)
	}
	return uint(v), nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres event schema (managed mode)",
	}
	cmd.PersistentFlags().StringVar(&migrationsDir, "migrations-dir", "", "path to migrations directory (default: ./migrations)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Migrate the event schema to the version this binary requires",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator("migrate up", func(m *migrate.Migrate) error {
				return m.Migrate(upgrade.RequiredSchemaVersion)
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back event schema migrations (default: 1 step)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator("migrate down", func(m *migrate.Migrate) error {
				return m.Steps(-max(steps, 1))
			})
		},
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "number of steps to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Mark the schema as being at version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := checkTargetVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator("migrate force", func(m *migrate.Migrate) error {
				return m.Force(int(v))
			})
		},
	})

	cmd.AddCommand(migrateStatusCmd())
	return cmd
}

func migrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Aliases: []string{"version"},
		Short:   "Compare the event schema with the version this binary requires",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := eventSchemaDSN()
			if err != nil {
				return err
			}
			db, err := sql.Open("pgx", dsn)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer db.Close()

			s, err := upgrade.CheckSchema(db)
			if err != nil {
				return fmt.Errorf("check schema: %w", err)
			}
			fmt.Printf("  Schema current:  %d\n", s.CurrentVersion)
			fmt.Printf("  Schema required: %d\n", s.RequiredVersion)
			if err := s.Err(); err != nil {
				fmt.Println()
				fmt.Print(upgrade.FormatError(s))
				return err
			}
			fmt.Println("  Status:          UP TO DATE")
			return nil
		},
	}
}
