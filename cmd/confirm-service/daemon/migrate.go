package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // PGX driver for golang-migrate
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
)

func installMigrateCmd(app *App) {
	migrateCmd := &cobra.Command{
		Use:   "migrate [path-to-migration-scripts]",
		Short: "Create or update the participation records table",
		Long: `Run the migration scripts of the given directory against the participation datastore.
The datastore URL and service key are read like for the service itself.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("migrate command accepts exactly one argument")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app.cmd.SilenceUsage = false

			dir := args[0]
			fileInfo, err := os.Stat(dir)
			if err != nil {
				return fmt.Errorf("the provided path to migration scripts is not valid: %v", err)
			}
			if !fileInfo.IsDir() {
				return fmt.Errorf("the provided path to migration scripts should be a directory, not a file")
			}

			app.cmd.SilenceUsage = true

			slog.Info("Running migrate command")
			return app.migrateRun(dir)
		},
	}
	app.cmd.AddCommand(migrateCmd)
}

func (a App) migrateRun(dir string) error {
	if !a.config.Datastore.Complete() {
		return errors.New("datastore URL and service key are required to run migrations")
	}

	dsn, err := a.config.Datastore.DSN()
	if err != nil {
		return err
	}
	// golang-migrate selects its driver from the URL scheme.
	u, err := url.Parse(dsn)
	if err != nil {
		return fmt.Errorf("invalid datastore URL: %v", err)
	}
	u.Scheme = "pgx5"

	m, err := migrate.New("file://"+dir, u.String())
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %v", err)
	}
	defer func() {
		if sErr, dbErr := m.Close(); sErr != nil || dbErr != nil {
			if sErr != nil {
				slog.Error("failed to close migration instance", "error", sErr)
			}
			if dbErr != nil {
				slog.Error("failed to close database connection", "error", dbErr)
			}
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("No new migrations to apply")
			return nil
		}

		return fmt.Errorf("failed to apply migrations: %v", err)
	}
	slog.Info("Migrations applied successfully")
	return nil
}
