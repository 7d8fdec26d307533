package postgresql

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// RunMigrations applies every pending migration found in dir of source.
// A database left dirty by a previous failed migration is reported, not forced.
func (c *Client) RunMigrations(source fs.FS, dir string) error {
	migrator, err := c.newMigrator(source, dir)
	if err != nil {
		return err
	}
	defer func() {
		if srcErr, dbErr := migrator.Close(); srcErr != nil || dbErr != nil {
			c.logger.Warn("Failed to close migrator",
				slog.Any("source_error", srcErr),
				slog.Any("database_error", dbErr),
			)
		}
	}()

	version, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		return fmt.Errorf("database is in dirty state at version %d, fix it manually (e.g. 'migrate force <version>')", version)
	}

	c.logger.Info("Running database migrations",
		slog.Uint64("current_version", uint64(version)),
	)

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	c.logger.Info("Database migrations completed successfully")
	return nil
}

func (c *Client) newMigrator(source fs.FS, dir string) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(source, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	// The migrator gets its own connection; closing it must not close c.db.
	migrator, err := migrate.NewWithSourceInstance("iofs", sourceDriver, c.dataSourceName())
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return migrator, nil
}
