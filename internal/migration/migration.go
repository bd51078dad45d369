package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

var errNoHandle = errors.New("migration database handle is required")

// RunMigrations applies the embedded postgres migrations on the shared handle
// and logs the resulting schema version.
func RunMigrations(db *sql.DB, log *zap.Logger) error {
	if db == nil {
		return errNoHandle
	}
	if log == nil {
		log = zap.NewNop()
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	before, _, _ := migrator.Version()
	upErr := migrator.Up()
	switch {
	case errors.Is(upErr, migrate.ErrNoChange):
		log.Debug("schema.up_to_date", zap.Uint("version", before))
		return nil
	case upErr != nil:
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB

	after, dirty, err := migrator.Version()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", after)
	}
	log.Info("schema.migrated",
		zap.Uint("from_version", before),
		zap.Uint("to_version", after),
	)
	return nil
}
