package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/hamychatgpt/Rasad-v2/internal/config"
	"github.com/hamychatgpt/Rasad-v2/internal/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// withMigrate opens a dedicated connection for fn. The migrate driver closes
// the connection it was given, so it never shares the application pool.
func withMigrate(cfg config.DatabaseConfig, fn func(*migrate.Migrate) error) error {
	db, err := sql.Open("pgx", cfg.BuildDSN())
	if err != nil {
		return fmt.Errorf("open database connection: %w", err)
	}
	defer db.Close()

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("create migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	return fn(m)
}

// MigrateUp applies every pending migration.
func MigrateUp(cfg config.DatabaseConfig, log logger.Logger) error {
	return withMigrate(cfg, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				log.Info("No pending migrations")
				return nil
			}
			return fmt.Errorf("run migrations: %w", err)
		}
		log.Info("Migrations applied successfully")
		return nil
	})
}

// MigrateDown rolls back steps migrations, one when steps is not positive.
func MigrateDown(cfg config.DatabaseConfig, steps int, log logger.Logger) error {
	if steps <= 0 {
		steps = 1
	}
	return withMigrate(cfg, func(m *migrate.Migrate) error {
		if err := m.Steps(-steps); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				log.Info("No migrations to roll back")
				return nil
			}
			return fmt.Errorf("roll back migrations: %w", err)
		}
		log.Info("Migrations rolled back", logger.Int("steps", steps))
		return nil
	})
}

// MigrationVersion reports the applied version; zero when none ran yet.
func MigrationVersion(cfg config.DatabaseConfig) (version uint, dirty bool, err error) {
	err = withMigrate(cfg, func(m *migrate.Migrate) error {
		var verr error
		version, dirty, verr = m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			return nil
		}
		if verr != nil {
			return fmt.Errorf("get migration version: %w", verr)
		}
		return nil
	})
	return version, dirty, err
}
