package store

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Migrator applies the embedded base schema. It owns its own connection,
// which Close releases.
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator opens a dedicated connection described by cfg and prepares the
// migrations for its dialect.
func NewMigrator(cfg Config) (*Migrator, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := openSQL(dialect, cfg.DSN)
	if err != nil {
		return nil, err
	}

	var driver database.Driver
	switch dialect {
	case Postgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	case SQLite:
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations/"+string(dialect))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, string(dialect), driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return &Migrator{m: m}, nil
}

// Up applies every pending migration.
func (mg *Migrator) Up() error {
	log.Info().Msg("Applying migrations...")
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	log.Info().Msg("Migrations applied successfully")
	return nil
}

// Down reverts every applied migration.
func (mg *Migrator) Down() error {
	log.Info().Msg("Reverting migrations...")
	if err := mg.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to revert migrations: %w", err)
	}
	log.Info().Msg("Migrations reverted successfully")
	return nil
}

// Force sets the recorded version without running anything.
func (mg *Migrator) Force(version int) error {
	log.Info().Int("version", version).Msg("Forcing migration version...")
	if err := mg.m.Force(version); err != nil {
		return fmt.Errorf("failed to force migration version: %w", err)
	}
	return nil
}

// Version returns the current schema version and whether it is dirty.
func (mg *Migrator) Version() (uint, bool, error) {
	v, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}

// Prepare brings a database to the current schema: the base migrations and
// then the evolved columns.
func Prepare(ctx context.Context, cfg Config, db *DB) (*EvolutionReport, error) {
	mg, err := NewMigrator(cfg)
	if err != nil {
		return nil, err
	}
	defer mg.Close()

	if err := mg.Up(); err != nil {
		return nil, err
	}
	return EvolveSchema(ctx, db, TenantColumns), nil
}
